package interceptor

import (
	"context"
	"strings"
)

// ResponseStampStage writes the chain's standard correlation/trace/config
// headers onto the buffered response, plus X-Obligations and
// X-Idempotent-Replay when applicable. It always runs last among the
// response stages.
type ResponseStampStage struct{}

func (ResponseStampStage) Name() string { return "ResponseStamp" }

func (ResponseStampStage) HandleResponse(_ context.Context, ic *Context) error {
	ic.ResponseHeaders[RequestIDHeaderName] = ic.RequestID
	ic.ResponseHeaders["X-Trace-Id"] = ic.TraceID
	if ic.ConfigVersion != nil {
		ic.ResponseHeaders[ConfigVersionHeader] = *ic.ConfigVersion
	}
	if ic.ConfigCheck != nil {
		ic.ResponseHeaders[ConfigChecksumHeader] = *ic.ConfigCheck
	}
	if len(ic.Obligations) > 0 {
		kinds := make([]string, len(ic.Obligations))
		for i, ob := range ic.Obligations {
			kinds[i] = string(ob.Kind)
		}
		ic.ResponseHeaders["X-Obligations"] = strings.Join(kinds, ",")
	}
	if ic.IdempotencyReplay {
		ic.ResponseHeaders["X-Idempotent-Replay"] = "true"
	}
	return nil
}
