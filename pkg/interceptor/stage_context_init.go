package interceptor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/agentcore/pkg/configsnap"
	"github.com/wisbric/agentcore/pkg/envelope"
)

// TenantHeaderName, ConsentHeaderName, and RequestIDHeaderName are the
// wire header names the ContextInit stage reads.
const (
	TenantHeaderName     = "X-Soul-Tenant"
	ConsentHeaderName    = "X-Consent-Token"
	RequestIDHeaderName  = "X-Request-Id"
	ConfigVersionHeader  = "X-Config-Version"
	ConfigChecksumHeader = "X-Config-Checksum"
)

// ContextInitStage derives request_id, trace context, tenant/consent
// headers, the config fingerprint, and the envelope seed — the first
// stage in every chain.
type ContextInitStage struct {
	Config configsnap.Provider // nil means fall back to config headers only
}

func (ContextInitStage) Name() string { return "ContextInit" }

func (s ContextInitStage) HandleRequest(_ context.Context, req Request, ic *Context) (StageOutcome, error) {
	ic.RequestID = firstNonEmpty(req.Header(RequestIDHeaderName), uuid.NewString())
	ic.TraceID = firstNonEmpty(req.Header("traceparent"), uuid.NewString())
	ic.TenantHeader = envelope.TenantID(req.Header(TenantHeaderName))
	ic.ConsentToken = req.Header(ConsentHeaderName)

	if s.Config != nil {
		version, checksum := s.Config.Fingerprint()
		ic.ConfigVersion = &version
		ic.ConfigCheck = &checksum
	} else {
		if v := req.Header(ConfigVersionHeader); v != "" {
			ic.ConfigVersion = &v
		}
		if v := req.Header(ConfigChecksumHeader); v != "" {
			ic.ConfigCheck = &v
		}
	}

	firstSegment := ""
	for _, seg := range splitPath(req.Path()) {
		firstSegment = seg
		break
	}
	ic.Seed = EnvelopeSeed{
		CorrelationID: ic.RequestID,
		CausationID:   ic.RequestID,
		PartitionKey:  string(ic.TenantHeader) + ":" + firstSegment,
		ProducedAtMs:  time.Now().UnixMilli(),
	}

	return Continue, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
