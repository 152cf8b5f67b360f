package tx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPSagaParticipant executes and compensates saga steps by POSTing the
// saga instance as JSON to the step's action/compensate URI, mirroring
// the outbox transports' plain net/http POST style (transport_slack.go,
// transport_mattermost.go) generalized to a fire-and-check-status call.
// A 2xx response means the step succeeded; anything else is a failure, on
// which the orchestrator compensates the steps already done (the failed
// step is not retried).
type HTTPSagaParticipant struct {
	Client *http.Client
}

func NewHTTPSagaParticipant() *HTTPSagaParticipant {
	return &HTTPSagaParticipant{Client: &http.Client{}}
}

func (p *HTTPSagaParticipant) Execute(ctx context.Context, uri string, saga SagaInstance) (bool, error) {
	return p.post(ctx, uri, saga)
}

func (p *HTTPSagaParticipant) Compensate(ctx context.Context, uri string, saga SagaInstance) (bool, error) {
	return p.post(ctx, uri, saga)
}

func (p *HTTPSagaParticipant) post(ctx context.Context, uri string, saga SagaInstance) (bool, error) {
	body, err := json.Marshal(saga)
	if err != nil {
		return false, fmt.Errorf("tx: marshaling saga step payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("tx: building saga step request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("tx: calling saga step %s: %w", uri, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
