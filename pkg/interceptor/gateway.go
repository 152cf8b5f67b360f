package interceptor

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// httpRequest adapts an *http.Request to Request, reading and caching
// the body at most once regardless of how many stages call Body,
// mirroring the reference adapter's single-read contract.
type httpRequest struct {
	r *http.Request

	once sync.Once
	body []byte
	err  error
}

func newHTTPRequest(r *http.Request) *httpRequest {
	return &httpRequest{r: r}
}

func (h *httpRequest) Method() string { return h.r.Method }

func (h *httpRequest) Path() string {
	if rc := chi.RouteContext(h.r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return h.r.URL.Path
}

func (h *httpRequest) Header(name string) string { return h.r.Header.Get(name) }

func (h *httpRequest) Body(_ context.Context) ([]byte, error) {
	h.once.Do(func() {
		if h.r.Body == nil {
			return
		}
		h.body, h.err = io.ReadAll(h.r.Body)
		_ = h.r.Body.Close()
	})
	return h.body, h.err
}

// httpResponse adapts an http.ResponseWriter to Response. The chain
// flushes status/headers/body exactly once at the end of Run, so this
// adapter does not need its own buffering.
type httpResponse struct {
	w       http.ResponseWriter
	headers map[string]string
	status  int
}

func newHTTPResponse(w http.ResponseWriter) *httpResponse {
	return &httpResponse{w: w, headers: map[string]string{}, status: http.StatusOK}
}

func (h *httpResponse) SetStatus(code int) { h.status = code }

func (h *httpResponse) SetHeader(name, value string) { h.headers[name] = value }

func (h *httpResponse) Write(body []byte) (int, error) {
	for name, value := range h.headers {
		h.w.Header().Set(name, value)
	}
	if h.w.Header().Get("Content-Type") == "" {
		h.w.Header().Set("Content-Type", "application/json")
	}
	h.w.WriteHeader(h.status)
	return h.w.Write(body)
}

// Gateway adapts a Chain into an http.Handler, the reference HTTP binding
// for mounting the chain under a chi sub-router the way
// internal/httpserver/server.go mounts /api/v1.
type Gateway struct {
	Chain   *Chain
	Handler Handler
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := newHTTPRequest(r)
	resp := newHTTPResponse(w)
	_ = g.Chain.Run(r.Context(), req, resp, g.Handler)
}

// Mount attaches the gateway at pattern on router, the way domain
// handlers are mounted onto Server.APIRouter in internal/httpserver.
func Mount(router chi.Router, pattern string, gw *Gateway) {
	router.Handle(pattern, gw)
}
