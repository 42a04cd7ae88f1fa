package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/stream"
)

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string                    `json:"model"`
	Messages    []provider.LLMMessage     `json:"messages"`
	Tools       []provider.ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int                       `json:"max_tokens,omitempty"`
	Temperature *float64                  `json:"temperature,omitempty"`
	TopP        *float64                  `json:"top_p,omitempty"`
	Stop        []string                  `json:"stop,omitempty"`
	Stream      bool                      `json:"stream,omitempty"`
}

// ImageRequest is the body of POST /v1/images/generations.
type ImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

// CancelResponse acknowledges POST /v1/requests/{id}/cancel.
type CancelResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (c ChatRequest) call() provider.Call {
	return provider.Call{
		Capability:  provider.CapabilityChat,
		Messages:    c.Messages,
		Tools:       c.Tools,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
		Stop:        c.Stop,
	}
}

// relayRequest builds the relay request for the authenticated caller.
func relayRequest(c caller, id, model string, call provider.Call) relay.Request {
	return relay.Request{
		ID:      id,
		Channel: c.Channel,
		Account: c.Account,
		APIKey:  c.APIKey,
		Model:   model,
		Call:    call,
	}
}

func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := callerFrom(r.Context())
		var body ChatRequest
		if err := g.decodeBody(r, &body); err != nil {
			g.writeRelayError(w, r, err)
			return
		}
		req := relayRequest(c, requestIDFrom(r.Context()), body.Model, body.call())

		if body.Stream {
			g.serveSSE(w, r, req)
			return
		}
		g.serve(w, r, req)
	}
}

func (g *Gateway) handleImages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := callerFrom(r.Context())
		var body ImageRequest
		if err := g.decodeBody(r, &body); err != nil {
			g.writeRelayError(w, r, err)
			return
		}
		g.serve(w, r, relayRequest(c, requestIDFrom(r.Context()), body.Model, provider.Call{
			Capability: provider.CapabilityImage,
			Prompt:     body.Prompt,
			N:          body.N,
			Size:       body.Size,
		}))
	}
}

// serve runs req to completion and writes the response as one JSON body.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, req relay.Request) {
	start := g.now()
	resp, err := g.relay.Handle(r.Context(), req)
	if err != nil {
		g.writeRelayError(w, r, err)
		return
	}
	g.stats.RecordCompletion(totalTokens(resp), g.now().Sub(start))
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := callerFrom(r.Context())
		id := chi.URLParam(r, "id")
		if !validRequestID(id) {
			g.writeError(w, r, relay.CodeInvalidRequest, fmt.Errorf("%w: malformed request id", relay.ErrInvalidRequest))
			return
		}
		if err := g.relay.Cancel(r.Context(), c.Channel, c.Account, id); err != nil {
			g.writeError(w, r, relay.CodeInternal, err)
			return
		}
		writeJSON(w, http.StatusAccepted, CancelResponse{RequestID: id, Status: "cancel_requested"})
	}
}

func totalTokens(resp *relay.Response) int {
	if resp == nil || resp.Message.Usage == nil {
		return 0
	}
	return resp.Message.Usage.TotalTokens
}

// Server-sent event names.
const (
	eventDelta = "delta"
	eventDone  = "done"
	eventError = "error"
)

// sseWriter serializes events onto a streaming response. Headers are
// committed on the first event so that failures before any output still
// get a regular error status.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	err     error
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) send(event string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.err = err
		return
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.err = err
		return
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.err = err
	}
}

func (s *sseWriter) hasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// serveSSE streams normalized deltas as server-sent events, then a final
// done event carrying the full response.
func (g *Gateway) serveSSE(w http.ResponseWriter, r *http.Request, req relay.Request) {
	g.stats.RecordStream()
	sse := newSSEWriter(w)
	req.Sink = func(d stream.Delta) { sse.send(eventDelta, d) }

	start := g.now()
	resp, err := g.relay.Handle(r.Context(), req)
	if err != nil {
		if !sse.hasStarted() {
			g.writeRelayError(w, r, err)
			return
		}
		code := relay.Code(err)
		g.stats.RecordError(code)
		sse.send(eventError, g.errorBody(r, code, err))
		return
	}
	g.stats.RecordCompletion(totalTokens(resp), g.now().Sub(start))
	sse.send(eventDone, resp)
}
