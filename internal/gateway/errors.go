package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/telemetry"
)

// Gateway-local error codes. Relay codes come from relay.Code.
const (
	codeUnauthorized = "UNAUTHORIZED"
	codeRateLimited  = "RATE_LIMITED"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeUnavailable  = "UNAVAILABLE"
)

// StatusClientClosedRequest is the non-standard status used for requests
// the client canceled.
const StatusClientClosedRequest = 499

// errorSource tags every error body produced by this package.
const errorSource = "gateway"

// ErrorBody is the JSON error returned by every endpoint.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Source    string `json:"source"`
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case relay.CodeOverloaded, relay.CodeNoAvailableArms, codeUnavailable:
		return http.StatusServiceUnavailable
	case relay.CodeUpstream:
		return http.StatusBadGateway
	case relay.CodeQuotaExceeded, codeRateLimited:
		return http.StatusTooManyRequests
	case relay.CodeCanceled:
		return StatusClientClosedRequest
	case relay.CodeInvalidRequest:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeNotFound:
		return http.StatusNotFound
	case codeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the body for err classified as code. Internal errors
// never leak their message.
func (g *Gateway) errorBody(r *http.Request, code string, err error) ErrorBody {
	msg := "internal error"
	if code != relay.CodeInternal && err != nil {
		msg = g.redactor.Redact(err.Error())
	}
	reqID := requestIDFrom(r.Context())
	return ErrorBody{
		Code:      code,
		Message:   msg,
		Source:    errorSource,
		TraceID:   traceIDFor(r, err, reqID),
		RequestID: reqID,
	}
}

// traceIDFor picks the id clients quote when reporting an error: the id
// an admission rejection was logged with, then the active span, then the
// request id.
func traceIDFor(r *http.Request, err error, reqID string) string {
	var oe *admission.OverloadedError
	if errors.As(err, &oe) && oe.TraceID != "" {
		return oe.TraceID
	}
	if id := telemetry.TraceID(r.Context()); id != "" {
		return id
	}
	return reqID
}

// writeError writes err as a JSON error body with the mapped status.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	if code == relay.CodeInternal {
		telemetry.Logger(r.Context(), g.logger).Error("request failed",
			"path", r.URL.Path, "request_id", requestIDFrom(r.Context()), "error", err)
	}
	status := statusFor(code)
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, g.errorBody(r, code, err))
}

// writeRelayError classifies a relay error and writes it.
func (g *Gateway) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	code := relay.Code(err)
	g.stats.RecordError(code)
	g.writeError(w, r, code, err)
}

// decodeBody reads a JSON request body within the configured limits.
func (g *Gateway) decodeBody(r *http.Request, v any) error {
	err := security.DecodeJSONBody(r.Body, g.config.MaxBodySize, g.config.MaxJSONDepth, v)
	if err != nil {
		return fmt.Errorf("%w: %w", relay.ErrInvalidRequest, err)
	}
	return nil
}

// writeJSON encodes v as JSON with the given status code. The body is
// marshaled before the header is written, so a value that cannot be
// encoded yields a 500 error body instead of an empty success.
func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorBody{Code: relay.CodeInternal, Message: "internal error", Source: errorSource})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
