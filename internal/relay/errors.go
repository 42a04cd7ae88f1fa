package relay

import (
	"context"
	"errors"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/workflow"
)

// Sentinel errors.
var (
	// ErrUpstream wraps failures of the selected upstream arms.
	ErrUpstream = errors.New("upstream error")

	// ErrInvalidRequest marks requests that are malformed or that an
	// upstream rejected as such.
	ErrInvalidRequest = errors.New("invalid request")

	// errEmptyResponse is returned when a stream ends without content.
	errEmptyResponse = errors.New("upstream returned no content")
)

// API error codes.
const (
	CodeOverloaded      = "GATEWAY_OVERLOADED"
	CodeNoAvailableArms = "NO_AVAILABLE_ARMS"
	CodeUpstream        = "UPSTREAM_ERROR"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeCanceled        = "CANCELED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInternal        = "INTERNAL_ERROR"
)

// Code classifies err into an API error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, workflow.ErrCanceled), errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, admission.ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, quota.ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, provider.ErrBadRequest),
		errors.Is(err, provider.ErrContextLength):
		return CodeInvalidRequest
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	case errors.Is(err, routing.ErrNoAvailableArms):
		return CodeNoAvailableArms
	default:
		return CodeInternal
	}
}
