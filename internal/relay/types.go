package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/stream"
	"github.com/flemzord/sgate/internal/workflow"
	"github.com/flemzord/sgate/pkg/message"
)

// Request is one client request entering the relay.
type Request struct {
	ID      string
	Channel workflow.Channel
	// Account owns the usage quota.
	Account string
	// APIKey owns the token budget. Empty skips budget accounting.
	APIKey string
	// Model is the public model name routed on.
	Model string
	Call  provider.Call

	// Sink, if set, receives normalized deltas as they are parsed.
	Sink func(stream.Delta)
}

func (r Request) validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("request id is required"))
	}
	if !r.Channel.Valid() {
		errs = append(errs, fmt.Errorf("unknown channel %q", r.Channel))
	}
	if r.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	switch r.Call.Capability {
	case provider.CapabilityChat:
		if len(r.Call.Messages) == 0 {
			errs = append(errs, errors.New("messages are required"))
		}
	case provider.CapabilityImage:
		if r.Call.Prompt == "" {
			errs = append(errs, errors.New("prompt is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capability %q", r.Call.Capability))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Response is the normalized result of a request.
type Response struct {
	RequestID string          `json:"request_id"`
	Model     string          `json:"model"`
	ArmID     string          `json:"arm_id"`
	Message   message.Message `json:"message"`

	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Diagnostics describes how a request was served. Only internal callers
// receive it.
type Diagnostics struct {
	Provider        string        `json:"provider"`
	InstanceID      string        `json:"instance_id"`
	ProviderModelID string        `json:"provider_model_id"`
	Explored        bool          `json:"explored"`
	Score           float64       `json:"score"`
	Attempts        int           `json:"attempts"`
	FailedArms      []string      `json:"failed_arms,omitempty"`
	Latency         time.Duration `json:"latency_ns"`
	Cost            float64       `json:"cost"`
	SkippedChunks   int           `json:"skipped_chunks"`
}
