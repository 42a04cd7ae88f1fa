package provider

import (
	"encoding/json"
	"io"

	"github.com/flemzord/sgate/pkg/message"
)

// Capability names a kind of upstream call.
type Capability string

// Capability constants.
const (
	CapabilityChat  Capability = "chat"
	CapabilityImage Capability = "image"
)

// LLMMessage represents a single message in a conversation.
type LLMMessage struct {
	Role       message.Role `json:"role"`
	Content    string       `json:"content"`
	Name       string       `json:"name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Call is one upstream invocation. Model is the provider-side model id of
// the selected arm.
type Call struct {
	Capability Capability
	Model      string

	// Chat.
	Messages    []LLMMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string

	// Image generation.
	Prompt string
	N      int
	Size   string
}

// Response carries either a raw event stream or a complete message.
// Stream must be closed by the caller.
type Response struct {
	Stream  io.ReadCloser
	Message *message.Message
}

// Close releases the stream, if any.
func (r *Response) Close() error {
	if r == nil || r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}
