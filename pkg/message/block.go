package message

import (
	"encoding/json"
	"strings"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is a flat union representing one piece of content inside a message.
// The Type field discriminates which fields are meaningful.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Content  string    `json:"content,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	URL      string    `json:"url,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
}

// MarshalJSON implements json.Marshaler.
// It enforces union semantics: tool_call is only emitted on tool_call blocks,
// url/mime_type only on image blocks, and text-bearing blocks always carry content.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	type alias ContentBlock
	normalized := b

	if normalized.Type != BlockToolCall {
		normalized.ToolCall = nil
	}
	if normalized.Type != BlockImage {
		normalized.URL = ""
		normalized.MIMEType = ""
	}

	switch normalized.Type {
	case BlockThought, BlockText:
		// Keep "content" present even when empty.
		return json.Marshal(struct {
			Type    BlockType `json:"type"`
			Content string    `json:"content"`
		}{normalized.Type, normalized.Content})
	default:
		return json.Marshal(alias(normalized))
	}
}

// NewThoughtBlock creates a reasoning block.
func NewThoughtBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockThought, Content: text}
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Content: text}
}

// NewToolCallBlock creates a tool call block.
func NewToolCallBlock(call ToolCall) ContentBlock {
	cp := call
	if call.Arguments != nil {
		cp.Arguments = make(json.RawMessage, len(call.Arguments))
		copy(cp.Arguments, call.Arguments)
	}
	return ContentBlock{Type: BlockToolCall, ToolCall: &cp}
}

// NewImageBlock creates an image content block.
func NewImageBlock(url, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockImage, URL: url, MIMEType: mimeType}
}

// textContent concatenates the content of all text blocks.
func textContent(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}
