// Package message defines the normalized content format the gateway returns
// regardless of which upstream produced the response.
package message

// Role identifies the author of a message.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the variant stored in a ContentBlock.
type BlockType string

// Supported block types.
const (
	BlockThought  BlockType = "thought"
	BlockText     BlockType = "text"
	BlockToolCall BlockType = "tool_call"
	BlockImage    BlockType = "image"
)

// Usage reports token consumption for one upstream call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is a normalized message: an ordered list of typed blocks.
type Message struct {
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Text concatenates the content of every text block.
func (m Message) Text() string {
	return textContent(m.Content)
}

// Blocks returns the blocks of the given type, in order.
func (m Message) Blocks(t BlockType) []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}

// WithoutThoughts returns a copy of m with thought blocks removed.
func (m Message) WithoutThoughts() Message {
	cp := m
	cp.Content = make([]ContentBlock, 0, len(m.Content))
	for _, b := range m.Content {
		if b.Type != BlockThought {
			cp.Content = append(cp.Content, b)
		}
	}
	return cp
}
