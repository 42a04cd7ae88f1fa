// Package stream turns an incremental provider event stream into a
// normalized message. It tolerates keep-alives, comments, and malformed
// lines by skipping them rather than failing the stream.
package stream

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/flemzord/sgate/pkg/message"
)

// maxLineSize caps a single buffered event line. Longer lines are dropped.
const maxLineSize = 1 * 1024 * 1024 // 1 MB

// maxToolCallArgs caps the accumulated arguments of one tool call.
const maxToolCallArgs = 1 * 1024 * 1024 // 1 MB

// doneMarker is the terminal sentinel sent by OpenAI-style streams.
const doneMarker = "[DONE]"

// Delta is one incremental piece of content extracted from the stream,
// in arrival order. Kind is thought, text, or tool_call.
type Delta struct {
	Kind  message.BlockType `json:"kind"`
	Text  string            `json:"text,omitempty"`
	Index int               `json:"index,omitempty"`
}

// streamEvent is the subset of an event payload the accumulator reads.
// Both the choices[0].delta shape and a bare top-level delta are accepted.
type streamEvent struct {
	Choices []struct {
		Delta        eventDelta `json:"delta"`
		FinishReason *string    `json:"finish_reason"`
	} `json:"choices"`
	Delta        *eventDelta    `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
	Usage        *message.Usage `json:"usage"`
}

type eventDelta struct {
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
	Reasoning        string          `json:"reasoning"`
	Thinking         string          `json:"thinking"`
	ToolCalls        []toolCallDelta `json:"tool_calls"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// pendingToolCall accumulates streaming tool call fragments.
type pendingToolCall struct {
	id       string
	name     string
	args     strings.Builder
	overflow bool
}

// Accumulator parses an ordered sequence of byte chunks carrying
// "data:"-prefixed JSON events. It keeps state across Feed calls, so the
// caller may wait on the network between chunks. One Accumulator serves
// exactly one request and must be fed from a single goroutine.
type Accumulator struct {
	partial []byte
	discard bool // dropping the rest of an oversize line

	thought strings.Builder
	text    strings.Builder
	tools   map[int]*pendingToolCall

	usage        *message.Usage
	finishReason string
	done         bool
	skipped      int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{tools: make(map[int]*pendingToolCall)}
}

// Feed consumes the next chunk and returns the deltas it completed, in
// arrival order. A line split across chunks is held until its newline
// arrives. Feeding after the terminal marker is a no-op.
func (a *Accumulator) Feed(chunk []byte) []Delta {
	if a.done {
		return nil
	}

	var out []Delta
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			a.buffer(chunk)
			break
		}
		a.buffer(chunk[:i])
		chunk = chunk[i+1:]

		if a.discard {
			a.discard = false
			a.partial = a.partial[:0]
			continue
		}
		line := a.partial
		a.partial = nil
		out = a.processLine(line, out)
		if a.done {
			break
		}
	}
	return out
}

// Close flushes a trailing line that never received its newline.
func (a *Accumulator) Close() []Delta {
	if a.done || a.discard || len(a.partial) == 0 {
		a.partial = nil
		a.discard = false
		return nil
	}
	line := a.partial
	a.partial = nil
	return a.processLine(line, nil)
}

// buffer appends to the partial line, switching to discard mode on overflow.
func (a *Accumulator) buffer(b []byte) {
	if a.discard {
		return
	}
	if len(a.partial)+len(b) > maxLineSize {
		a.discard = true
		a.skipped++
		a.partial = a.partial[:0]
		return
	}
	a.partial = append(a.partial, b...)
}

// processLine handles a single complete line. Anything that is not a
// well-formed data event is skipped.
func (a *Accumulator) processLine(raw []byte, out []Delta) []Delta {
	line := strings.TrimRight(string(raw), "\r")
	if line == "" {
		return out
	}
	// SSE comments and keep-alives.
	if strings.HasPrefix(line, ":") {
		return out
	}
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// event:, id:, retry: and stray text carry no content.
		return out
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return out
	}
	if data == doneMarker {
		a.done = true
		return out
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		a.skipped++
		return out
	}

	if ev.Usage != nil {
		u := *ev.Usage
		a.usage = &u
	}
	if ev.FinishReason != nil && *ev.FinishReason != "" {
		a.finishReason = *ev.FinishReason
	}
	if ev.Delta != nil {
		out = a.applyDelta(*ev.Delta, out)
	}
	if len(ev.Choices) > 0 {
		choice := ev.Choices[0]
		out = a.applyDelta(choice.Delta, out)
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			a.finishReason = *choice.FinishReason
		}
	}
	return out
}

func (a *Accumulator) applyDelta(d eventDelta, out []Delta) []Delta {
	if r := firstNonEmpty(d.ReasoningContent, d.Reasoning, d.Thinking); r != "" {
		a.thought.WriteString(r)
		out = append(out, Delta{Kind: message.BlockThought, Text: r})
	}
	if d.Content != "" {
		a.text.WriteString(d.Content)
		out = append(out, Delta{Kind: message.BlockText, Text: d.Content})
	}
	for _, tc := range d.ToolCalls {
		p, ok := a.tools[tc.Index]
		if !ok {
			p = &pendingToolCall{}
			a.tools[tc.Index] = p
		}
		if tc.ID != "" {
			p.id = tc.ID
		}
		if tc.Function.Name != "" {
			p.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" && !p.overflow {
			if p.args.Len()+len(tc.Function.Arguments) > maxToolCallArgs {
				p.overflow = true
				a.skipped++
				continue
			}
			p.args.WriteString(tc.Function.Arguments)
		}
		out = append(out, Delta{Kind: message.BlockToolCall, Text: tc.Function.Arguments, Index: tc.Index})
	}
	return out
}

// Text returns the accumulated final text so far.
func (a *Accumulator) Text() string { return a.text.String() }

// Thought returns the accumulated reasoning text so far.
func (a *Accumulator) Thought() string { return a.thought.String() }

// Done reports whether the terminal marker was seen.
func (a *Accumulator) Done() bool { return a.done }

// Skipped returns how many malformed or oversize lines were dropped.
func (a *Accumulator) Skipped() int { return a.skipped }

// Usage returns the token usage reported by the stream, if any.
func (a *Accumulator) Usage() *message.Usage { return a.usage }

// Message builds the normalized message. A thought block, when reasoning
// was observed, precedes the text block; tool calls follow in stream index order.
func (a *Accumulator) Message() message.Message {
	msg := message.Message{
		Role:         message.RoleAssistant,
		FinishReason: a.finishReason,
		Usage:        a.usage,
	}
	if a.thought.Len() > 0 {
		msg.Content = append(msg.Content, message.NewThoughtBlock(a.thought.String()))
	}
	if a.text.Len() > 0 || len(a.tools) == 0 {
		msg.Content = append(msg.Content, message.NewTextBlock(a.text.String()))
	}

	indices := make([]int, 0, len(a.tools))
	for idx := range a.tools {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		p := a.tools[idx]
		msg.Content = append(msg.Content, message.NewToolCallBlock(message.ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: p.arguments(),
		}))
	}
	return msg
}

// arguments returns the accumulated arguments as JSON. Arguments that do
// not parse, because the upstream cut them short or they overflowed, are
// carried as a JSON string holding the raw text.
func (p *pendingToolCall) arguments() json.RawMessage {
	if p.args.Len() == 0 {
		return nil
	}
	raw := p.args.String()
	if !p.overflow && json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
