package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/flemzord/sgate/pkg/message"
)

func feedAll(a *Accumulator, chunks ...string) []Delta {
	var out []Delta
	for _, c := range chunks {
		out = append(out, a.Feed([]byte(c))...)
	}
	return append(out, a.Close()...)
}

func TestAccumulator_ChunkBoundaryIndependence(t *testing.T) {
	t.Parallel()

	data := "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"think \"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"more\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n" +
		": keep-alive\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n"

	whole := NewAccumulator()
	feedAll(whole, data)
	want := whole.Message()

	// Every split point must produce the same final message.
	for i := 1; i < len(data); i++ {
		a := NewAccumulator()
		feedAll(a, data[:i], data[i:])
		got := a.Message()
		if got.Text() != want.Text() {
			t.Fatalf("split %d: text = %q, want %q", i, got.Text(), want.Text())
		}
		if a.Thought() != "think more" {
			t.Fatalf("split %d: thought = %q", i, a.Thought())
		}
		if got.FinishReason != "stop" {
			t.Fatalf("split %d: finish_reason = %q", i, got.FinishReason)
		}
	}

	// Byte-at-a-time feeding.
	a := NewAccumulator()
	for i := 0; i < len(data); i++ {
		a.Feed([]byte{data[i]})
	}
	if a.Text() != "Hello world" {
		t.Errorf("byte-wise text = %q", a.Text())
	}
}

func TestAccumulator_MessageOrder(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a,
		"data: {\"choices\":[{\"delta\":{\"content\":\"answer\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"thinking\":\"plan\"}}]}\n",
		"data: [DONE]\n",
	)

	msg := a.Message()
	if msg.Role != message.RoleAssistant {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("blocks = %d, want 2", len(msg.Content))
	}
	if msg.Content[0].Type != message.BlockThought || msg.Content[0].Content != "plan" {
		t.Errorf("first block = %+v, want thought 'plan'", msg.Content[0])
	}
	if msg.Content[1].Type != message.BlockText || msg.Content[1].Content != "answer" {
		t.Errorf("second block = %+v, want text 'answer'", msg.Content[1])
	}
}

func TestAccumulator_NoThoughtBlockWithoutReasoning(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n")
	msg := a.Message()
	if len(msg.Blocks(message.BlockThought)) != 0 {
		t.Error("unexpected thought block")
	}
	if msg.Text() != "hi" {
		t.Errorf("text = %q, want hi", msg.Text())
	}
}

func TestAccumulator_ReasoningKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{"reasoning_content", `data: {"choices":[{"delta":{"reasoning_content":"r"}}]}`},
		{"reasoning", `data: {"choices":[{"delta":{"reasoning":"r"}}]}`},
		{"thinking", `data: {"choices":[{"delta":{"thinking":"r"}}]}`},
		{"top-level delta", `data: {"delta":{"reasoning":"r"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAccumulator()
			deltas := feedAll(a, tt.line+"\n")
			if a.Thought() != "r" {
				t.Errorf("thought = %q, want r", a.Thought())
			}
			if len(deltas) != 1 || deltas[0].Kind != message.BlockThought {
				t.Errorf("deltas = %+v, want one thought delta", deltas)
			}
		})
	}
}

func TestAccumulator_SkipsMalformedAndNoise(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a,
		"event: message\n",
		"id: 42\n",
		"\n",
		": comment\n",
		"data: {not json\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n",
		"garbage line\n",
		"data:\n",
	)

	if a.Text() != "ok" {
		t.Errorf("text = %q, want ok", a.Text())
	}
	if a.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", a.Skipped())
	}
}

func TestAccumulator_DoneStopsProcessing(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a,
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: [DONE]\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n",
	)
	if !a.Done() {
		t.Error("expected done")
	}
	if a.Text() != "a" {
		t.Errorf("text = %q, want a", a.Text())
	}
}

func TestAccumulator_ToolCalls(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"second","arguments":"{}"}}]}}]}`+"\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first","arguments":"{\"q\":"}}]}}]}`+"\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`+"\n",
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`+"\n",
	)

	msg := a.Message()
	calls := msg.Blocks(message.BlockToolCall)
	if len(calls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(calls))
	}
	if calls[0].ToolCall.Name != "first" || string(calls[0].ToolCall.Arguments) != `{"q":"x"}` {
		t.Errorf("first call = %+v", calls[0].ToolCall)
	}
	if calls[1].ToolCall.ID != "call_b" {
		t.Errorf("second call id = %q, want call_b", calls[1].ToolCall.ID)
	}
	if msg.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q", msg.FinishReason)
	}
	if len(msg.Blocks(message.BlockText)) != 0 {
		t.Error("empty text block should be omitted when tool calls are present")
	}
}

func TestAccumulator_Usage(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a, `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`+"\n")
	u := a.Usage()
	if u == nil || u.TotalTokens != 8 {
		t.Fatalf("usage = %+v, want total 8", u)
	}
}

func TestAccumulator_OversizeLineDropped(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	big := "data: {\"choices\":[{\"delta\":{\"content\":\"" + strings.Repeat("x", maxLineSize) + "\"}}]}"
	feedAll(a,
		big[:len(big)/2],
		big[len(big)/2:]+"\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n",
	)
	if a.Text() != "after" {
		t.Errorf("text = %q, want after", a.Text())
	}
	if a.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", a.Skipped())
	}
}

func TestAccumulator_CloseFlushesTrailingLine(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Feed([]byte(`data: {"choices":[{"delta":{"content":"tail"}}]}`))
	if a.Text() != "" {
		t.Fatalf("partial line processed early: %q", a.Text())
	}
	a.Close()
	if a.Text() != "tail" {
		t.Errorf("text = %q, want tail", a.Text())
	}
}

func TestAccumulator_TruncatedToolArguments(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	feedAll(a,
		`data: {"delta":{"tool_calls":[{"index":0,"function":{"name":"f","arguments":"{\"city\": \"Par"}}]}}`+"\n",
		"data: [DONE]\n",
	)

	msg := a.Message()
	calls := msg.Blocks(message.BlockToolCall)
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	var raw string
	if err := json.Unmarshal(calls[0].ToolCall.Arguments, &raw); err != nil {
		t.Fatalf("arguments %s are not a JSON string: %v", calls[0].ToolCall.Arguments, err)
	}
	if raw != `{"city": "Par` {
		t.Errorf("raw arguments = %q", raw)
	}
	if _, err := json.Marshal(msg); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
}

func TestAccumulator_OverflowedToolArguments(t *testing.T) {
	t.Parallel()

	// Two fragments that each fit in a line but together exceed the cap.
	half := strings.Repeat("x", maxToolCallArgs/2+1)
	first := `data: {"delta":{"tool_calls":[{"index":0,"function":{"name":"f","arguments":"{\"a\":\"` + half + `"}}]}}` + "\n"
	second := `data: {"delta":{"tool_calls":[{"index":0,"function":{"arguments":"` + half + `\"}"}}]}}` + "\n"

	a := NewAccumulator()
	feedAll(a, first, second, "data: [DONE]\n")

	if a.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", a.Skipped())
	}
	msg := a.Message()
	calls := msg.Blocks(message.BlockToolCall)
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	var raw string
	if err := json.Unmarshal(calls[0].ToolCall.Arguments, &raw); err != nil {
		t.Fatalf("overflowed arguments are not a JSON string: %v", err)
	}
	if !strings.HasPrefix(raw, `{"a":"x`) || len(raw) > maxToolCallArgs {
		t.Errorf("raw arguments: prefix %q, len %d", raw[:min(len(raw), 8)], len(raw))
	}
	if _, err := json.Marshal(msg); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
}
