package generation

import (
	"strings"

	chatModels "forkchat/internal/domain/models/chat"
)

// flushDelimiters end a clause; seeing one in unflushed text triggers a snapshot.
const flushDelimiters = ".!?;,\n"

// buffer accumulates one fragment (text or reasoning) and remembers how much
// of it was last persisted.
type buffer struct {
	b       strings.Builder
	flushed int
}

func (b *buffer) String() string { return b.b.String() }
func (b *buffer) Len() int       { return b.b.Len() }

// add appends delta and reports whether the buffer now wants a flush.
func (b *buffer) add(delta string, modulus int) bool {
	b.b.WriteString(delta)
	if b.b.Len() == b.flushed {
		return false
	}
	if strings.ContainsAny(b.b.String()[b.flushed:], flushDelimiters) {
		return true
	}
	return modulus > 0 && b.b.Len()/modulus > b.flushed/modulus
}

// accumulator builds the full-replace snapshot of an assistant message.
// It is owned by a single attempt goroutine.
type accumulator struct {
	modulus   int
	text      buffer
	reasoning buffer
	toolCalls []chatModels.Part
}

func newAccumulator(modulus int) *accumulator {
	return &accumulator{modulus: modulus}
}

// addText appends a text delta and reports whether a snapshot is due.
func (a *accumulator) addText(delta string) bool {
	return a.text.add(delta, a.modulus)
}

// addReasoning appends a reasoning delta and reports whether a snapshot is due.
func (a *accumulator) addReasoning(delta string) bool {
	return a.reasoning.add(delta, a.modulus)
}

// addToolCall records a finished tool call. Tool calls always flush.
func (a *accumulator) addToolCall(call *chatModels.ToolCall) {
	a.toolCalls = append(a.toolCalls, chatModels.Part{
		Type:       chatModels.PartToolCall,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Status:     call.Status,
		Args:       call.Args,
	})
}

// parts renders reasoning, then text, then tool calls.
func (a *accumulator) parts() []chatModels.Part {
	parts := chatModels.Snapshot{
		Reasoning: a.reasoning.String(),
		Text:      a.text.String(),
	}.Parts()
	return append(parts, a.toolCalls...)
}

// markFlushed records that the current accumulation was persisted.
func (a *accumulator) markFlushed() {
	a.text.flushed = a.text.Len()
	a.reasoning.flushed = a.reasoning.Len()
}
