// Package openrouter adapts the meridian-llm-go OpenRouter provider to the
// chat provider contract. OpenRouter fronts the Gemini, OpenAI and DeepSeek
// models listed in the capability registry.
package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"
)

const (
	blockTypeThinking = "thinking"

	deltaTypeText          = "text_delta"
	deltaTypeThinking      = "thinking_delta"
	deltaTypeToolCallStart = "tool_call_start"
	deltaTypeInputJSON     = "input_json_delta"
)

// Provider wraps the library's OpenRouter provider.
type Provider struct {
	provider llmprovider.Provider
}

// NewProvider creates an OpenRouter provider for the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	provider, err := openrouter.NewProvider(apiKey)
	if err != nil {
		return nil, err
	}
	return &Provider{provider: provider}, nil
}

// NewProviderWith wraps an existing library provider.
func NewProviderWith(provider llmprovider.Provider) *Provider {
	return &Provider{provider: provider}
}

func (p *Provider) Kind() chatService.ProviderKind {
	return chatService.ProviderOpenRouter
}

// Stream converts the request, starts the upstream stream and normalizes its events.
func (p *Provider) Stream(ctx context.Context, req *chatService.GenerateRequest) (<-chan chatService.StreamEvent, error) {
	libEvents, err := p.provider.StreamResponse(ctx, convertRequest(req))
	if err != nil {
		return nil, wrapError(err)
	}

	out := make(chan chatService.StreamEvent)
	go func() {
		defer close(out)

		t := newTranslator()
		send := func(ev chatService.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		for libEvent := range libEvents {
			for _, ev := range t.translate(libEvent) {
				if !send(ev) {
					// Drain so the library goroutine can exit once ctx is observed
					for range libEvents {
					}
					return
				}
				if ev.Kind == chatService.EventError {
					for range libEvents {
					}
					return
				}
			}
		}
		for _, ev := range t.flush() {
			if !send(ev) {
				return
			}
		}
	}()

	return out, nil
}

// convertRequest maps the normalized request to the library request.
// System messages are lifted into params.System.
func convertRequest(req *chatService.GenerateRequest) *llmprovider.GenerateRequest {
	system := req.System
	messages := make([]llmprovider.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == chatModels.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		text := msg.Content
		messages = append(messages, llmprovider.Message{
			Role: string(msg.Role),
			Blocks: []*llmprovider.Block{{
				BlockType:   "text",
				Sequence:    0,
				TextContent: &text,
			}},
		})
	}

	params := &llmprovider.RequestParams{
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
	}
	if system != "" {
		params.System = &system
	}
	if req.Thinking {
		enabled := true
		params.ThinkingEnabled = &enabled
	}

	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
		Params:   params,
	}
}

// pendingToolCall accumulates a tool call across deltas of one block.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// translator turns library block deltas into normalized events.
// It tracks which block indices carry reasoning and tool calls.
type translator struct {
	thinking map[int]bool
	tools    map[int]*pendingToolCall
	order    []int
}

func newTranslator() *translator {
	return &translator{
		thinking: make(map[int]bool),
		tools:    make(map[int]*pendingToolCall),
	}
}

func (t *translator) translate(ev llmprovider.StreamEvent) []chatService.StreamEvent {
	if ev.Error != nil {
		return []chatService.StreamEvent{{Kind: chatService.EventError, Err: wrapError(ev.Error)}}
	}

	var out []chatService.StreamEvent
	if d := ev.Delta; d != nil {
		if d.BlockType != nil && *d.BlockType == blockTypeThinking {
			t.thinking[d.BlockIndex] = true
		}
		switch d.DeltaType {
		case deltaTypeThinking:
			if d.TextDelta != nil && *d.TextDelta != "" {
				out = append(out, chatService.StreamEvent{Kind: chatService.EventReasoningDelta, Text: *d.TextDelta})
			}
		case deltaTypeText:
			if d.TextDelta != nil && *d.TextDelta != "" {
				kind := chatService.EventTextDelta
				if t.thinking[d.BlockIndex] {
					kind = chatService.EventReasoningDelta
				}
				out = append(out, chatService.StreamEvent{Kind: kind, Text: *d.TextDelta})
			}
		case deltaTypeToolCallStart:
			call := &pendingToolCall{}
			if d.ToolCallID != nil {
				call.id = *d.ToolCallID
			}
			if d.ToolCallName != nil {
				call.name = *d.ToolCallName
			}
			t.tools[d.BlockIndex] = call
			t.order = append(t.order, d.BlockIndex)
		case deltaTypeInputJSON:
			if call, ok := t.tools[d.BlockIndex]; ok && d.JSONDelta != nil {
				call.args.WriteString(*d.JSONDelta)
			}
		}
	}

	if m := ev.Metadata; m != nil {
		out = append(out, t.flush()...)
		out = append(out, chatService.StreamEvent{
			Kind: chatService.EventFinish,
			Finish: &chatModels.Finish{
				Model:        m.Model,
				StopReason:   m.StopReason,
				InputTokens:  m.InputTokens,
				OutputTokens: m.OutputTokens,
			},
		})
	}
	return out
}

// flush emits accumulated tool calls in the order they started.
func (t *translator) flush() []chatService.StreamEvent {
	var out []chatService.StreamEvent
	for _, idx := range t.order {
		call := t.tools[idx]
		args := json.RawMessage(call.args.String())
		if len(args) == 0 || !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		out = append(out, chatService.StreamEvent{
			Kind: chatService.EventToolCall,
			ToolCall: &chatModels.ToolCall{
				ID:     call.id,
				Name:   call.name,
				Args:   args,
				Status: "complete",
			},
		})
	}
	t.order = nil
	t.tools = make(map[int]*pendingToolCall)
	return out
}

// wrapError tags upstream errors with the provider and, when the message
// carries one, the HTTP status code.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	return &chatService.ProviderError{
		Provider:   chatService.ProviderOpenRouter,
		StatusCode: statusFromMessage(err.Error()),
		Err:        fmt.Errorf("openrouter: %w", err),
	}
}

// statusFromMessage finds the first 4xx/5xx code in an error message.
func statusFromMessage(msg string) int {
	for _, field := range strings.FieldsFunc(msg, func(r rune) bool { return r < '0' || r > '9' }) {
		if len(field) != 3 {
			continue
		}
		code, err := strconv.Atoi(field)
		if err == nil && code >= 400 && code < 600 {
			return code
		}
	}
	return 0
}
