package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	"github.com/anthropics/anthropic-sdk-go"
)

// toolBlock accumulates a tool_use content block until it stops
type toolBlock struct {
	id   string
	name string
	args strings.Builder
}

// Stream starts a streaming Messages call. Deltas are forwarded as they arrive;
// a finish event with usage closes a successful stream.
func (p *Provider) Stream(ctx context.Context, req *chatService.GenerateRequest) (<-chan chatService.StreamEvent, error) {
	apiParams, err := buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}

	events := make(chan chatService.StreamEvent, 16)

	go func() {
		defer close(events)

		send := func(ev chatService.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- ev:
				return true
			}
		}

		stream := p.client.Messages.NewStreaming(ctx, apiParams)
		defer stream.Close()

		message := anthropic.Message{}
		tools := map[int64]*toolBlock{}

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(chatService.StreamEvent{Kind: chatService.EventError, Err: fmt.Errorf("accumulate message: %w", err)})
				return
			}

			ev, ok := transformEvent(event, tools)
			if ok && !send(ev) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(chatService.StreamEvent{Kind: chatService.EventError, Err: wrapError(err)})
			return
		}

		send(chatService.StreamEvent{
			Kind: chatService.EventFinish,
			Finish: &chatModels.Finish{
				Model:        string(message.Model),
				StopReason:   string(message.StopReason),
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
			},
		})
	}()

	return events, nil
}

// transformEvent maps an Anthropic stream event to a normalized event.
// Events that carry no content report ok=false.
func transformEvent(event anthropic.MessageStreamEventUnion, tools map[int64]*toolBlock) (chatService.StreamEvent, bool) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if e.ContentBlock.Type == "tool_use" {
			tools[e.Index] = &toolBlock{id: e.ContentBlock.ID, name: e.ContentBlock.Name}
		}

	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return chatService.StreamEvent{Kind: chatService.EventTextDelta, Text: e.Delta.Text}, true
		case "thinking_delta":
			return chatService.StreamEvent{Kind: chatService.EventReasoningDelta, Text: e.Delta.Thinking}, true
		case "input_json_delta":
			if tb, ok := tools[e.Index]; ok {
				tb.args.WriteString(e.Delta.PartialJSON)
			}
		}

	case anthropic.ContentBlockStopEvent:
		tb, ok := tools[e.Index]
		if !ok {
			break
		}
		delete(tools, e.Index)
		args := json.RawMessage(tb.args.String())
		if len(args) == 0 || !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		return chatService.StreamEvent{
			Kind: chatService.EventToolCall,
			ToolCall: &chatModels.ToolCall{
				ID:     tb.id,
				Name:   tb.name,
				Args:   args,
				Status: "called",
			},
		}, true
	}

	return chatService.StreamEvent{}, false
}

// wrapError attaches the upstream status so failures can be classified
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &chatService.ProviderError{
			Provider:   chatService.ProviderAnthropic,
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	return &chatService.ProviderError{Provider: chatService.ProviderAnthropic, Err: err}
}
