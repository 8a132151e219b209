package anthropic

import (
	"fmt"

	"forkchat/internal/config"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	"github.com/anthropics/anthropic-sdk-go"
)

// thinkingBudgets maps reasoning effort to Anthropic thinking budget tokens
var thinkingBudgets = map[chatModels.ReasoningEffort]int64{
	chatModels.ReasoningLow:    1024,
	chatModels.ReasoningMedium: 4096,
	chatModels.ReasoningHigh:   16384,
}

// convertMessages converts prompt messages to Anthropic SDK format.
// System messages are lifted into the system prompt by buildParams.
func convertMessages(messages []chatService.PromptMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for i, msg := range messages {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)

		switch msg.Role {
		case chatModels.RoleUser:
			result = append(result, anthropic.NewUserMessage(block))
		case chatModels.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(block))
		case chatModels.RoleSystem:
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	return result, nil
}

func buildParams(req *chatService.GenerateRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no messages to send")
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	system := req.System
	for _, m := range req.Messages {
		if m.Role == chatModels.RoleSystem && m.Content != "" {
			system += "\n\n" + m.Content
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if req.Thinking {
		effort := req.Params.ReasoningEffort
		if effort == "" {
			effort = chatModels.ReasoningMedium
		}
		budget := thinkingBudgets[effort]
		// max_tokens must exceed the thinking budget
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + maxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		// Sampling parameters are fixed while thinking is enabled
		return params, nil
	}

	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = anthropic.Float(*req.Params.TopP)
	}
	if req.Params.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.Params.TopK))
	}

	return params, nil
}
