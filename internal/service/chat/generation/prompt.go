package generation

import (
	"fmt"
	"strings"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"
)

const baseSystemPrompt = `You are ForkChat, a helpful assistant in a multi-thread chat application.
Answer clearly and concisely. Use Markdown where it helps readability.`

// systemPrompt renders the system prompt for the message's generation parameters.
func systemPrompt(params chatModels.ModelParams) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	if params.ReasoningEffort != "" {
		fmt.Fprintf(&b, "\nReasoning effort requested by the user: %s.", params.ReasoningEffort)
	}
	if params.IncludeSearch {
		b.WriteString("\nThe user asked for up-to-date information. Say so when your knowledge may be outdated.")
	}
	return b.String()
}

// buildHistory converts the messages before target into provider turns.
// Deleted, failed and empty messages are skipped.
func buildHistory(messages []chatModels.Message, target *chatModels.Message) []chatService.PromptMessage {
	history := make([]chatService.PromptMessage, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		if m.Position >= target.Position {
			break
		}
		switch m.Status {
		case chatModels.StatusDeleted, chatModels.StatusError, chatModels.StatusErrorRejected:
			continue
		}
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		history = append(history, chatService.PromptMessage{Role: m.Role, Content: text})
	}
	return history
}

// firstUserText returns the text of the earliest user message.
func firstUserText(messages []chatModels.Message) string {
	for i := range messages {
		if messages[i].Role == chatModels.RoleUser && messages[i].Status != chatModels.StatusDeleted {
			return messages[i].Text()
		}
	}
	return ""
}
