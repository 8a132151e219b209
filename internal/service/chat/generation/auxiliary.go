package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"forkchat/internal/config"
	chatService "forkchat/internal/domain/services/chat"
)

const (
	auxiliaryTimeout = 30 * time.Second
	maxTitleRunes    = 80
)

const titlePrompt = `Write a short title (at most six words) for a chat that starts with the exchange below.
Reply with the title only, without quotes or trailing punctuation.`

const summaryPrompt = `Summarize the conversation below in a few sentences.
Focus on the questions asked and the conclusions reached.`

// Auxiliary runs short one-shot calls against a fast model: thread titles and summaries.
// Failures are returned to the caller, who treats them as best effort.
type Auxiliary struct {
	providers chatService.ProviderResolver
	model     string
}

func NewAuxiliary(providers chatService.ProviderResolver, model string) *Auxiliary {
	return &Auxiliary{providers: providers, model: model}
}

// Title generates a thread title from the first exchange.
func (a *Auxiliary) Title(ctx context.Context, userText, assistantText string) (string, error) {
	content := fmt.Sprintf("User: %s\n\nAssistant: %s", truncate(userText, 2000), truncate(assistantText, 2000))
	raw, err := a.complete(ctx, titlePrompt, content, config.TitleMaxTokens)
	if err != nil {
		return "", err
	}
	title := cleanTitle(raw)
	if title == "" {
		return "", errors.New("title model returned no text")
	}
	return title, nil
}

// Summary generates a short summary of a transcript.
func (a *Auxiliary) Summary(ctx context.Context, transcript string) (string, error) {
	raw, err := a.complete(ctx, summaryPrompt, transcript, config.SummaryMaxTokens)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", errors.New("summary model returned no text")
	}
	return summary, nil
}

func (a *Auxiliary) complete(ctx context.Context, system, content string, maxTokens int) (string, error) {
	provider, resolved, err := a.providers.Resolve(a.model)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, auxiliaryTimeout)
	defer cancel()

	events, err := provider.Stream(ctx, &chatService.GenerateRequest{
		Model:     resolved.UpstreamID,
		System:    system,
		Messages:  []chatService.PromptMessage{{Role: "user", Content: content}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return Collect(ctx, events)
}

// Collect drains a provider stream and returns its text.
// Reasoning and tool calls are ignored.
func Collect(ctx context.Context, events <-chan chatService.StreamEvent) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return b.String(), nil
			}
			switch ev.Kind {
			case chatService.EventTextDelta:
				b.WriteString(ev.Text)
			case chatService.EventError:
				return "", ev.Err
			}
		}
	}
}

// cleanTitle keeps the first line, strips quotes and trailing punctuation
// and caps the length.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Trim(strings.TrimSpace(title), `"'*`+"`")
	title = strings.TrimRight(title, ".!?;:, ")
	return truncate(title, maxTitleRunes)
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
