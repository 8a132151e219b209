package lorem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	loremgen "github.com/bozaro/golorem"
)

// maxWords caps a lorem answer regardless of the requested max tokens
const maxWords = 200

// Provider generates lorem ipsum text with provider-like pacing.
// Used for development and tests without API keys. The model name selects
// the behavior:
//   - lorem-slow / lorem-medium / lorem-fast: 2, 10 or 30 words per second
//   - lorem-thinking: a reasoning phase before the answer
//   - lorem-refuse: finishes with a refusal stop reason
//   - lorem-fail: fails after a few words
type Provider struct {
	mu        sync.Mutex // golorem is not safe for concurrent use
	generator *loremgen.Lorem
	delay     func(model string) time.Duration
}

// Option configures the provider
type Option func(*Provider)

// WithDelay overrides the per-word delay, e.g. zero in tests
func WithDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = func(string) time.Duration { return d }
	}
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		generator: loremgen.New(),
		delay:     getStreamDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Kind() chatService.ProviderKind {
	return chatService.ProviderLorem
}

// getStreamDelay returns the delay between words based on the model name.
func getStreamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// errLoremFailure is the simulated upstream failure of lorem-fail
var errLoremFailure = errors.New("lorem: simulated upstream failure")

// Stream emits words one at a time at the model's pace.
func (p *Provider) Stream(ctx context.Context, req *chatService.GenerateRequest) (<-chan chatService.StreamEvent, error) {
	words := req.MaxTokens
	if words <= 0 || words > maxWords {
		words = maxWords
	}

	p.mu.Lock()
	var thinking string
	if req.Thinking || strings.Contains(req.Model, "thinking") {
		thinking = p.generator.Sentence(8, 12)
	}
	text := p.generateTextWords(words)
	p.mu.Unlock()

	delay := p.delay(req.Model)
	events := make(chan chatService.StreamEvent, 10)

	go func() {
		defer close(events)

		emit := func(ev chatService.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- ev:
			}
			if delay <= 0 {
				return ctx.Err() == nil
			}
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
				return true
			}
		}

		outputTokens := 0

		if strings.Contains(req.Model, "refuse") {
			events <- chatService.StreamEvent{
				Kind:   chatService.EventFinish,
				Finish: &chatModels.Finish{Model: req.Model, StopReason: "refusal"},
			}
			return
		}

		for _, word := range strings.Fields(thinking) {
			if !emit(chatService.StreamEvent{Kind: chatService.EventReasoningDelta, Text: word + " "}) {
				return
			}
			outputTokens++
		}

		fields := strings.Fields(text)
		for i, word := range fields {
			if strings.Contains(req.Model, "fail") && i == 5 {
				emit(chatService.StreamEvent{Kind: chatService.EventError, Err: errLoremFailure})
				return
			}
			delta := word
			if i < len(fields)-1 {
				delta += " "
			}
			if !emit(chatService.StreamEvent{Kind: chatService.EventTextDelta, Text: delta}) {
				return
			}
			outputTokens++
		}

		emit(chatService.StreamEvent{
			Kind: chatService.EventFinish,
			Finish: &chatModels.Finish{
				Model:        req.Model,
				StopReason:   "end_turn",
				InputTokens:  estimateTokens(req.Messages),
				OutputTokens: outputTokens,
			},
		})
	}()

	return events, nil
}

// generateTextWords generates lorem ipsum text with approximately targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0
	sentences := 0

	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		wordCount += len(strings.Fields(sentence))
		sentences++

		// Paragraph break every few sentences
		if sentences%4 == 0 {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString(" ")
		}
	}

	return strings.TrimSpace(sb.String())
}

// estimateTokens uses word count as a rough token approximation.
func estimateTokens(messages []chatService.PromptMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}
