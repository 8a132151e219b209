package chat

import (
	"context"
	"fmt"

	chatModels "forkchat/internal/domain/models/chat"
)

// ProviderKind is the closed set of provider implementations
type ProviderKind string

const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenRouter ProviderKind = "openrouter"
	ProviderLorem      ProviderKind = "lorem"
)

// EventKind discriminates normalized provider events
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventReasoningDelta
	EventToolCall
	EventFinish
	EventError
)

// StreamEvent is one normalized event produced by a provider.
// EventError is terminal: providers close the channel right after sending it.
type StreamEvent struct {
	Kind     EventKind
	Text     string
	ToolCall *chatModels.ToolCall
	Finish   *chatModels.Finish
	Err      error
}

// PromptMessage is one conversation turn sent to a provider
type PromptMessage struct {
	Role    chatModels.Role
	Content string
}

// GenerateRequest is the provider-agnostic request
type GenerateRequest struct {
	Model     string // upstream model ID
	System    string
	Messages  []PromptMessage
	Params    chatModels.ModelParams
	Thinking  bool
	MaxTokens int
}

// Provider streams normalized events for a request.
// The returned channel is closed when the stream ends. Implementations stop
// sending promptly once ctx is cancelled.
type Provider interface {
	Kind() ProviderKind
	Stream(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)
}

// ProviderResolver resolves a client-facing model ID to its provider and upstream model ID.
// Unknown or disabled models are a domain.ErrValidation.
type ProviderResolver interface {
	Resolve(modelID string) (Provider, *ResolvedModel, error)
}

// ResolvedModel carries the capability facts a generation attempt depends on
type ResolvedModel struct {
	ID                string
	UpstreamID        string
	Kind              ProviderKind
	SupportsReasoning bool
	MaxOutput         int
}

// ProviderError carries the upstream HTTP status of a failed provider call
type ProviderError struct {
	Provider   ProviderKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
