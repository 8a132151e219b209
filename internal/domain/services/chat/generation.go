package chat

import (
	"context"
	"errors"

	chatModels "forkchat/internal/domain/models/chat"
)

// ErrRejected marks a provider refusal (content policy or request validation).
// Attempts failing with it end in error.rejected instead of error.
var ErrRejected = errors.New("request rejected by provider")

// GenerationJob identifies one generation attempt
type GenerationJob struct {
	MessageID     string `json:"message_id"`
	ThreadID      string `json:"thread_id"`
	UserID        string `json:"user_id"`
	Token         string `json:"token"`
	GenerateTitle bool   `json:"generate_title"`
	// Live jobs have an HTTP relay attached and must run in this process
	Live bool `json:"live"`
}

// Scheduler runs generation attempts out of band. Schedule must not block on generation.
type Scheduler interface {
	Schedule(ctx context.Context, job GenerationJob) error
}

// Canceller cancels attempts running in this process
type Canceller interface {
	// Cancel reports false when no local attempt runs for messageID
	Cancel(messageID string) bool
}

// JobRunner executes one attempt to completion. It always writes exactly one terminal status.
type JobRunner interface {
	Run(ctx context.Context, job GenerationJob)
}

// Relay fans out chunks of live attempts to attached HTTP connections
type Relay interface {
	Publish(messageID string, chunk chatModels.Chunk)
	Close(messageID string)
}
