package chat

import (
	"context"
	"errors"

	chatModels "forkchat/internal/domain/models/chat"
)

var (
	// ErrStreamNotFound means the resumable stream never existed or expired
	ErrStreamNotFound = errors.New("stream data not found or expired")
	// ErrIndexConflict means an append would leave a gap or overwrite a chunk
	ErrIndexConflict = errors.New("stream index out of sequence")
)

// StreamStore is the TTL-bounded replay log of emitted chunks, keyed by response message ID
type StreamStore interface {
	Begin(ctx context.Context, id string) error
	Append(ctx context.Context, id string, index int, chunk chatModels.Chunk) error
	Complete(ctx context.Context, id string) error
	Meta(ctx context.Context, id string) (*chatModels.StreamMeta, error)
	// Replay calls fn for every stored part from index from (inclusive) through
	// the last index known when replay started.
	Replay(ctx context.Context, id string, from int, fn func(chatModels.StreamPart) error) error
	Purge(ctx context.Context, id string) error
}
