package chat

import (
	"context"
	"time"

	chatModels "forkchat/internal/domain/models/chat"
)

// ThreadRepository defines the interface for thread data access
type ThreadRepository interface {
	// CreateThread inserts a new thread with the caller-supplied ID
	// Returns *domain.ConflictError if the ID is already taken
	CreateThread(ctx context.Context, thread *chatModels.Thread) error

	// GetThread retrieves a thread by ID (scoped to user)
	// Returns domain.ErrNotFound if not found
	GetThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error)

	// LockThread retrieves a thread and holds a row lock until the surrounding
	// transaction ends. Outside a transaction it behaves like GetThread.
	LockThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error)

	// ListThreads returns visible and archived threads, pinned first, most recent activity first
	// Returns empty slice if none found
	ListThreads(ctx context.Context, userID string) ([]chatModels.Thread, error)

	// UpdateThread applies user-editable fields and returns the updated thread
	UpdateThread(ctx context.Context, threadID, userID string, update chatModels.ThreadUpdate) (*chatModels.Thread, error)

	// BeginGeneration marks the thread generating under a fresh attempt token
	BeginGeneration(ctx context.Context, threadID, token string, at time.Time) error

	// FinishGeneration sets a terminal generation status only if token is still
	// the thread's current attempt token. Reports whether the write applied.
	FinishGeneration(ctx context.Context, threadID, token string, status chatModels.GenerationStatus) (bool, error)

	// SetGeneratedTitle stores an auto-generated title unless the user set one
	SetGeneratedTitle(ctx context.Context, threadID, title string) (bool, error)

	// DeleteThread removes a thread; its messages cascade
	// Returns domain.ErrNotFound if not found
	DeleteThread(ctx context.Context, threadID, userID string) error
}
