package chat

import (
	"context"

	chatModels "forkchat/internal/domain/models/chat"
)

// MessageReader defines read operations for message data access
type MessageReader interface {
	// GetMessage retrieves a message by ID (scoped to user)
	// Returns domain.ErrNotFound if not found
	GetMessage(ctx context.Context, messageID, userID string) (*chatModels.Message, error)

	// ListMessages returns a thread's messages ordered by position
	// Tombstoned messages are included; callers filter as needed
	ListMessages(ctx context.Context, threadID, userID string) ([]chatModels.Message, error)

	// FindActiveAssistant returns the most recent assistant message whose status
	// is waiting, thinking or streaming
	// Returns domain.ErrNotFound if the thread is idle
	FindActiveAssistant(ctx context.Context, threadID string) (*chatModels.Message, error)
}

// FinalWrite is the terminal write of a generation attempt
type FinalWrite struct {
	Status      chatModels.MessageStatus
	Parts       []chatModels.Part
	ServerError *chatModels.ServerError
	Metrics     chatModels.Metrics
}

// MessageWriter defines write operations for message data access
type MessageWriter interface {
	// CreateMessage appends a message at the end of its thread and sets Position
	CreateMessage(ctx context.Context, msg *chatModels.Message) error

	// TransitionStatus moves a message to status "to" only if its current status
	// is one of "from". Reports whether the write applied.
	TransitionStatus(ctx context.Context, messageID string, from []chatModels.MessageStatus, to chatModels.MessageStatus) (bool, error)

	// WriteSnapshot replaces parts and sets status while the message is still active.
	// Reports false when the message left the active states (cancelled or superseded).
	WriteSnapshot(ctx context.Context, messageID string, parts []chatModels.Part, status chatModels.MessageStatus) (bool, error)

	// Finalize writes the terminal status of an active message. Reports false when
	// the message was already terminal.
	Finalize(ctx context.Context, messageID string, final FinalWrite) (bool, error)

	// RewriteUserMessage replaces the text and generation config of a user message
	RewriteUserMessage(ctx context.Context, messageID string, parts []chatModels.Part, model string, params chatModels.ModelParams) error

	// DeleteAfter hard-deletes every message positioned after position
	DeleteAfter(ctx context.Context, threadID string, position int) (int64, error)

	// AddBranch records a forked thread on the origin message
	AddBranch(ctx context.Context, messageID, branchThreadID string) error
}

// MessageRepository combines read and write access
type MessageRepository interface {
	MessageReader
	MessageWriter
}
