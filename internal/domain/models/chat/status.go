package chat

// MessageStatus is the generation lifecycle of a message.
// User messages are created "done"; assistant messages start "waiting".
type MessageStatus string

const (
	StatusWaiting       MessageStatus = "waiting"
	StatusThinking      MessageStatus = "thinking"
	StatusStreaming     MessageStatus = "streaming"
	StatusDone          MessageStatus = "done"
	StatusError         MessageStatus = "error"
	StatusErrorRejected MessageStatus = "error.rejected"
	StatusCancelled     MessageStatus = "cancelled"
	StatusDeleted       MessageStatus = "deleted"
)

// ActiveStatuses are the statuses that hold a thread's generation slot.
var ActiveStatuses = []MessageStatus{StatusWaiting, StatusThinking, StatusStreaming}

// messageTransitions lists the legal moves out of each status.
// Terminal statuses only lead to the deleted tombstone.
var messageTransitions = map[MessageStatus][]MessageStatus{
	StatusWaiting:       {StatusThinking, StatusStreaming, StatusError, StatusErrorRejected, StatusCancelled, StatusDeleted},
	StatusThinking:      {StatusStreaming, StatusDone, StatusError, StatusErrorRejected, StatusCancelled, StatusDeleted},
	StatusStreaming:     {StatusDone, StatusError, StatusErrorRejected, StatusCancelled, StatusDeleted},
	StatusDone:          {StatusDeleted},
	StatusError:         {StatusDeleted},
	StatusErrorRejected: {StatusDeleted},
	StatusCancelled:     {StatusDeleted},
}

// IsActive reports whether a generation attempt may still be writing to the message.
func (s MessageStatus) IsActive() bool {
	return s == StatusWaiting || s == StatusThinking || s == StatusStreaming
}

// IsTerminal reports whether a generation attempt has finished with this status.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusErrorRejected, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// IsError reports whether the status carries a serverError.
func (s MessageStatus) IsError() bool {
	return s == StatusError || s == StatusErrorRejected
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	for _, allowed := range messageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s MessageStatus) Valid() bool {
	_, ok := messageTransitions[s]
	return ok || s == StatusDeleted
}

// GenerationStatus is the aggregate status of a thread, independent of any single message.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// ThreadStatusFor maps a terminal message status to the thread status it implies.
// Cancellation is a normal outcome and completes the thread.
func ThreadStatusFor(s MessageStatus) GenerationStatus {
	switch s {
	case StatusError, StatusErrorRejected:
		return GenerationFailed
	case StatusWaiting, StatusThinking, StatusStreaming:
		return GenerationGenerating
	default:
		return GenerationCompleted
	}
}
