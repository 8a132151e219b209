package chat

import (
	"context"
	"errors"
	"fmt"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Stop reasons reported in StopResult
const (
	stopCancelled = "cancelled"
	stopMarked    = "marked_cancelled"
	stopIdle      = "no_active_generation"
)

func (r *StopRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ThreadID, validation.Required, is.UUID),
		validation.Field(&r.MessageID, is.UUID),
	)
}

// Stop cancels the active generation of a thread. An attempt running in this
// process is cancelled through its context and writes its own terminal state.
// Otherwise the message is marked cancelled directly, which makes a remote
// attempt abandon on its next snapshot. Nothing to stop is not an error.
func (s *Service) Stop(ctx context.Context, req *StopRequest) (*StopResult, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	thread, err := s.threads.GetThread(ctx, req.ThreadID, req.UserID)
	if err != nil {
		return nil, err
	}

	target, err := s.stopTarget(ctx, thread.ID, req)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return &StopResult{Stopped: false, Reason: stopIdle}, nil
	}

	if s.canceller != nil && s.canceller.Cancel(target.ID) {
		s.logger.Info("generation stopped", "thread_id", thread.ID, "message_id", target.ID)
		return &StopResult{Stopped: true, MessageID: target.ID, Reason: stopCancelled}, nil
	}

	// The snapshot keeps what was flushed so far
	ok, err := s.messages.TransitionStatus(ctx, target.ID, chatModels.ActiveStatuses, chatModels.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel message: %w", err)
	}
	if !ok {
		return &StopResult{Stopped: false, MessageID: target.ID, Reason: stopIdle}, nil
	}
	if _, err := s.threads.FinishGeneration(ctx, thread.ID, thread.GenerationToken, chatModels.GenerationCompleted); err != nil {
		return nil, fmt.Errorf("complete thread: %w", err)
	}

	s.logger.Info("generation marked cancelled", "thread_id", thread.ID, "message_id", target.ID)
	return &StopResult{Stopped: true, MessageID: target.ID, Reason: stopMarked}, nil
}

// stopTarget resolves the message to stop. Returns nil when nothing is active.
func (s *Service) stopTarget(ctx context.Context, threadID string, req *StopRequest) (*chatModels.Message, error) {
	if req.MessageID == "" {
		active, err := s.messages.FindActiveAssistant(ctx, threadID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find active message: %w", err)
		}
		return active, nil
	}

	msg, err := s.messages.GetMessage(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, err
	}
	if msg.ThreadID != threadID {
		return nil, fmt.Errorf("message %s: %w", req.MessageID, domain.ErrNotFound)
	}
	if !msg.Status.IsActive() {
		return nil, nil
	}
	return msg, nil
}
