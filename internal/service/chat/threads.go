package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatRepo "forkchat/internal/domain/repositories/chat"
)

// ListThreads returns the user's threads, pinned first
func (s *Service) ListThreads(ctx context.Context, userID string) ([]chatModels.Thread, error) {
	return s.threads.ListThreads(ctx, userID)
}

func (s *Service) GetThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	return s.threads.GetThread(ctx, threadID, userID)
}

// UpdateThread applies user-editable fields. Setting a title pins it
// against automatic title generation.
func (s *Service) UpdateThread(ctx context.Context, threadID, userID string, req *UpdateThreadRequest) (*chatModels.Thread, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var title *string
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: title cannot be blank", domain.ErrValidation)
		}
		title = &trimmed
	}

	return s.threads.UpdateThread(ctx, threadID, userID, chatModels.ThreadUpdate{
		Title:      title,
		Pinned:     req.Pinned,
		Visibility: req.Visibility,
		IsPublic:   req.IsPublic,
		FolderSet:  req.FolderSet,
		FolderID:   req.FolderID,
	})
}

// DeleteThread removes a thread and its messages. A generation still
// running for it is cancelled and its replay stream purged.
func (s *Service) DeleteThread(ctx context.Context, threadID, userID string) error {
	if _, err := s.threads.GetThread(ctx, threadID, userID); err != nil {
		return err
	}

	active, err := s.messages.FindActiveAssistant(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("find active message: %w", err)
	}

	if err := s.threads.DeleteThread(ctx, threadID, userID); err != nil {
		return err
	}

	if active != nil {
		if s.canceller != nil {
			s.canceller.Cancel(active.ID)
		}
		if s.streams != nil {
			if err := s.streams.Purge(ctx, active.ID); err != nil {
				s.logger.Warn("failed to purge stream of deleted thread", "message_id", active.ID, "error", err)
			}
		}
	}

	s.logger.Info("thread deleted", "thread_id", threadID)
	return nil
}

// ListMessages returns the thread's messages in order, without tombstones
func (s *Service) ListMessages(ctx context.Context, threadID, userID string) ([]chatModels.Message, error) {
	if _, err := s.threads.GetThread(ctx, threadID, userID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListMessages(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}

	visible := make([]chatModels.Message, 0, len(messages))
	for _, m := range messages {
		if m.Status != chatModels.StatusDeleted {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// DeleteMessage tombstones a message. Deleting a reply that is still
// generating cancels its attempt and completes the thread.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := s.messages.GetMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg.Status == chatModels.StatusDeleted {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	from := []chatModels.MessageStatus{msg.Status}
	ok, err := s.messages.TransitionStatus(ctx, messageID, from, chatModels.StatusDeleted)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !ok {
		// Status moved underneath us, e.g. the reply just finished
		return &domain.ConflictError{
			Message:      "message changed while deleting, try again",
			ResourceType: "message",
			ResourceID:   messageID,
		}
	}

	if msg.Status.IsActive() {
		if s.canceller != nil {
			s.canceller.Cancel(messageID)
		}
		thread, err := s.threads.GetThread(ctx, msg.ThreadID, userID)
		if err != nil {
			return err
		}
		if _, err := s.threads.FinishGeneration(ctx, thread.ID, thread.GenerationToken, chatModels.GenerationCompleted); err != nil {
			return fmt.Errorf("complete thread: %w", err)
		}
	}

	s.logger.Info("message deleted", "thread_id", msg.ThreadID, "message_id", messageID)
	return nil
}

// ReportError records a failure observed by the client (for example a broken
// relay) on a reply that is still active. The thread becomes failed.
func (s *Service) ReportError(ctx context.Context, req *ReportErrorRequest) (*chatModels.Message, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msg, err := s.messages.GetMessage(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, err
	}
	if msg.Role != chatModels.RoleAssistant {
		return nil, fmt.Errorf("%w: only assistant messages can carry errors", domain.ErrValidation)
	}

	status := chatModels.StatusError
	if req.Rejected {
		status = chatModels.StatusErrorRejected
	}
	serverErr := &chatModels.ServerError{Type: chatModels.ErrorTypeClient, Message: req.Message}

	ok, err := s.messages.Finalize(ctx, msg.ID, chatRepo.FinalWrite{Status: status, ServerError: serverErr})
	if err != nil {
		return nil, fmt.Errorf("record client error: %w", err)
	}
	if !ok {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("message already finished with status %s", msg.Status),
			ResourceType: "message",
			ResourceID:   msg.ID,
		}
	}

	if s.canceller != nil {
		s.canceller.Cancel(msg.ID)
	}
	thread, err := s.threads.GetThread(ctx, msg.ThreadID, req.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.threads.FinishGeneration(ctx, thread.ID, thread.GenerationToken, chatModels.GenerationFailed); err != nil {
		return nil, fmt.Errorf("fail thread: %w", err)
	}

	s.logger.Warn("client reported generation error",
		"thread_id", msg.ThreadID,
		"message_id", msg.ID,
		"rejected", req.Rejected,
	)

	msg.Status = status
	msg.ServerError = serverErr
	return msg, nil
}

// Summary asks the auxiliary model for a short summary of a thread
func (s *Service) Summary(ctx context.Context, threadID, userID string) (string, error) {
	if s.aux == nil {
		return "", fmt.Errorf("%w: summaries are not configured", domain.ErrValidation)
	}
	messages, err := s.ListMessages(ctx, threadID, userID)
	if err != nil {
		return "", err
	}

	var transcript strings.Builder
	for _, m := range messages {
		text := m.Text()
		if text == "" || m.Role == chatModels.RoleSystem {
			continue
		}
		speaker := "User"
		if m.Role == chatModels.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&transcript, "%s: %s\n\n", speaker, text)
	}
	if transcript.Len() == 0 {
		return "", fmt.Errorf("%w: thread has no messages to summarize", domain.ErrValidation)
	}

	summary, err := s.aux.Summary(ctx, transcript.String())
	if err != nil {
		s.logger.Warn("summary generation failed", "thread_id", threadID, "error", err)
		return "", fmt.Errorf("generate summary: %w", err)
	}
	return summary, nil
}
