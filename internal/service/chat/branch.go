package chat

import (
	"context"
	"fmt"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	"forkchat/internal/domain/repositories"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

func (r *BranchRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ThreadID, validation.Required, is.UUID),
		validation.Field(&r.FromMessageID, validation.Required, is.UUID),
	)
}

// Branch forks a thread at a message. The new thread holds copies of every
// message up to and including the branch point and starts completed.
func (s *Service) Branch(ctx context.Context, req *BranchRequest) (*chatModels.Thread, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return repositories.InTransaction(ctx, s.txManager, func(txCtx context.Context) (*chatModels.Thread, error) {
		origin, err := s.threads.LockThread(txCtx, req.ThreadID, req.UserID)
		if err != nil {
			return nil, err
		}
		messages, err := s.messages.ListMessages(txCtx, origin.ID, req.UserID)
		if err != nil {
			return nil, err
		}

		var branchPoint *chatModels.Message
		for i := range messages {
			if messages[i].ID == req.FromMessageID {
				branchPoint = &messages[i]
				break
			}
		}
		if branchPoint == nil || branchPoint.Status == chatModels.StatusDeleted {
			return nil, fmt.Errorf("message %s: %w", req.FromMessageID, domain.ErrNotFound)
		}

		now := s.now()
		originID := origin.ID
		originMessageID := branchPoint.ID
		branch := &chatModels.Thread{
			ID:                    uuid.NewString(),
			UserID:                req.UserID,
			Title:                 origin.Title,
			UserSetTitle:          origin.UserSetTitle,
			Model:                 origin.Model,
			GenerationStatus:      chatModels.GenerationCompleted,
			Visibility:            chatModels.VisibilityVisible,
			FolderID:              origin.FolderID,
			BranchParentThreadID:  &originID,
			BranchParentMessageID: &originMessageID,
			LastMessageAt:         now,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.threads.CreateThread(txCtx, branch); err != nil {
			return nil, fmt.Errorf("create branch thread: %w", err)
		}

		copied := 0
		for _, m := range messages {
			if m.Position > branchPoint.Position {
				break
			}
			if m.Status == chatModels.StatusDeleted {
				continue
			}
			if err := s.messages.CreateMessage(txCtx, copyForBranch(m, branch.ID)); err != nil {
				return nil, fmt.Errorf("copy message %s: %w", m.ID, err)
			}
			copied++
		}

		if err := s.messages.AddBranch(txCtx, branchPoint.ID, branch.ID); err != nil {
			return nil, fmt.Errorf("record branch: %w", err)
		}

		s.logger.Info("thread branched",
			"thread_id", origin.ID,
			"branch_thread_id", branch.ID,
			"message_id", branchPoint.ID,
			"copied", copied,
		)
		return branch, nil
	})
}

// copyForBranch clones a message into another thread under a fresh ID.
// A reply still generating in the origin is frozen as cancelled in the copy.
func copyForBranch(m chatModels.Message, threadID string) *chatModels.Message {
	c := m
	c.ID = uuid.NewString()
	c.ThreadID = threadID
	c.Branches = nil
	c.ResumableStreamID = nil
	c.Parts = append([]chatModels.Part(nil), m.Parts...)
	c.AttachmentIDs = append([]string(nil), m.AttachmentIDs...)
	if c.Status.IsActive() {
		c.Status = chatModels.StatusCancelled
	}
	return &c
}
