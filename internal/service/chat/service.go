// Package chat is the thread generation coordinator. It admits generation
// attempts (at most one active reply per thread), writes the user and
// assistant messages, and hands attempts to the scheduler.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	"forkchat/internal/domain/repositories"
	chatRepo "forkchat/internal/domain/repositories/chat"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/service/chat/generation"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Config wires the coordinator's collaborators
type Config struct {
	Threads      chatRepo.ThreadRepository
	Messages     chatRepo.MessageRepository
	TxManager    repositories.TransactionManager
	Providers    chatService.ProviderResolver
	Scheduler    chatService.Scheduler
	Canceller    chatService.Canceller
	Streams      chatService.StreamStore
	Auxiliary    *generation.Auxiliary // optional, disables summaries when nil
	Limiter      *SubmitLimiter        // optional
	DefaultModel string
	StaleAfter   time.Duration
	Logger       *slog.Logger
}

// Service implements the thread generation coordinator
type Service struct {
	threads      chatRepo.ThreadRepository
	messages     chatRepo.MessageRepository
	txManager    repositories.TransactionManager
	providers    chatService.ProviderResolver
	scheduler    chatService.Scheduler
	canceller    chatService.Canceller
	streams      chatService.StreamStore
	aux          *generation.Auxiliary
	limiter      *SubmitLimiter
	defaultModel string
	staleAfter   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(cfg Config) *Service {
	return &Service{
		threads:      cfg.Threads,
		messages:     cfg.Messages,
		txManager:    cfg.TxManager,
		providers:    cfg.Providers,
		scheduler:    cfg.Scheduler,
		canceller:    cfg.Canceller,
		streams:      cfg.Streams,
		aux:          cfg.Auxiliary,
		limiter:      cfg.Limiter,
		defaultModel: cfg.DefaultModel,
		staleAfter:   cfg.StaleAfter,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// newToken mints a generation attempt token. ULIDs sort by creation time,
// which keeps tokens readable in logs.
func newToken() string {
	return ulid.Make().String()
}

// resolveModel validates a model ID against the capability registry.
func (s *Service) resolveModel(model string) (string, error) {
	if model == "" {
		model = s.defaultModel
	}
	if _, _, err := s.providers.Resolve(model); err != nil {
		return "", err
	}
	return model, nil
}

func (s *Service) allow(userID string) error {
	if !s.limiter.Allow(userID) {
		return fmt.Errorf("too many generation requests: %w", domain.ErrRateLimited)
	}
	return nil
}

// Submit appends a user message and a waiting assistant message to a thread,
// creating the thread when it does not exist, and schedules the reply.
// Returns a *domain.ConflictError while another reply is generating.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*GenerationResult, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.allow(req.UserID); err != nil {
		return nil, err
	}
	model, err := s.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	assistantID := req.AssistantMessageID
	if assistantID == "" {
		assistantID = uuid.NewString()
	}
	token := newToken()

	result, err := repositories.InTransaction(ctx, s.txManager, func(txCtx context.Context) (*GenerationResult, error) {
		now := s.now()

		thread, created, err := s.lockOrCreateThread(txCtx, threadID, req.UserID, model, now)
		if err != nil {
			return nil, err
		}
		if !created {
			if err := s.ensureIdle(txCtx, threadID); err != nil {
				return nil, err
			}
		}

		userMsg := &chatModels.Message{
			ID:            uuid.NewString(),
			ThreadID:      threadID,
			UserID:        req.UserID,
			Role:          chatModels.RoleUser,
			Status:        chatModels.StatusDone,
			Parts:         []chatModels.Part{chatModels.TextPart(req.Content)},
			Model:         model,
			ModelParams:   req.Params,
			AttachmentIDs: req.AttachmentIDs,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.messages.CreateMessage(txCtx, userMsg); err != nil {
			return nil, fmt.Errorf("create user message: %w", err)
		}

		if err := s.threads.BeginGeneration(txCtx, threadID, token, now); err != nil {
			return nil, fmt.Errorf("begin generation: %w", err)
		}

		// The assistant message drives client polling, so it is written last
		assistantMsg, err := s.createAssistant(txCtx, assistantID, threadID, req.UserID, model, req.Params, now)
		if err != nil {
			return nil, err
		}

		thread.GenerationStatus = chatModels.GenerationGenerating
		thread.GenerationToken = token
		thread.LastMessageAt = now
		return &GenerationResult{Thread: thread, UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
	})
	if err != nil {
		return nil, err
	}

	job := chatService.GenerationJob{
		MessageID:     result.AssistantMessage.ID,
		ThreadID:      threadID,
		UserID:        req.UserID,
		Token:         token,
		GenerateTitle: result.UserMessage.Position == 0 && !result.Thread.UserSetTitle,
		Live:          req.Live,
	}
	if err := s.schedule(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("generation submitted",
		"thread_id", threadID,
		"message_id", result.AssistantMessage.ID,
		"model", model,
	)
	return result, nil
}

// lockOrCreateThread locks an existing thread or creates it in generating state.
func (s *Service) lockOrCreateThread(ctx context.Context, threadID, userID, model string, now time.Time) (*chatModels.Thread, bool, error) {
	thread, err := s.threads.LockThread(ctx, threadID, userID)
	if err == nil {
		return thread, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	thread = &chatModels.Thread{
		ID:               threadID,
		UserID:           userID,
		Title:            chatModels.DefaultThreadTitle,
		Model:            model,
		GenerationStatus: chatModels.GenerationGenerating,
		Visibility:       chatModels.VisibilityVisible,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.threads.CreateThread(ctx, thread)
	if err == nil {
		return thread, true, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}

	// A concurrent first submit created it after our lookup. Another
	// user's thread stays invisible and reads as not found.
	thread, err = s.threads.LockThread(ctx, threadID, userID)
	if err != nil {
		return nil, false, err
	}
	return thread, false, nil
}

// ensureIdle rejects admission while a non-stale reply is active.
// A reply that has not been written to for staleAfter is marked failed.
func (s *Service) ensureIdle(ctx context.Context, threadID string) error {
	active, err := s.messages.FindActiveAssistant(ctx, threadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find active message: %w", err)
	}

	if s.staleAfter > 0 && s.now().Sub(active.UpdatedAt) > s.staleAfter {
		s.logger.Warn("marking stale generation as failed",
			"thread_id", threadID,
			"message_id", active.ID,
			"last_write", active.UpdatedAt,
		)
		_, err := s.messages.Finalize(ctx, active.ID, chatRepo.FinalWrite{
			Status: chatModels.StatusError,
			ServerError: &chatModels.ServerError{
				Type:    chatModels.ErrorTypeStale,
				Message: "Generation stopped responding.",
			},
		})
		if err != nil {
			return fmt.Errorf("mark stale message: %w", err)
		}
		return nil
	}

	return &domain.ConflictError{
		Message:      "a reply is already being generated in this thread",
		ResourceType: "message",
		ResourceID:   active.ID,
	}
}

func (s *Service) createAssistant(ctx context.Context, id, threadID, userID, model string, params chatModels.ModelParams, now time.Time) (*chatModels.Message, error) {
	streamID := id
	msg := &chatModels.Message{
		ID:                id,
		ThreadID:          threadID,
		UserID:            userID,
		Role:              chatModels.RoleAssistant,
		Status:            chatModels.StatusWaiting,
		Parts:             []chatModels.Part{},
		Model:             model,
		ModelParams:       params,
		ResumableStreamID: &streamID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create assistant message: %w", err)
	}
	return msg, nil
}

// schedule hands the attempt off. If that fails the admitted message is
// failed right away so the thread never stays generating.
func (s *Service) schedule(ctx context.Context, job chatService.GenerationJob) error {
	err := s.scheduler.Schedule(ctx, job)
	if err == nil {
		return nil
	}

	s.logger.Error("failed to schedule generation",
		"thread_id", job.ThreadID,
		"message_id", job.MessageID,
		"error", err,
	)
	writeCtx := context.WithoutCancel(ctx)
	if _, ferr := s.messages.Finalize(writeCtx, job.MessageID, chatRepo.FinalWrite{
		Status: chatModels.StatusError,
		ServerError: &chatModels.ServerError{
			Type:    chatModels.ErrorTypeInternal,
			Message: "Generation could not be started.",
		},
	}); ferr != nil {
		s.logger.Error("failed to fail unscheduled message", "message_id", job.MessageID, "error", ferr)
	}
	if _, ferr := s.threads.FinishGeneration(writeCtx, job.ThreadID, job.Token, chatModels.GenerationFailed); ferr != nil {
		s.logger.Error("failed to fail unscheduled thread", "thread_id", job.ThreadID, "error", ferr)
	}
	return fmt.Errorf("schedule generation: %w", err)
}

// Edit rewrites a user message, deletes every later message (including an
// active reply, whose attempt is cancelled) and schedules a new reply.
func (s *Service) Edit(ctx context.Context, req *EditRequest) (*GenerationResult, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.allow(req.UserID); err != nil {
		return nil, err
	}

	target, err := s.messages.GetMessage(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, err
	}
	if target.Role != chatModels.RoleUser {
		return nil, fmt.Errorf("%w: only user messages can be edited", domain.ErrValidation)
	}
	if target.Status == chatModels.StatusDeleted {
		return nil, fmt.Errorf("message %s: %w", target.ID, domain.ErrNotFound)
	}

	model := target.Model
	if req.Model != nil {
		model = *req.Model
	}
	model, err = s.resolveModel(model)
	if err != nil {
		return nil, err
	}
	params := target.ModelParams
	if req.Params != nil {
		params = *req.Params
	}

	assistantID := req.AssistantMessageID
	if assistantID == "" {
		assistantID = uuid.NewString()
	}
	token := newToken()

	result, err := repositories.InTransaction(ctx, s.txManager, func(txCtx context.Context) (*GenerationResult, error) {
		now := s.now()

		thread, err := s.threads.LockThread(txCtx, target.ThreadID, req.UserID)
		if err != nil {
			return nil, err
		}

		// Supersede the active attempt; its message goes with the tail
		if active, err := s.messages.FindActiveAssistant(txCtx, thread.ID); err == nil {
			if s.canceller != nil && s.canceller.Cancel(active.ID) {
				s.logger.Info("edit superseded running generation", "message_id", active.ID)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("find active message: %w", err)
		}

		deleted, err := s.messages.DeleteAfter(txCtx, thread.ID, target.Position)
		if err != nil {
			return nil, fmt.Errorf("delete tail: %w", err)
		}

		parts := []chatModels.Part{chatModels.TextPart(req.Content)}
		if err := s.messages.RewriteUserMessage(txCtx, target.ID, parts, model, params); err != nil {
			return nil, fmt.Errorf("rewrite message: %w", err)
		}
		target.Parts = parts
		target.Model = model
		target.ModelParams = params
		target.UpdatedAt = now

		if err := s.threads.BeginGeneration(txCtx, thread.ID, token, now); err != nil {
			return nil, fmt.Errorf("begin generation: %w", err)
		}
		assistantMsg, err := s.createAssistant(txCtx, assistantID, thread.ID, req.UserID, model, params, now)
		if err != nil {
			return nil, err
		}

		s.logger.Debug("thread tail replaced", "thread_id", thread.ID, "deleted", deleted)

		thread.GenerationStatus = chatModels.GenerationGenerating
		thread.GenerationToken = token
		thread.LastMessageAt = now
		return &GenerationResult{Thread: thread, UserMessage: target, AssistantMessage: assistantMsg}, nil
	})
	if err != nil {
		return nil, err
	}

	job := chatService.GenerationJob{
		MessageID:     result.AssistantMessage.ID,
		ThreadID:      result.Thread.ID,
		UserID:        req.UserID,
		Token:         token,
		GenerateTitle: target.Position == 0 && !result.Thread.UserSetTitle,
		Live:          req.Live,
	}
	if err := s.schedule(ctx, job); err != nil {
		return nil, err
	}
	return result, nil
}

// Retry regenerates the reply to a user message. An assistant message
// retries the nearest user message before it.
func (s *Service) Retry(ctx context.Context, req *RetryRequest) (*GenerationResult, error) {
	msg, err := s.messages.GetMessage(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, err
	}

	target := msg
	if msg.Role != chatModels.RoleUser {
		messages, err := s.messages.ListMessages(ctx, msg.ThreadID, req.UserID)
		if err != nil {
			return nil, err
		}
		target = nil
		for i := len(messages) - 1; i >= 0; i-- {
			m := &messages[i]
			if m.Position < msg.Position && m.Role == chatModels.RoleUser && m.Status != chatModels.StatusDeleted {
				target = m
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("%w: no user message precedes %s", domain.ErrValidation, msg.ID)
		}
	}

	return s.Edit(ctx, &EditRequest{
		UserID:             req.UserID,
		MessageID:          target.ID,
		Content:            target.Text(),
		Model:              req.Model,
		AssistantMessageID: req.AssistantMessageID,
		Live:               req.Live,
	})
}
