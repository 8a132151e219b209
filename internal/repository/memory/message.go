package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatRepo "forkchat/internal/domain/repositories/chat"
)

// MessageRepository implements chat.MessageRepository in memory
type MessageRepository struct {
	store *Store
}

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *chatModels.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.threads[msg.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
	}
	if _, ok := r.store.messages[msg.ID]; ok {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("message %s already exists", msg.ID),
			ResourceType: "message",
			ResourceID:   msg.ID,
		}
	}

	next := 0
	for _, m := range r.store.messages {
		if m.ThreadID == msg.ThreadID && m.Position >= next {
			next = m.Position + 1
		}
	}
	msg.Position = next
	if msg.Parts == nil {
		msg.Parts = []chatModels.Part{}
	}
	if msg.AttachmentIDs == nil {
		msg.AttachmentIDs = []string{}
	}
	if msg.Branches == nil {
		msg.Branches = []string{}
	}
	r.store.messages[msg.ID] = clone(msg)
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, messageID, userID string) (*chatModels.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok || m.UserID != userID {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return clone(m), nil
}

func (r *MessageRepository) threadMessages(threadID string) []*chatModels.Message {
	var out []*chatModels.Message
	for _, m := range r.store.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (r *MessageRepository) ListMessages(ctx context.Context, threadID, userID string) ([]chatModels.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	messages := []chatModels.Message{}
	for _, m := range r.threadMessages(threadID) {
		if m.UserID == userID {
			messages = append(messages, *clone(m))
		}
	}
	return messages, nil
}

func (r *MessageRepository) FindActiveAssistant(ctx context.Context, threadID string) (*chatModels.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	msgs := r.threadMessages(threadID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chatModels.RoleAssistant && msgs[i].Status.IsActive() {
			return clone(msgs[i]), nil
		}
	}
	return nil, fmt.Errorf("active message in thread %s: %w", threadID, domain.ErrNotFound)
}

func (r *MessageRepository) TransitionStatus(ctx context.Context, messageID string, from []chatModels.MessageStatus, to chatModels.MessageStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok || !slices.Contains(from, m.Status) {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *MessageRepository) WriteSnapshot(ctx context.Context, messageID string, parts []chatModels.Part, status chatModels.MessageStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok || !m.Status.IsActive() {
		return false, nil
	}
	m.Parts = slices.Clone(parts)
	if m.Parts == nil {
		m.Parts = []chatModels.Part{}
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *MessageRepository) Finalize(ctx context.Context, messageID string, final chatRepo.FinalWrite) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok || !m.Status.IsActive() {
		return false, nil
	}
	m.Status = final.Status
	if final.Parts != nil {
		m.Parts = slices.Clone(final.Parts)
	}
	m.ServerError = final.ServerError
	m.TimeToFirstToken = final.Metrics.TimeToFirstToken
	m.Tokens = final.Metrics.Tokens
	m.TokensPerSecond = final.Metrics.TokensPerSecond
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *MessageRepository) RewriteUserMessage(ctx context.Context, messageID string, parts []chatModels.Part, model string, params chatModels.ModelParams) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok || m.Role != chatModels.RoleUser {
		return fmt.Errorf("user message %s: %w", messageID, domain.ErrNotFound)
	}
	m.Parts = slices.Clone(parts)
	m.Model = model
	m.ModelParams = params
	m.UpdatedAt = time.Now()
	return nil
}

func (r *MessageRepository) DeleteAfter(ctx context.Context, threadID string, position int) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for id, m := range r.store.messages {
		if m.ThreadID == threadID && m.Position > position {
			delete(r.store.messages, id)
			n++
		}
	}
	return n, nil
}

func (r *MessageRepository) AddBranch(ctx context.Context, messageID, branchThreadID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	m.Branches = append(m.Branches, branchThreadID)
	m.UpdatedAt = time.Now()
	return nil
}
