package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
)

// ThreadRepository implements chat.ThreadRepository in memory
type ThreadRepository struct {
	store *Store
}

func (r *ThreadRepository) CreateThread(ctx context.Context, thread *chatModels.Thread) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.threads[thread.ID]; ok {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("thread %s already exists", thread.ID),
			ResourceType: "thread",
			ResourceID:   thread.ID,
		}
	}
	r.store.threads[thread.ID] = cloneThread(thread)
	return nil
}

func (r *ThreadRepository) get(threadID, userID string) (*chatModels.Thread, error) {
	t, ok := r.store.threads[threadID]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return t, nil
}

func (r *ThreadRepository) GetThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, err := r.get(threadID, userID)
	if err != nil {
		return nil, err
	}
	return cloneThread(t), nil
}

// LockThread relies on the transaction manager serializing transactions
func (r *ThreadRepository) LockThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	return r.GetThread(ctx, threadID, userID)
}

func (r *ThreadRepository) ListThreads(ctx context.Context, userID string) ([]chatModels.Thread, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	threads := []chatModels.Thread{}
	for _, t := range r.store.threads {
		if t.UserID == userID {
			threads = append(threads, *cloneThread(t))
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Pinned != threads[j].Pinned {
			return threads[i].Pinned
		}
		return threads[i].LastMessageAt.After(threads[j].LastMessageAt)
	})
	return threads, nil
}

func (r *ThreadRepository) UpdateThread(ctx context.Context, threadID, userID string, update chatModels.ThreadUpdate) (*chatModels.Thread, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, err := r.get(threadID, userID)
	if err != nil {
		return nil, err
	}
	if update.Title != nil {
		t.Title = *update.Title
		t.UserSetTitle = true
	}
	if update.Pinned != nil {
		t.Pinned = *update.Pinned
	}
	if update.Visibility != nil {
		t.Visibility = *update.Visibility
	}
	if update.IsPublic != nil {
		t.IsPublic = *update.IsPublic
	}
	if update.FolderSet {
		t.FolderID = update.FolderID
	}
	t.UpdatedAt = time.Now()
	return cloneThread(t), nil
}

func (r *ThreadRepository) BeginGeneration(ctx context.Context, threadID, token string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, ok := r.store.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	t.GenerationStatus = chatModels.GenerationGenerating
	t.GenerationToken = token
	t.LastMessageAt = at
	t.UpdatedAt = at
	return nil
}

func (r *ThreadRepository) FinishGeneration(ctx context.Context, threadID, token string, status chatModels.GenerationStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, ok := r.store.threads[threadID]
	if !ok || t.GenerationToken != token {
		return false, nil
	}
	now := time.Now()
	t.GenerationStatus = status
	t.LastMessageAt = now
	t.UpdatedAt = now
	return true, nil
}

func (r *ThreadRepository) SetGeneratedTitle(ctx context.Context, threadID, title string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, ok := r.store.threads[threadID]
	if !ok || t.UserSetTitle {
		return false, nil
	}
	t.Title = title
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *ThreadRepository) DeleteThread(ctx context.Context, threadID, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.get(threadID, userID); err != nil {
		return err
	}
	delete(r.store.threads, threadID)
	for id, m := range r.store.messages {
		if m.ThreadID == threadID {
			delete(r.store.messages, id)
		}
	}
	return nil
}
