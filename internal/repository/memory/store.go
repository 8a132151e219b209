// Package memory is an in-process implementation of the chat repositories.
// It backs tests and local development without DATABASE_URL. Transactions
// serialize but do not roll back partial writes.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	chatModels "forkchat/internal/domain/models/chat"
	"forkchat/internal/domain/repositories"
)

// Store holds threads and messages. Repositories returned by its methods share it.
type Store struct {
	mu       sync.Mutex
	threads  map[string]*chatModels.Thread
	messages map[string]*chatModels.Message

	txMu sync.Mutex
}

func NewStore() *Store {
	return &Store{
		threads:  make(map[string]*chatModels.Thread),
		messages: make(map[string]*chatModels.Message),
	}
}

// Threads returns the thread repository view of the store
func (s *Store) Threads() *ThreadRepository {
	return &ThreadRepository{store: s}
}

// Messages returns the message repository view of the store
func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

// TxManager returns a transaction manager that serializes transactions
func (s *Store) TxManager() repositories.TransactionManager {
	return &txManager{store: s}
}

type txKey struct{}

type txManager struct {
	store *Store
}

func (m *txManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// clone deep-copies through JSON so callers never alias stored records
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func cloneThread(t *chatModels.Thread) *chatModels.Thread {
	c := clone(t)
	// json:"-" field
	c.GenerationToken = t.GenerationToken
	return c
}
