// Package streaming runs generation attempts in this process and relays
// their chunks to live HTTP connections.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"forkchat/internal/domain"
	chatService "forkchat/internal/domain/services/chat"

	mstream "github.com/haowjy/meridian-stream-go"
)

// ErrShuttingDown is returned by Schedule after Shutdown started
var ErrShuttingDown = errors.New("executor is shutting down")

// Executor runs each attempt as an mstream stream keyed by message ID.
// Cancelling the stream cancels the attempt's context.
type Executor struct {
	runner   chatService.JobRunner
	registry *mstream.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var (
	_ chatService.Scheduler = (*Executor)(nil)
	_ chatService.Canceller = (*Executor)(nil)
)

func NewExecutor(runner chatService.JobRunner, logger *slog.Logger) *Executor {
	return &Executor{
		runner:   runner,
		registry: mstream.NewRegistry(),
		logger:   logger,
		running:  make(map[string]struct{}),
	}
}

// Schedule starts the attempt in the background and returns immediately.
func (e *Executor) Schedule(ctx context.Context, job chatService.GenerationJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrShuttingDown
	}
	if _, ok := e.running[job.MessageID]; ok {
		return fmt.Errorf("attempt for message %s already running: %w", job.MessageID, domain.ErrConflict)
	}

	stream := mstream.NewStream(job.MessageID, func(ctx context.Context, _ func(mstream.Event)) error {
		defer e.done(job.MessageID)
		e.runner.Run(ctx, job)
		return nil
	})

	e.running[job.MessageID] = struct{}{}
	e.wg.Add(1)
	e.registry.Register(stream)
	stream.Start()

	e.logger.Debug("generation scheduled",
		"message_id", job.MessageID,
		"thread_id", job.ThreadID,
		"live", job.Live,
	)
	return nil
}

func (e *Executor) done(messageID string) {
	e.mu.Lock()
	delete(e.running, messageID)
	e.mu.Unlock()
	e.wg.Done()
}

// Cancel stops a locally running attempt. Reports false when none runs here.
func (e *Executor) Cancel(messageID string) bool {
	e.mu.Lock()
	_, ok := e.running[messageID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	stream := e.registry.Get(messageID)
	if stream == nil {
		return false
	}
	stream.Cancel()
	e.logger.Info("generation cancel requested", "message_id", messageID)
	return true
}

// Running returns the number of attempts in flight.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown stops accepting jobs and waits for in-flight attempts.
// When ctx expires first, remaining attempts are cancelled, which makes
// them write their cancelled status, and Shutdown waits for that.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	e.mu.Lock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	e.logger.Warn("cancelling attempts still running at shutdown", "count", len(ids))
	for _, id := range ids {
		e.Cancel(id)
	}
	<-drained
	return ctx.Err()
}
