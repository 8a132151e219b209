package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chatService "forkchat/internal/domain/services/chat"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Worker consumes generation jobs with a fixed pool of goroutines
type Worker struct {
	runner      chatService.JobRunner
	concurrency int
	logger      *slog.Logger
}

func NewWorker(runner chatService.JobRunner, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{runner: runner, concurrency: concurrency, logger: logger}
}

// Consume subscribes to the queue and processes jobs until ctx is cancelled.
// Prefetch matches the pool size so the broker never hands out more jobs than
// can run. Attempts in flight at shutdown finish before Consume returns.
func (w *Worker) Consume(ctx context.Context, conn *Connection) error {
	if err := conn.ch.Qos(w.concurrency, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := conn.ch.Consume(conn.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", conn.queue, err)
	}

	w.logger.Info("worker started", "queue", conn.queue, "concurrency", w.concurrency)
	return w.process(ctx, deliveries)
}

func (w *Worker) process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	jobs := make(chan amqp.Delivery)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				w.handle(ctx, workerID, d)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				// Unstarted job goes back to the queue for another worker
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	var job chatService.GenerationJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.MessageID == "" || job.ThreadID == "" {
		w.logger.Error("dropping undecodable job",
			"worker", workerID,
			"delivery_tag", d.DeliveryTag,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	// Run always writes a terminal status, so the job is acked either way.
	// Shutdown cancellation ends the attempt as cancelled rather than orphaning it.
	w.runner.Run(ctx, job)

	if err := d.Ack(false); err != nil {
		w.logger.Error("ack failed", "worker", workerID, "message_id", job.MessageID, "error", err)
		return
	}
	w.logger.Debug("job done",
		"worker", workerID,
		"message_id", job.MessageID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}
