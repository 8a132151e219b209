// Package rabbitmq moves generation attempts to worker processes over AMQP.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	chatService "forkchat/internal/domain/services/chat"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// Connection is a channel on a dialed broker with the generation queues declared
type Connection struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Dial connects to the broker and declares the generation queue together with
// its dead-letter queue, which collects undecodable jobs.
func Dial(url, queue string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Connection{conn: conn, ch: ch, queue: queue}, nil
}

func declareQueues(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	// nack without requeue dead-letters to the DLQ
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

func (c *Connection) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// channelPublisher is the part of *amqp.Channel the scheduler needs
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Scheduler publishes detached attempts to the queue. Live attempts have an
// HTTP relay in this process and are handed to the local scheduler.
type Scheduler struct {
	publisher channelPublisher
	queue     string
	local     chatService.Scheduler
	logger    *slog.Logger
}

func NewScheduler(conn *Connection, local chatService.Scheduler, logger *slog.Logger) *Scheduler {
	return newScheduler(conn.ch, conn.queue, local, logger)
}

func newScheduler(p channelPublisher, queue string, local chatService.Scheduler, logger *slog.Logger) *Scheduler {
	return &Scheduler{publisher: p, queue: queue, local: local, logger: logger}
}

func (s *Scheduler) Schedule(ctx context.Context, job chatService.GenerationJob) error {
	if job.Live {
		return s.local.Schedule(ctx, job)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = s.publisher.PublishWithContext(pctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.MessageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.MessageID, err)
	}

	s.logger.Debug("generation job published", "message_id", job.MessageID, "queue", s.queue)
	return nil
}
