package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	chatService "forkchat/internal/domain/services/chat"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	key  string
	msgs []amqp.Publishing
	err  error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.key = key
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeLocal struct{ jobs []chatService.GenerationJob }

func (l *fakeLocal) Schedule(_ context.Context, job chatService.GenerationJob) error {
	l.jobs = append(l.jobs, job)
	return nil
}

func TestSchedulerRoutesJobs(t *testing.T) {
	pub := &fakePublisher{}
	local := &fakeLocal{}
	s := newScheduler(pub, "generation", local, discardLogger())
	ctx := context.Background()

	detached := chatService.GenerationJob{MessageID: "m1", ThreadID: "t1", UserID: "u1", Token: "tok"}
	live := chatService.GenerationJob{MessageID: "m2", ThreadID: "t1", UserID: "u1", Token: "tok", Live: true}

	require.NoError(t, s.Schedule(ctx, detached))
	require.NoError(t, s.Schedule(ctx, live))

	require.Equal(t, []chatService.GenerationJob{live}, local.jobs)
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "generation", pub.key)
	require.Equal(t, amqp.Persistent, pub.msgs[0].DeliveryMode)
	require.Equal(t, "m1", pub.msgs[0].MessageId)

	var decoded chatService.GenerationJob
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &decoded))
	require.Equal(t, detached, decoded)
}

func TestSchedulerPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	s := newScheduler(pub, "generation", &fakeLocal{}, discardLogger())

	err := s.Schedule(context.Background(), chatService.GenerationJob{MessageID: "m1"})
	require.ErrorContains(t, err, "channel closed")
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) snapshot() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type countingRunner struct {
	mu   sync.Mutex
	jobs []string
}

func (r *countingRunner) Run(_ context.Context, job chatService.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.MessageID)
}

func TestWorkerProcessesDeliveries(t *testing.T) {
	defer goleak.VerifyNone(t)

	acker := &fakeAcknowledger{}
	runner := &countingRunner{}
	w := NewWorker(runner, 2, discardLogger())

	good, err := json.Marshal(chatService.GenerationJob{MessageID: "m1", ThreadID: "t1"})
	require.NoError(t, err)

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: good}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("not json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.process(ctx, deliveries) }()

	require.Eventually(t, func() bool { return len(acker.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.ElementsMatch(t, []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, ack: false, requeue: false},
	}, acker.snapshot())
	require.Equal(t, []string{"m1"}, runner.jobs)
}

func TestWorkerStopsWhenDeliveriesClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := NewWorker(&countingRunner{}, 1, discardLogger())
	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	err := w.process(context.Background(), deliveries)
	require.Error(t, err)
}
