// Package generation drives a single assistant message from waiting to a
// terminal status: it consumes the provider stream, snapshots the
// accumulated parts into the message store, appends every chunk to the
// resumable stream store and relays it to live subscribers.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"forkchat/internal/config"
	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatRepo "forkchat/internal/domain/repositories/chat"
	chatService "forkchat/internal/domain/services/chat"
)

// Config wires the runner's collaborators
type Config struct {
	Threads      chatRepo.ThreadRepository
	Messages     chatRepo.MessageRepository
	Providers    chatService.ProviderResolver
	Streams      chatService.StreamStore
	Relay        chatService.Relay // optional
	Auxiliary    *Auxiliary        // optional, disables titles when nil
	FlushModulus int
	Logger       *slog.Logger
}

// Runner executes generation jobs. It is safe for concurrent use;
// each Run call owns its own attempt state.
type Runner struct {
	threads   chatRepo.ThreadRepository
	messages  chatRepo.MessageRepository
	providers chatService.ProviderResolver
	streams   chatService.StreamStore
	relay     chatService.Relay
	aux       *Auxiliary
	modulus   int
	logger    *slog.Logger
	now       func() time.Time
}

var _ chatService.JobRunner = (*Runner)(nil)

func NewRunner(cfg Config) *Runner {
	relay := cfg.Relay
	if relay == nil {
		relay = noopRelay{}
	}
	modulus := cfg.FlushModulus
	if modulus <= 0 {
		modulus = config.DefaultSnapshotFlushModulus
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		threads:   cfg.Threads,
		messages:  cfg.Messages,
		providers: cfg.Providers,
		streams:   cfg.Streams,
		relay:     relay,
		aux:       cfg.Auxiliary,
		modulus:   modulus,
		logger:    logger,
		now:       time.Now,
	}
}

// attempt is the state of one Run call
type attempt struct {
	r      *Runner
	job    chatService.GenerationJob
	logger *slog.Logger

	acc        *accumulator
	status     chatModels.MessageStatus
	model      string
	index      int
	pending    []chatModels.Chunk // relayed but not yet stored, in order
	streamOpen bool
	start      time.Time
	firstToken time.Time
	deltas     int
	finish     *chatModels.Finish

	// terminal is set once a terminal write was attempted or another
	// writer is known to own the message
	terminal bool
}

// Run executes the job to completion. Every path ends in exactly one
// terminal status write, including panics inside the attempt.
// Cancelling ctx stops the attempt with status cancelled.
func (r *Runner) Run(ctx context.Context, job chatService.GenerationJob) {
	a := &attempt{
		r:      r,
		job:    job,
		logger: r.logger.With("message_id", job.MessageID, "thread_id", job.ThreadID),
		acc:    newAccumulator(r.modulus),
		start:  r.now(),
	}

	// Store writes outlive cancellation of the attempt
	writeCtx := context.WithoutCancel(ctx)

	defer r.relay.Close(job.MessageID)
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("generation panicked",
				"panic", p,
				"stack", string(debug.Stack()),
			)
			a.fail(writeCtx, fmt.Errorf("panic: %v", p), chatModels.ErrorTypeInternal)
			return
		}
		if !a.terminal {
			a.fail(writeCtx, errors.New("generation ended without a terminal status"), chatModels.ErrorTypeInternal)
		}
	}()

	a.run(ctx, writeCtx)
}

func (a *attempt) run(ctx, writeCtx context.Context) {
	r := a.r

	msg, err := r.messages.GetMessage(writeCtx, a.job.MessageID, a.job.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.logger.Debug("message gone before generation started")
			a.terminal = true
			return
		}
		a.fail(writeCtx, fmt.Errorf("failed to load message: %w", err), chatModels.ErrorTypeInternal)
		return
	}
	if !msg.Status.IsActive() {
		a.logger.Debug("message no longer active, skipping", "status", msg.Status)
		a.terminal = true
		return
	}

	history, err := r.messages.ListMessages(writeCtx, msg.ThreadID, a.job.UserID)
	if err != nil {
		a.fail(writeCtx, fmt.Errorf("failed to load history: %w", err), chatModels.ErrorTypeInternal)
		return
	}

	provider, resolved, err := r.providers.Resolve(msg.Model)
	if err != nil {
		a.fail(writeCtx, err, chatModels.ErrorTypeConfiguration)
		return
	}
	a.model = resolved.ID

	thinking := resolved.SupportsReasoning && msg.ModelParams.ReasoningEffort != ""
	a.status = chatModels.StatusStreaming
	if thinking {
		a.status = chatModels.StatusThinking
	}
	ok, err := r.messages.TransitionStatus(writeCtx, msg.ID, []chatModels.MessageStatus{chatModels.StatusWaiting}, a.status)
	if err != nil {
		a.fail(writeCtx, fmt.Errorf("failed to start generation: %w", err), chatModels.ErrorTypeInternal)
		return
	}
	if !ok {
		// Stopped or superseded between admission and start
		a.logger.Info("message left waiting before start, skipping")
		a.terminal = true
		return
	}

	if err := r.streams.Begin(writeCtx, msg.ID); err != nil {
		a.logger.Warn("resumable stream unavailable", "error", err)
	} else {
		a.streamOpen = true
	}

	if ctx.Err() != nil {
		a.cancel(writeCtx)
		return
	}

	maxTokens := resolved.MaxOutput
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxOutputTokens
	}
	req := &chatService.GenerateRequest{
		Model:     resolved.UpstreamID,
		System:    systemPrompt(msg.ModelParams),
		Messages:  buildHistory(history, msg),
		Params:    msg.ModelParams,
		Thinking:  thinking,
		MaxTokens: maxTokens,
	}

	// streamCtx also stops the provider when the attempt is abandoned
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	a.logger.Debug("starting provider stream",
		"model", resolved.ID,
		"provider", resolved.Kind,
		"history", len(req.Messages),
		"thinking", thinking,
	)

	events, err := provider.Stream(streamCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			a.cancel(writeCtx)
			return
		}
		a.fail(writeCtx, err, chatModels.ErrorTypeProvider)
		return
	}

	if a.consume(ctx, writeCtx, events) {
		a.generateTitle(writeCtx, history)
	}
}

// consume reads provider events until the stream ends, fails or is cancelled.
// Reports whether the message finished done.
func (a *attempt) consume(ctx, writeCtx context.Context, events <-chan chatService.StreamEvent) bool {
	for {
		select {
		case <-ctx.Done():
			a.cancel(writeCtx)
			return false
		case ev, ok := <-events:
			// A chunk that races with cancellation is discarded
			if ctx.Err() != nil {
				a.cancel(writeCtx)
				return false
			}
			if !ok {
				return a.complete(writeCtx)
			}
			if !a.handle(writeCtx, ev) {
				return false
			}
		}
	}
}

// handle applies one event. Reports false when the attempt ended.
func (a *attempt) handle(ctx context.Context, ev chatService.StreamEvent) bool {
	switch ev.Kind {
	case chatService.EventTextDelta:
		if ev.Text == "" {
			return true
		}
		a.markToken()
		flush := a.acc.addText(ev.Text)
		if a.status == chatModels.StatusThinking {
			a.status = chatModels.StatusStreaming
			flush = true
		}
		a.emit(ctx, chatModels.Chunk{Type: chatModels.ChunkTextDelta, Text: ev.Text})
		if flush {
			return a.snapshot(ctx)
		}

	case chatService.EventReasoningDelta:
		if ev.Text == "" {
			return true
		}
		a.markToken()
		flush := a.acc.addReasoning(ev.Text)
		a.emit(ctx, chatModels.Chunk{Type: chatModels.ChunkReasoningDelta, Text: ev.Text})
		if flush {
			return a.snapshot(ctx)
		}

	case chatService.EventToolCall:
		if ev.ToolCall == nil {
			return true
		}
		a.acc.addToolCall(ev.ToolCall)
		a.emit(ctx, chatModels.Chunk{Type: chatModels.ChunkToolCall, ToolCall: ev.ToolCall})
		return a.snapshot(ctx)

	case chatService.EventFinish:
		a.finish = ev.Finish

	case chatService.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("provider stream failed")
		}
		a.fail(ctx, err, chatModels.ErrorTypeProvider)
		return false
	}
	return true
}

func (a *attempt) markToken() {
	a.deltas++
	if a.firstToken.IsZero() {
		a.firstToken = a.r.now()
	}
}

// emit queues the chunk for the resumable stream and relays it. Chunks whose
// append failed stay queued and are retried in order before the next one,
// so the stored stream never skips an index the relay already delivered.
func (a *attempt) emit(ctx context.Context, chunk chatModels.Chunk) {
	if a.streamOpen {
		a.pending = append(a.pending, chunk)
		a.flushPending(ctx)
	}
	a.r.relay.Publish(a.job.MessageID, chunk)
}

// flushPending appends queued chunks until the first failure.
func (a *attempt) flushPending(ctx context.Context) {
	for len(a.pending) > 0 {
		err := a.r.streams.Append(ctx, a.job.MessageID, a.index, a.pending[0])
		if err != nil && !a.appliedDespite(ctx, err) {
			a.logger.Warn("failed to append stream chunk",
				"index", a.index,
				"queued", len(a.pending),
				"error", err,
			)
			return
		}
		a.pending[0] = chatModels.Chunk{}
		a.pending = a.pending[1:]
		a.index++
	}
}

// appliedDespite reports whether an append that returned an index conflict
// was in fact stored by an earlier attempt whose reply was lost.
func (a *attempt) appliedDespite(ctx context.Context, err error) bool {
	if !errors.Is(err, chatService.ErrIndexConflict) {
		return false
	}
	meta, metaErr := a.r.streams.Meta(ctx, a.job.MessageID)
	return metaErr == nil && !meta.IsComplete && meta.TotalParts == a.index+1
}

// snapshot replaces the message parts with the full accumulation.
// Reports false when the message left the active states, which abandons the attempt.
func (a *attempt) snapshot(ctx context.Context) bool {
	ok, err := a.r.messages.WriteSnapshot(ctx, a.job.MessageID, a.acc.parts(), a.status)
	if err != nil {
		// The next flush or the terminal write carries the same content
		a.logger.Warn("failed to write snapshot", "error", err)
		return true
	}
	if !ok {
		a.logger.Info("message finalized elsewhere, abandoning attempt")
		a.terminal = true
		a.completeStream(ctx)
		return false
	}
	a.acc.markFlushed()
	return true
}

// complete handles stream exhaustion.
func (a *attempt) complete(ctx context.Context) bool {
	if a.finish != nil && rejectionStopReasons[a.finish.StopReason] {
		a.fail(ctx, fmt.Errorf("stop reason %s: %w", a.finish.StopReason, chatService.ErrRejected), chatModels.ErrorTypeRejected)
		return false
	}

	finish := a.finish
	if finish == nil {
		finish = &chatModels.Finish{Model: a.model, StopReason: "stop"}
	}
	return a.finalize(ctx, chatRepo.FinalWrite{
		Status:  chatModels.StatusDone,
		Parts:   a.acc.parts(),
		Metrics: a.metrics(),
	}, chatModels.Chunk{Type: chatModels.ChunkFinish, Finish: finish})
}

// cancel persists the accumulation applied so far with status cancelled.
func (a *attempt) cancel(ctx context.Context) {
	a.logger.Info("generation cancelled", "chunks", a.index)
	a.finalize(ctx, chatRepo.FinalWrite{
		Status:  chatModels.StatusCancelled,
		Parts:   a.acc.parts(),
		Metrics: a.metrics(),
	}, chatModels.Chunk{
		Type:   chatModels.ChunkFinish,
		Finish: &chatModels.Finish{Model: a.model, StopReason: "cancelled"},
	})
}

// fail classifies err and writes the error terminal status.
func (a *attempt) fail(ctx context.Context, err error, fallback string) {
	f := classify(err, fallback)
	a.logger.Warn("generation failed",
		"error", err,
		"status", f.status,
		"error_type", f.err.Type,
	)
	serverErr := f.err
	a.finalize(ctx, chatRepo.FinalWrite{
		Status:      f.status,
		Parts:       a.acc.parts(),
		ServerError: &serverErr,
		Metrics:     a.metrics(),
	}, chatModels.Chunk{Type: chatModels.ChunkError, Error: &serverErr})
}

// finalize is the single terminal write of the attempt: message status,
// thread status under the attempt token, and stream completion.
// Reports whether this attempt's write applied.
func (a *attempt) finalize(ctx context.Context, final chatRepo.FinalWrite, chunk chatModels.Chunk) bool {
	a.terminal = true
	a.emit(ctx, chunk)
	defer a.completeStream(ctx)
	defer a.r.relay.Close(a.job.MessageID)

	ok, err := a.r.messages.Finalize(ctx, a.job.MessageID, final)
	if err != nil {
		// Left active; the next submit on the thread marks it stale
		a.logger.Error("failed to write terminal status",
			"status", final.Status,
			"error", err,
		)
		return false
	}
	if !ok {
		a.logger.Info("message already terminal, keeping existing status", "status", final.Status)
		return false
	}

	threadStatus := chatModels.ThreadStatusFor(final.Status)
	applied, err := a.r.threads.FinishGeneration(ctx, a.job.ThreadID, a.job.Token, threadStatus)
	if err != nil {
		a.logger.Error("failed to write thread status", "error", err)
	} else if !applied {
		a.logger.Debug("thread owned by a newer attempt, status untouched")
	}

	a.logger.Info("generation finished",
		"status", final.Status,
		"chunks", a.index,
		"elapsed_ms", a.r.now().Sub(a.start).Milliseconds(),
	)
	return true
}

// completeStream retries queued chunks once more and marks the stream
// complete. Completion is written even when chunks are still missing, so
// resuming readers stop instead of waiting for parts that never arrive.
func (a *attempt) completeStream(ctx context.Context) {
	if !a.streamOpen {
		return
	}
	a.streamOpen = false
	a.flushPending(ctx)
	if len(a.pending) > 0 {
		a.logger.Error("resumable stream incomplete",
			"stored", a.index,
			"lost", len(a.pending),
		)
		a.pending = nil
	}
	if err := a.r.streams.Complete(ctx, a.job.MessageID); err != nil {
		a.logger.Warn("failed to complete resumable stream", "error", err)
	}
}

func (a *attempt) metrics() chatModels.Metrics {
	var m chatModels.Metrics
	if a.firstToken.IsZero() {
		return m
	}
	ttft := a.firstToken.Sub(a.start).Milliseconds()
	m.TimeToFirstToken = &ttft

	tokens := a.deltas
	if a.finish != nil && a.finish.OutputTokens > 0 {
		tokens = a.finish.OutputTokens
	}
	m.Tokens = &tokens
	if elapsed := a.r.now().Sub(a.firstToken).Seconds(); elapsed > 0 {
		tps := float64(tokens) / elapsed
		m.TokensPerSecond = &tps
	}
	return m
}

// generateTitle titles the thread after its first exchange. Best effort.
func (a *attempt) generateTitle(ctx context.Context, history []chatModels.Message) {
	if !a.job.GenerateTitle || a.r.aux == nil {
		return
	}
	title, err := a.r.aux.Title(ctx, firstUserText(history), a.acc.text.String())
	if err != nil {
		a.logger.Warn("title generation failed", "error", err)
		return
	}
	if _, err := a.r.threads.SetGeneratedTitle(ctx, a.job.ThreadID, title); err != nil {
		a.logger.Warn("failed to store generated title", "error", err)
		return
	}
	a.logger.Debug("thread titled", "title", title)
}

type noopRelay struct{}

func (noopRelay) Publish(string, chatModels.Chunk) {}
func (noopRelay) Close(string)                     {}
