package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"forkchat/internal/capabilities"
	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatRepo "forkchat/internal/domain/repositories/chat"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/repository/memory"
	"forkchat/internal/service/chat/providers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "user-1"
	otherUser = "user-2"
	testModel = "lorem-fast"
)

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []chatService.GenerationJob
	err  error
}

func (s *recordingScheduler) Schedule(_ context.Context, job chatService.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *recordingScheduler) last(t *testing.T) chatService.GenerationJob {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.jobs)
	return s.jobs[len(s.jobs)-1]
}

// localCanceller pretends the listed messages run in this process
type localCanceller struct {
	mu        sync.Mutex
	running   map[string]bool
	cancelled []string
}

func (c *localCanceller) Cancel(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running[messageID] {
		return false
	}
	c.cancelled = append(c.cancelled, messageID)
	return true
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	scheduler *recordingScheduler
	canceller *localCanceller
	providers *providers.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	caps, err := capabilities.NewRegistry()
	require.NoError(t, err)

	store := memory.NewStore()
	f := &fixture{
		store:     store,
		scheduler: &recordingScheduler{},
		canceller: &localCanceller{running: map[string]bool{}},
	}
	f.providers = providers.NewRegistry(caps, providers.Keys{})
	f.svc = NewService(f.config())
	return f
}

func (f *fixture) config() Config {
	return Config{
		Threads:      f.store.Threads(),
		Messages:     f.store.Messages(),
		TxManager:    f.store.TxManager(),
		Providers:    f.providers,
		Scheduler:    f.scheduler,
		Canceller:    f.canceller,
		DefaultModel: testModel,
		StaleAfter:   5 * time.Minute,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// finishReply plays the part of the runner for the latest scheduled job
func (f *fixture) finishReply(t *testing.T, text string) {
	t.Helper()
	ctx := context.Background()
	job := f.scheduler.last(t)
	ok, err := f.store.Messages().WriteSnapshot(ctx, job.MessageID, []chatModels.Part{chatModels.TextPart(text)}, chatModels.StatusStreaming)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.store.Messages().Finalize(ctx, job.MessageID, chatRepo.FinalWrite{Status: chatModels.StatusDone})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.store.Threads().FinishGeneration(ctx, job.ThreadID, job.Token, chatModels.GenerationCompleted)
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, threadID, content string) *GenerationResult {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:   testUser,
		ThreadID: threadID,
		Content:  content,
	})
	require.NoError(t, err)
	return res
}

func TestSubmitCreatesThread(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()

	res := f.submit(t, threadID, "Summarize the French Revolution")

	require.Equal(t, threadID, res.Thread.ID)
	require.Equal(t, chatModels.GenerationGenerating, res.Thread.GenerationStatus)
	require.Equal(t, 0, res.UserMessage.Position)
	require.Equal(t, chatModels.StatusDone, res.UserMessage.Status)
	require.Equal(t, 1, res.AssistantMessage.Position)
	require.Equal(t, chatModels.StatusWaiting, res.AssistantMessage.Status)
	require.Equal(t, testModel, res.AssistantMessage.Model)
	require.NotNil(t, res.AssistantMessage.ResumableStreamID)
	require.Equal(t, res.AssistantMessage.ID, *res.AssistantMessage.ResumableStreamID)

	job := f.scheduler.last(t)
	require.Equal(t, res.AssistantMessage.ID, job.MessageID)
	require.Equal(t, threadID, job.ThreadID)
	require.True(t, job.GenerateTitle)
	require.NotEmpty(t, job.Token)

	thread, err := f.store.Threads().GetThread(context.Background(), threadID, testUser)
	require.NoError(t, err)
	require.Equal(t, job.Token, thread.GenerationToken)
}

func TestSubmitGeneratesThreadIDWhenMissing(t *testing.T) {
	f := newFixture(t)

	res := f.submit(t, "", "hello")

	require.NoError(t, uuid.Validate(res.Thread.ID))
}

func TestSubmitConflictsWhileGenerating(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "first")

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:   testUser,
		ThreadID: threadID,
		Content:  "second",
	})

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, first.AssistantMessage.ID, conflict.ResourceID)
	require.Equal(t, 409, domain.StatusCode(err))
}

func TestSubmitAfterCompletion(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	f.submit(t, threadID, "first")
	f.finishReply(t, "answer")

	res := f.submit(t, threadID, "second")

	require.Equal(t, 2, res.UserMessage.Position)
	require.Equal(t, 3, res.AssistantMessage.Position)
	require.False(t, f.scheduler.last(t).GenerateTitle)
}

func TestSubmitMarksStaleGenerationFailed(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "first")

	f.svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	res := f.submit(t, threadID, "second")

	stale, err := f.store.Messages().GetMessage(context.Background(), first.AssistantMessage.ID, testUser)
	require.NoError(t, err)
	require.Equal(t, chatModels.StatusError, stale.Status)
	require.Equal(t, chatModels.ErrorTypeStale, stale.ServerError.Type)
	require.Equal(t, chatModels.StatusWaiting, res.AssistantMessage.Status)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "empty content", req: SubmitRequest{UserID: testUser}},
		{name: "bad thread id", req: SubmitRequest{UserID: testUser, ThreadID: "nope", Content: "hi"}},
		{name: "unknown model", req: SubmitRequest{UserID: testUser, Content: "hi", Model: "gpt-9"}},
		{name: "disabled model", req: SubmitRequest{UserID: testUser, Content: "hi", Model: "llama-4-scout"}},
		{name: "temperature out of range", req: SubmitRequest{UserID: testUser, Content: "hi", Params: chatModels.ModelParams{Temperature: ptr(3.0)}}},
		{name: "unknown reasoning effort", req: SubmitRequest{UserID: testUser, Content: "hi", Params: chatModels.ModelParams{ReasoningEffort: "max"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), &tt.req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	require.Empty(t, f.scheduler.jobs)
}

func TestSubmitOtherUsersThread(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	f.submit(t, threadID, "mine")

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:   otherUser,
		ThreadID: threadID,
		Content:  "theirs",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// lateThreads hides the thread from the first lookup, as when a concurrent
// first submit commits between our lookup and our insert.
type lateThreads struct {
	chatRepo.ThreadRepository
	hidden bool
}

func (r *lateThreads) LockThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	if !r.hidden {
		r.hidden = true
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return r.ThreadRepository.LockThread(ctx, threadID, userID)
}

func TestSubmitRacingFirstSubmit(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		finish     bool
		wantStatus int
	}{
		{name: "winner still generating", user: testUser, wantStatus: 409},
		{name: "winner finished", user: testUser, finish: true},
		{name: "other user's thread", user: otherUser, wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			threadID := uuid.NewString()
			winner := f.submit(t, threadID, "first")
			if tt.finish {
				f.finishReply(t, "done")
			}

			cfg := f.config()
			cfg.Threads = &lateThreads{ThreadRepository: f.store.Threads()}
			loser := NewService(cfg)

			res, err := loser.Submit(context.Background(), &SubmitRequest{
				UserID:   tt.user,
				ThreadID: threadID,
				Content:  "second",
			})

			if tt.wantStatus != 0 {
				require.Equal(t, tt.wantStatus, domain.StatusCode(err))
				var conflict *domain.ConflictError
				if errors.As(err, &conflict) {
					require.Equal(t, winner.AssistantMessage.ID, conflict.ResourceID)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, threadID, res.Thread.ID)
			require.Equal(t, 2, res.UserMessage.Position)
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc.limiter = NewSubmitLimiter(1, 1)

	f.submit(t, "", "one")
	_, err := f.svc.Submit(context.Background(), &SubmitRequest{UserID: testUser, Content: "two"})

	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.Equal(t, 429, domain.StatusCode(err))
}

func TestSubmitScheduleFailureFailsMessage(t *testing.T) {
	f := newFixture(t)
	f.scheduler.err = errors.New("broker down")
	threadID := uuid.NewString()

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{UserID: testUser, ThreadID: threadID, Content: "hi"})
	require.Error(t, err)

	ctx := context.Background()
	thread, err := f.store.Threads().GetThread(ctx, threadID, testUser)
	require.NoError(t, err)
	require.Equal(t, chatModels.GenerationFailed, thread.GenerationStatus)

	_, err = f.store.Messages().FindActiveAssistant(ctx, threadID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEditReplacesTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "first")
	f.finishReply(t, "answer one")
	f.submit(t, threadID, "second")
	f.finishReply(t, "answer two")

	res, err := f.svc.Edit(ctx, &EditRequest{
		UserID:    testUser,
		MessageID: first.UserMessage.ID,
		Content:   "first, rephrased",
	})
	require.NoError(t, err)

	messages, err := f.svc.ListMessages(ctx, threadID, testUser)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "first, rephrased", messages[0].Text())
	require.Equal(t, res.AssistantMessage.ID, messages[1].ID)
	require.Equal(t, chatModels.StatusWaiting, messages[1].Status)
	require.True(t, f.scheduler.last(t).GenerateTitle)
}

func TestEditSupersedesActiveReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "first")
	oldJob := f.scheduler.last(t)
	f.canceller.running[first.AssistantMessage.ID] = true

	_, err := f.svc.Edit(ctx, &EditRequest{UserID: testUser, MessageID: first.UserMessage.ID, Content: "again"})
	require.NoError(t, err)
	require.Equal(t, []string{first.AssistantMessage.ID}, f.canceller.cancelled)

	// The superseded attempt can no longer touch the thread
	applied, err := f.store.Threads().FinishGeneration(ctx, threadID, oldJob.Token, chatModels.GenerationCompleted)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestEditRejectsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, uuid.NewString(), "hi")

	_, err := f.svc.Edit(context.Background(), &EditRequest{
		UserID:    testUser,
		MessageID: res.AssistantMessage.ID,
		Content:   "changed",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRetryFromAssistantMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "question")
	f.finishReply(t, "bad answer")

	model := "lorem-slow"
	res, err := f.svc.Retry(ctx, &RetryRequest{UserID: testUser, MessageID: first.AssistantMessage.ID, Model: &model})
	require.NoError(t, err)

	require.Equal(t, first.UserMessage.ID, res.UserMessage.ID)
	require.Equal(t, "question", res.UserMessage.Text())
	require.Equal(t, model, res.AssistantMessage.Model)
	require.NotEqual(t, first.AssistantMessage.ID, res.AssistantMessage.ID)

	_, err = f.store.Messages().GetMessage(ctx, first.AssistantMessage.ID, testUser)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	first := f.submit(t, threadID, "first")
	f.finishReply(t, "answer one")
	second := f.submit(t, threadID, "second")

	branch, err := f.svc.Branch(ctx, &BranchRequest{
		UserID:        testUser,
		ThreadID:      threadID,
		FromMessageID: second.AssistantMessage.ID,
	})
	require.NoError(t, err)

	require.Equal(t, chatModels.GenerationCompleted, branch.GenerationStatus)
	require.Equal(t, threadID, *branch.BranchParentThreadID)
	require.Equal(t, second.AssistantMessage.ID, *branch.BranchParentMessageID)

	copied, err := f.svc.ListMessages(ctx, branch.ID, testUser)
	require.NoError(t, err)
	require.Len(t, copied, 4)
	require.NotEqual(t, first.UserMessage.ID, copied[0].ID)
	require.Equal(t, "answer one", copied[1].Text())
	require.Equal(t, chatModels.StatusCancelled, copied[3].Status)
	require.Nil(t, copied[3].ResumableStreamID)

	origin, err := f.store.Messages().GetMessage(ctx, second.AssistantMessage.ID, testUser)
	require.NoError(t, err)
	require.Equal(t, []string{branch.ID}, origin.Branches)
	require.Equal(t, chatModels.StatusWaiting, origin.Status)
	require.Len(t, f.scheduler.jobs, 2)
}

func TestBranchUnknownMessage(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	f.submit(t, threadID, "first")

	_, err := f.svc.Branch(context.Background(), &BranchRequest{
		UserID:        testUser,
		ThreadID:      threadID,
		FromMessageID: uuid.NewString(),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStop(t *testing.T) {
	tests := []struct {
		name       string
		local      bool
		finished   bool
		wantStop   bool
		wantReason string
		wantStatus chatModels.MessageStatus
	}{
		{name: "local attempt", local: true, wantStop: true, wantReason: stopCancelled, wantStatus: chatModels.StatusWaiting},
		{name: "remote attempt", wantStop: true, wantReason: stopMarked, wantStatus: chatModels.StatusCancelled},
		{name: "nothing active", finished: true, wantReason: stopIdle, wantStatus: chatModels.StatusDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			threadID := uuid.NewString()
			res := f.submit(t, threadID, "hi")
			if tt.local {
				f.canceller.running[res.AssistantMessage.ID] = true
			}
			if tt.finished {
				f.finishReply(t, "done")
			}

			out, err := f.svc.Stop(ctx, &StopRequest{UserID: testUser, ThreadID: threadID})
			require.NoError(t, err)
			require.Equal(t, tt.wantStop, out.Stopped)
			require.Equal(t, tt.wantReason, out.Reason)

			msg, err := f.store.Messages().GetMessage(ctx, res.AssistantMessage.ID, testUser)
			require.NoError(t, err)
			// A local attempt writes its own terminal status
			require.Equal(t, tt.wantStatus, msg.Status)

			if tt.wantReason == stopMarked {
				thread, err := f.store.Threads().GetThread(ctx, threadID, testUser)
				require.NoError(t, err)
				require.Equal(t, chatModels.GenerationCompleted, thread.GenerationStatus)
			}
		})
	}
}

func TestUpdateThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	f.submit(t, threadID, "hi")

	title := "  Trip planning "
	pinned := true
	thread, err := f.svc.UpdateThread(ctx, threadID, testUser, &UpdateThreadRequest{Title: &title, Pinned: &pinned})
	require.NoError(t, err)
	require.Equal(t, "Trip planning", thread.Title)
	require.True(t, thread.UserSetTitle)
	require.True(t, thread.Pinned)

	blank := "   "
	_, err = f.svc.UpdateThread(ctx, threadID, testUser, &UpdateThreadRequest{Title: &blank})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.UpdateThread(ctx, threadID, otherUser, &UpdateThreadRequest{Pinned: &pinned})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteThreadCancelsActiveReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	res := f.submit(t, threadID, "hi")
	f.canceller.running[res.AssistantMessage.ID] = true

	require.NoError(t, f.svc.DeleteThread(ctx, threadID, testUser))

	require.Equal(t, []string{res.AssistantMessage.ID}, f.canceller.cancelled)
	_, err := f.svc.GetThread(ctx, threadID, testUser)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteThread(ctx, threadID, testUser), domain.ErrNotFound)
}

func TestDeleteMessageTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	res := f.submit(t, threadID, "hi")

	require.NoError(t, f.svc.DeleteMessage(ctx, res.AssistantMessage.ID, testUser))

	msg, err := f.store.Messages().GetMessage(ctx, res.AssistantMessage.ID, testUser)
	require.NoError(t, err)
	require.Equal(t, chatModels.StatusDeleted, msg.Status)

	thread, err := f.svc.GetThread(ctx, threadID, testUser)
	require.NoError(t, err)
	require.Equal(t, chatModels.GenerationCompleted, thread.GenerationStatus)

	messages, err := f.svc.ListMessages(ctx, threadID, testUser)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.ErrorIs(t, f.svc.DeleteMessage(ctx, res.AssistantMessage.ID, testUser), domain.ErrNotFound)
}

func TestReportError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	threadID := uuid.NewString()
	res := f.submit(t, threadID, "hi")

	msg, err := f.svc.ReportError(ctx, &ReportErrorRequest{
		UserID:    testUser,
		MessageID: res.AssistantMessage.ID,
		Message:   "connection reset",
		Rejected:  true,
	})
	require.NoError(t, err)
	require.Equal(t, chatModels.StatusErrorRejected, msg.Status)
	require.Equal(t, chatModels.ErrorTypeClient, msg.ServerError.Type)

	thread, err := f.svc.GetThread(ctx, threadID, testUser)
	require.NoError(t, err)
	require.Equal(t, chatModels.GenerationFailed, thread.GenerationStatus)

	_, err = f.svc.ReportError(ctx, &ReportErrorRequest{
		UserID:    testUser,
		MessageID: res.AssistantMessage.ID,
		Message:   "again",
	})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestSummaryRequiresAuxiliary(t *testing.T) {
	f := newFixture(t)
	threadID := uuid.NewString()
	f.submit(t, threadID, "hi")

	_, err := f.svc.Summary(context.Background(), threadID, testUser)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func ptr[T any](v T) *T { return &v }
