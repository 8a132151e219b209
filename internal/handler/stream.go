package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/httputil"
	chatSvc "forkchat/internal/service/chat"
	"forkchat/internal/service/chat/streaming"

	"github.com/google/uuid"
)

const (
	// storePollInterval paces tailing the stream store after falling off the live relay
	storePollInterval = 100 * time.Millisecond
	// storeIdleTimeout ends a tail whose stream stopped growing without completing
	storeIdleTimeout = 2 * time.Minute
)

var errTailIdle = errors.New("stream store stopped advancing")

// Submitter admits a new generation
type Submitter interface {
	Submit(ctx context.Context, req *chatSvc.SubmitRequest) (*chatSvc.GenerationResult, error)
}

// LiveRelay attaches HTTP connections to running attempts
type LiveRelay interface {
	Subscribe(messageID string) (*streaming.Subscription, func())
}

// StreamHandler serves the NDJSON chat endpoints
type StreamHandler struct {
	chat    Submitter
	relay   LiveRelay
	streams chatService.StreamStore
	logger  *slog.Logger

	tailIdle time.Duration
}

func NewStreamHandler(chat Submitter, relay LiveRelay, streams chatService.StreamStore, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		chat:     chat,
		relay:    relay,
		streams:  streams,
		logger:   logger,
		tailIdle: storeIdleTimeout,
	}
}

type chatPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	ID          string     `json:"id"`
	Role        string     `json:"role"`
	Parts       []chatPart `json:"parts"`
	Attachments []string   `json:"attachments"`
}

type chatModelParams struct {
	Temperature     *float64                   `json:"temperature"`
	TopP            *float64                   `json:"topP"`
	TopK            *int                       `json:"topK"`
	ReasoningEffort chatModels.ReasoningEffort `json:"reasoningEffort"`
	IncludeSearch   bool                       `json:"includeSearch"`
}

type chatRequest struct {
	Messages          []chatMessage   `json:"messages"`
	Model             string          `json:"model"`
	ModelParams       chatModelParams `json:"modelParams"`
	ThreadID          string          `json:"threadId"`
	ResponseMessageID string          `json:"responseMessageId"`
}

// latestUserMessage returns the last user message the client sent. Earlier
// history is already stored, so only its text and attachments are used.
func (r *chatRequest) latestUserMessage() (string, []string, error) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		m := r.Messages[i]
		if m.Role != string(chatModels.RoleUser) {
			continue
		}
		var text string
		for _, p := range m.Parts {
			if p.Type == string(chatModels.PartText) {
				text += p.Text
			}
		}
		return text, m.Attachments, nil
	}
	return "", nil, fmt.Errorf("%w: no user message in request", domain.ErrValidation)
}

// Chat admits a generation and streams its chunks as NDJSON while it runs.
// Dropping the connection leaves the generation running.
// POST /chat
func (h *StreamHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleStreamError(w, h.logger, err)
		return
	}
	content, attachments, err := req.latestUserMessage()
	if err != nil {
		handleStreamError(w, h.logger, err)
		return
	}

	responseID := req.ResponseMessageID
	if responseID == "" {
		responseID = uuid.NewString()
	}

	// Subscribe first so no chunk is published before we listen
	sub, unsubscribe := h.relay.Subscribe(responseID)
	defer unsubscribe()

	result, err := h.chat.Submit(r.Context(), &chatSvc.SubmitRequest{
		UserID:   httputil.GetUserID(r),
		ThreadID: req.ThreadID,
		Content:  content,
		Model:    req.Model,
		Params: chatModels.ModelParams{
			Temperature:     req.ModelParams.Temperature,
			TopP:            req.ModelParams.TopP,
			TopK:            req.ModelParams.TopK,
			ReasoningEffort: req.ModelParams.ReasoningEffort,
			IncludeSearch:   req.ModelParams.IncludeSearch,
		},
		AttachmentIDs:      attachments,
		AssistantMessageID: responseID,
		Live:               true,
	})
	if err != nil {
		handleStreamError(w, h.logger, err)
		return
	}

	w.Header().Set("X-Thread-Id", result.Thread.ID)
	w.Header().Set("X-Message-Id", result.AssistantMessage.ID)
	out := startNDJSON(w)

	next, err := h.relayLive(r.Context(), out, sub)
	if err != nil {
		h.logger.Debug("chat client went away", "message_id", responseID, "error", err)
		return
	}
	if sub.Lagged() {
		h.logger.Info("chat client fell behind, continuing from stream store", "message_id", responseID)
		if err := h.tailStore(r.Context(), out, responseID, next); err != nil {
			h.logger.Debug("chat tail ended", "message_id", responseID, "error", err)
		}
	}
}

// relayLive copies relay chunks to the client until the topic closes.
// Returns the index of the next chunk the client has not seen.
func (h *StreamHandler) relayLive(ctx context.Context, out *ndjsonWriter, sub *streaming.Subscription) (int, error) {
	next := 0
	for {
		select {
		case <-ctx.Done():
			return next, ctx.Err()
		case chunk, ok := <-sub.C:
			if !ok {
				return next, nil
			}
			if err := out.write(chunk); err != nil {
				return next, err
			}
			next++
		}
	}
}

// tailStore streams stored chunks from index next until the stream completes,
// or until it has not grown for tailIdle.
func (h *StreamHandler) tailStore(ctx context.Context, out *ndjsonWriter, messageID string, next int) error {
	ticker := time.NewTicker(storePollInterval)
	defer ticker.Stop()

	lastProgress := time.Now()
	for {
		before := next
		err := h.streams.Replay(ctx, messageID, next, func(part chatModels.StreamPart) error {
			if err := out.write(part.Chunk); err != nil {
				return err
			}
			next = part.Index + 1
			return nil
		})
		if err != nil {
			return err
		}

		meta, err := h.streams.Meta(ctx, messageID)
		if err != nil {
			return err
		}
		if meta.IsComplete && next >= meta.TotalParts {
			return nil
		}
		if next > before {
			lastProgress = time.Now()
		} else if time.Since(lastProgress) >= h.tailIdle {
			return errTailIdle
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type resumeRequest struct {
	ResponseMessageID     string `json:"responseMessageId"`
	LastReceivedPartIndex *int   `json:"lastReceivedPartIndex"`
}

// Resume replays stored chunks after the last index the client received,
// up to the last index stored when the request arrived. A completed stream
// is purged once replayed.
// POST /chat/resume
func (h *StreamHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleStreamError(w, h.logger, err)
		return
	}
	if req.ResponseMessageID == "" {
		handleStreamError(w, h.logger, fmt.Errorf("%w: responseMessageId is required", domain.ErrValidation))
		return
	}
	last := -1
	if req.LastReceivedPartIndex != nil {
		last = *req.LastReceivedPartIndex
	}

	meta, err := h.streams.Meta(r.Context(), req.ResponseMessageID)
	if errors.Is(err, chatService.ErrStreamNotFound) {
		httputil.RespondErrorMessage(w, http.StatusNotFound, "Stream data not found or expired")
		return
	}
	if err != nil {
		handleStreamError(w, h.logger, err)
		return
	}

	out := startNDJSON(w)
	replayed := 0
	err = h.streams.Replay(r.Context(), req.ResponseMessageID, last+1, func(part chatModels.StreamPart) error {
		if part.Index >= meta.TotalParts {
			return errReplayDone
		}
		replayed++
		return out.write(part.Chunk)
	})
	if err != nil && !errors.Is(err, errReplayDone) {
		// Headers are out; the client sees a short stream and resumes again
		h.logger.Warn("resume replay failed", "message_id", req.ResponseMessageID, "error", err)
		return
	}

	if meta.IsComplete {
		if err := h.streams.Purge(context.WithoutCancel(r.Context()), req.ResponseMessageID); err != nil {
			h.logger.Warn("failed to purge replayed stream", "message_id", req.ResponseMessageID, "error", err)
		}
	}
	h.logger.Debug("stream resumed",
		"message_id", req.ResponseMessageID,
		"from", last+1,
		"replayed", replayed,
		"complete", meta.IsComplete,
	)
}

var errReplayDone = errors.New("replay reached snapshot end")

// ndjsonWriter writes one JSON value per line and flushes after each
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startNDJSON(w http.ResponseWriter) *ndjsonWriter {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := &ndjsonWriter{w: w}
	out.flusher, _ = w.(http.Flusher)
	if out.flusher != nil {
		out.flusher.Flush()
	}
	return out
}

func (n *ndjsonWriter) write(chunk chatModels.Chunk) error {
	line, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	line = append(line, '\n')
	if _, err := n.w.Write(line); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}
