package handler

import (
	"context"
	"log/slog"
	"net/http"

	chatModels "forkchat/internal/domain/models/chat"
	"forkchat/internal/httputil"
	chatSvc "forkchat/internal/service/chat"
)

// ChatService is the coordinator surface the HTTP handlers use
type ChatService interface {
	Submit(ctx context.Context, req *chatSvc.SubmitRequest) (*chatSvc.GenerationResult, error)
	Edit(ctx context.Context, req *chatSvc.EditRequest) (*chatSvc.GenerationResult, error)
	Retry(ctx context.Context, req *chatSvc.RetryRequest) (*chatSvc.GenerationResult, error)
	Branch(ctx context.Context, req *chatSvc.BranchRequest) (*chatModels.Thread, error)
	Stop(ctx context.Context, req *chatSvc.StopRequest) (*chatSvc.StopResult, error)
	ListThreads(ctx context.Context, userID string) ([]chatModels.Thread, error)
	GetThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error)
	UpdateThread(ctx context.Context, threadID, userID string, req *chatSvc.UpdateThreadRequest) (*chatModels.Thread, error)
	DeleteThread(ctx context.Context, threadID, userID string) error
	ListMessages(ctx context.Context, threadID, userID string) ([]chatModels.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID string) error
	ReportError(ctx context.Context, req *chatSvc.ReportErrorRequest) (*chatModels.Message, error)
	Summary(ctx context.Context, threadID, userID string) (string, error)
}

// ThreadHandler serves the /api thread and message routes
type ThreadHandler struct {
	chat   ChatService
	logger *slog.Logger
}

func NewThreadHandler(chat ChatService, logger *slog.Logger) *ThreadHandler {
	return &ThreadHandler{chat: chat, logger: logger}
}

// ListThreads returns the caller's threads
// GET /api/threads
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.chat.ListThreads(r.Context(), httputil.GetUserID(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, threads)
}

// GetThread returns one thread
// GET /api/threads/{id}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	thread, err := h.chat.GetThread(r.Context(), threadID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, thread)
}

type updateThreadBody struct {
	Title      *string                   `json:"title"`
	Pinned     *bool                     `json:"pinned"`
	Visibility *chatModels.Visibility    `json:"visibility"`
	IsPublic   *bool                     `json:"is_public"`
	FolderID   httputil.Optional[string] `json:"folder_id"`
}

// UpdateThread changes title, pin, visibility, sharing or folder
// PATCH /api/threads/{id}
func (h *ThreadHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body updateThreadBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		handleError(w, h.logger, err)
		return
	}

	thread, err := h.chat.UpdateThread(r.Context(), threadID, httputil.GetUserID(r), &chatSvc.UpdateThreadRequest{
		Title:      body.Title,
		Pinned:     body.Pinned,
		Visibility: body.Visibility,
		IsPublic:   body.IsPublic,
		FolderSet:  body.FolderID.Set,
		FolderID:   body.FolderID.Value,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, thread)
}

// DeleteThread removes a thread and its messages
// DELETE /api/threads/{id}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteThread(r.Context(), threadID, httputil.GetUserID(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a thread's messages in order
// GET /api/threads/{id}/messages
func (h *ThreadHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	messages, err := h.chat.ListMessages(r.Context(), threadID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, messages)
}

type sendMessageBody struct {
	Content           string                 `json:"content"`
	Model             string                 `json:"model"`
	ModelParams       chatModels.ModelParams `json:"model_params"`
	AttachmentIDs     []string               `json:"attachment_ids"`
	ResponseMessageID string                 `json:"response_message_id"`
}

// SendMessage appends a user message and generates the reply in the background.
// The client follows progress by polling messages or through /chat/resume.
// POST /api/threads/{id}/messages
func (h *ThreadHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body sendMessageBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		handleError(w, h.logger, err)
		return
	}

	result, err := h.chat.Submit(r.Context(), &chatSvc.SubmitRequest{
		UserID:             httputil.GetUserID(r),
		ThreadID:           threadID,
		Content:            body.Content,
		Model:              body.Model,
		Params:             body.ModelParams,
		AttachmentIDs:      body.AttachmentIDs,
		AssistantMessageID: body.ResponseMessageID,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, result)
}

type branchBody struct {
	MessageID string `json:"message_id"`
}

// Branch forks the thread at a message
// POST /api/threads/{id}/branch
func (h *ThreadHandler) Branch(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body branchBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		handleError(w, h.logger, err)
		return
	}

	thread, err := h.chat.Branch(r.Context(), &chatSvc.BranchRequest{
		UserID:        httputil.GetUserID(r),
		ThreadID:      threadID,
		FromMessageID: body.MessageID,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, thread)
}

type stopBody struct {
	MessageID string `json:"message_id"`
}

// Stop cancels the thread's active generation. The body is optional.
// POST /api/threads/{id}/stop
func (h *ThreadHandler) Stop(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body stopBody
	if r.ContentLength > 0 {
		if err := httputil.ParseJSON(w, r, &body); err != nil {
			handleError(w, h.logger, err)
			return
		}
	}

	result, err := h.chat.Stop(r.Context(), &chatSvc.StopRequest{
		UserID:    httputil.GetUserID(r),
		ThreadID:  threadID,
		MessageID: body.MessageID,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// Summary generates a short summary of the thread
// POST /api/threads/{id}/summary
func (h *ThreadHandler) Summary(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	summary, err := h.chat.Summary(r.Context(), threadID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type editBody struct {
	Content           string                  `json:"content"`
	Model             *string                 `json:"model"`
	ModelParams       *chatModels.ModelParams `json:"model_params"`
	ResponseMessageID string                  `json:"response_message_id"`
}

// EditMessage rewrites a user message and regenerates everything after it
// POST /api/messages/{id}/edit
func (h *ThreadHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body editBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		handleError(w, h.logger, err)
		return
	}

	result, err := h.chat.Edit(r.Context(), &chatSvc.EditRequest{
		UserID:             httputil.GetUserID(r),
		MessageID:          messageID,
		Content:            body.Content,
		Model:              body.Model,
		Params:             body.ModelParams,
		AssistantMessageID: body.ResponseMessageID,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, result)
}

type retryBody struct {
	Model             *string `json:"model"`
	ResponseMessageID string  `json:"response_message_id"`
}

// RetryMessage regenerates the reply to a message. The body is optional.
// POST /api/messages/{id}/retry
func (h *ThreadHandler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body retryBody
	if r.ContentLength > 0 {
		if err := httputil.ParseJSON(w, r, &body); err != nil {
			handleError(w, h.logger, err)
			return
		}
	}

	result, err := h.chat.Retry(r.Context(), &chatSvc.RetryRequest{
		UserID:             httputil.GetUserID(r),
		MessageID:          messageID,
		Model:              body.Model,
		AssistantMessageID: body.ResponseMessageID,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, result)
}

type reportErrorBody struct {
	Message  string `json:"message"`
	Rejected bool   `json:"rejected"`
}

// ReportError records a client-side failure on an active reply
// POST /api/messages/{id}/error
func (h *ThreadHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var body reportErrorBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		handleError(w, h.logger, err)
		return
	}

	msg, err := h.chat.ReportError(r.Context(), &chatSvc.ReportErrorRequest{
		UserID:    httputil.GetUserID(r),
		MessageID: messageID,
		Message:   body.Message,
		Rejected:  body.Rejected,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}

// DeleteMessage tombstones a message
// DELETE /api/messages/{id}
func (h *ThreadHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteMessage(r.Context(), messageID, httputil.GetUserID(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
