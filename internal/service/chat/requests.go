package chat

import (
	"forkchat/internal/config"
	chatModels "forkchat/internal/domain/models/chat"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// SubmitRequest appends a user message and starts generating the reply
type SubmitRequest struct {
	UserID        string
	ThreadID      string // empty creates a new thread
	Content       string
	Model         string // empty uses the default model
	Params        chatModels.ModelParams
	AttachmentIDs []string
	// AssistantMessageID lets the caller pick the response ID (and stream key)
	AssistantMessageID string
	// Live marks a caller that relays the attempt over its own connection
	Live bool
}

// EditRequest rewrites a user message and regenerates everything after it
type EditRequest struct {
	UserID             string
	MessageID          string
	Content            string
	Model              *string
	Params             *chatModels.ModelParams
	AssistantMessageID string
	Live               bool
}

// RetryRequest regenerates the reply to a user message
type RetryRequest struct {
	UserID             string
	MessageID          string // a user message or an assistant reply
	Model              *string
	AssistantMessageID string
	Live               bool
}

// BranchRequest forks a thread at a message
type BranchRequest struct {
	UserID        string
	ThreadID      string
	FromMessageID string
}

// StopRequest cancels the active generation of a thread
type StopRequest struct {
	UserID    string
	ThreadID  string
	MessageID string // optional, defaults to the latest active reply
}

// UpdateThreadRequest changes user-editable thread fields; nil leaves a field unchanged
type UpdateThreadRequest struct {
	Title      *string
	Pinned     *bool
	Visibility *chatModels.Visibility
	IsPublic   *bool
	FolderSet  bool
	FolderID   *string
}

// ReportErrorRequest records a client-side failure of an active generation
type ReportErrorRequest struct {
	UserID    string
	MessageID string
	Message   string
	Rejected  bool
}

// GenerationResult is returned by Submit, Edit and Retry
type GenerationResult struct {
	Thread           *chatModels.Thread  `json:"thread"`
	UserMessage      *chatModels.Message `json:"user_message"`
	AssistantMessage *chatModels.Message `json:"assistant_message"`
}

// StopResult reports whether anything was stopped
type StopResult struct {
	Stopped   bool   `json:"stopped"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

var reasoningEfforts = []interface{}{
	chatModels.ReasoningLow,
	chatModels.ReasoningMedium,
	chatModels.ReasoningHigh,
}

func validateParams(p *chatModels.ModelParams) error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&p.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.TopK, validation.Min(1)),
		validation.Field(&p.ReasoningEffort, validation.In(reasoningEfforts...)),
	)
}

func (r *SubmitRequest) validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ThreadID, is.UUID),
		validation.Field(&r.Content,
			validation.Required,
			validation.RuneLength(1, config.MaxMessageLength),
		),
		validation.Field(&r.AttachmentIDs, validation.Length(0, config.MaxAttachmentsPerMessage)),
		validation.Field(&r.AssistantMessageID, is.UUID),
	); err != nil {
		return err
	}
	return validateParams(&r.Params)
}

func (r *EditRequest) validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.MessageID, validation.Required, is.UUID),
		validation.Field(&r.Content,
			validation.Required,
			validation.RuneLength(1, config.MaxMessageLength),
		),
		validation.Field(&r.AssistantMessageID, is.UUID),
	); err != nil {
		return err
	}
	if r.Params != nil {
		return validateParams(r.Params)
	}
	return nil
}

func (r *UpdateThreadRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.RuneLength(1, config.MaxThreadTitleLength)),
		validation.Field(&r.Visibility, validation.In(chatModels.VisibilityVisible, chatModels.VisibilityArchived)),
		validation.Field(&r.FolderID, validation.NilOrNotEmpty, is.UUID),
	)
}

func (r *ReportErrorRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.MessageID, validation.Required, is.UUID),
		validation.Field(&r.Message, validation.Required, validation.RuneLength(1, 2000)),
	)
}
