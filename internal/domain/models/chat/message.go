package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType discriminates message content fragments
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartToolCall  PartType = "tool_call"
)

// Part is one ordered content fragment of a message.
// Only the fields matching Type are populated.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Status     string          `json:"status,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Reasoning: text}
}

// ReasoningEffort is the requested depth of model reasoning
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// ModelParams is the generation configuration snapshotted onto a message at creation
type ModelParams struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	TopK            *int            `json:"top_k,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty"`
	IncludeSearch   bool            `json:"include_search,omitempty"`
}

// Server error categories written to ServerError.Type
const (
	ErrorTypeProvider      = "provider"
	ErrorTypeRateLimit     = "rate_limit"
	ErrorTypeTimeout       = "timeout"
	ErrorTypeRejected      = "rejected"
	ErrorTypeInternal      = "internal"
	ErrorTypeConfiguration = "configuration"
	ErrorTypeStale         = "stale"
	ErrorTypeClient        = "client"
)

// ServerError is set only when a message ends in error or error.rejected
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Message is one entry in a thread
type Message struct {
	ID                string         `json:"id" db:"id"`
	ThreadID          string         `json:"thread_id" db:"thread_id"`
	UserID            string         `json:"user_id" db:"user_id"`
	Position          int            `json:"position" db:"position"`
	Role              Role           `json:"role" db:"role"`
	Status            MessageStatus  `json:"status" db:"status"`
	Parts             []Part         `json:"parts" db:"parts"`
	Model             string         `json:"model,omitempty" db:"model"`
	ModelParams       ModelParams    `json:"model_params" db:"model_params"`
	AttachmentIDs     []string       `json:"attachment_ids" db:"attachment_ids"`
	ServerError       *ServerError   `json:"server_error,omitempty" db:"server_error"`
	ResumableStreamID *string        `json:"resumable_stream_id,omitempty" db:"resumable_stream_id"`
	Branches          []string       `json:"branches" db:"branches"`
	TimeToFirstToken  *int64         `json:"time_to_first_token_ms,omitempty" db:"time_to_first_token_ms"`
	Tokens            *int           `json:"tokens,omitempty" db:"tokens"`
	TokensPerSecond   *float64       `json:"tokens_per_second,omitempty" db:"tokens_per_second"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// Text returns the concatenated text fragments of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Snapshot is a full replacement of an assistant message's parts.
// Parts are always rendered reasoning first, then text.
type Snapshot struct {
	Reasoning string
	Text      string
}

// Parts builds the ordered fragments for the snapshot, skipping empty buffers.
func (s Snapshot) Parts() []Part {
	parts := make([]Part, 0, 2)
	if s.Reasoning != "" {
		parts = append(parts, ReasoningPart(s.Reasoning))
	}
	if s.Text != "" {
		parts = append(parts, TextPart(s.Text))
	}
	return parts
}

// Metrics are generation statistics recorded on a finished assistant message
type Metrics struct {
	TimeToFirstToken *int64
	Tokens           *int
	TokensPerSecond  *float64
}
