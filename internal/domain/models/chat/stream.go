package chat

import (
	"encoding/json"
	"time"
)

// ChunkType is the kind of a normalized stream event on the wire
type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text-delta"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkToolCall       ChunkType = "tool-call"
	ChunkFinish         ChunkType = "finish"
	ChunkError          ChunkType = "error"
)

// ToolCall is a tool invocation reported by a provider
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Status string          `json:"status"`
}

// Finish closes a successful stream with usage information
type Finish struct {
	Model        string `json:"model,omitempty"`
	StopReason   string `json:"stopReason,omitempty"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
}

// Chunk is one normalized stream event as relayed to clients and stored for replay.
// It is serialized as a single NDJSON line.
type Chunk struct {
	Type     ChunkType    `json:"type"`
	Text     string       `json:"text,omitempty"`
	ToolCall *ToolCall    `json:"toolCall,omitempty"`
	Finish   *Finish      `json:"finish,omitempty"`
	Error    *ServerError `json:"error,omitempty"`
}

// StreamPart is a chunk stored in the resumable stream log at a fixed index
type StreamPart struct {
	Index     int   `json:"index"`
	Chunk     Chunk `json:"chunk"`
	Timestamp int64 `json:"timestamp"`
}

// StreamMeta is the metadata record of a resumable stream
type StreamMeta struct {
	TotalParts int       `json:"totalParts"`
	IsComplete bool      `json:"isComplete"`
	StartTime  time.Time `json:"startTime"`
}
