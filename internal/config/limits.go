package config

import "time"

const (
	// MaxThreadTitleLength is the maximum length for thread titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxThreadTitleLength = 255

	// MaxMessageLength bounds a single user message. Long prompts are fine,
	// whole documents belong in attachments.
	MaxMessageLength = 100_000

	// MaxAttachmentsPerMessage bounds the opaque attachment IDs on a message.
	MaxAttachmentsPerMessage = 10

	// DefaultSnapshotFlushModulus is the buffer length step that forces a
	// snapshot write when no delimiter arrives.
	DefaultSnapshotFlushModulus = 50

	// DefaultMaxOutputTokens is used when a model declares no output limit.
	DefaultMaxOutputTokens = 4096

	// TitleMaxTokens bounds the auxiliary title call.
	TitleMaxTokens = 64

	// SummaryMaxTokens bounds the auxiliary summary call.
	SummaryMaxTokens = 512
)

const (
	// StreamBeginTTL is the expiry of a stream entry that has no chunks yet.
	StreamBeginTTL = 5 * time.Minute

	// StreamActiveTTL is refreshed on every append so slow consumers can resume.
	StreamActiveTTL = time.Hour

	// StreamCompleteTTL is the grace window for trailing resumes after completion.
	StreamCompleteTTL = 5 * time.Minute

	// DefaultStaleGenerationAfter is how long an active assistant message may
	// hold the thread before a new submit treats it as abandoned.
	DefaultStaleGenerationAfter = 15 * time.Minute
)
