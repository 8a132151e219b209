package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatRepo "forkchat/internal/domain/repositories/chat"
	"forkchat/internal/repository/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, thread_id, user_id, position, role, status, parts, model, model_params,
	attachment_ids, server_error, resumable_stream_id, branches, time_to_first_token_ms, tokens,
	tokens_per_second, created_at, updated_at`

// PostgresMessageRepository implements the MessageRepository interface using PostgreSQL
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *postgres.RepositoryConfig) chatRepo.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanMessage(row rowScanner) (*chatModels.Message, error) {
	var m chatModels.Message
	err := row.Scan(
		&m.ID,
		&m.ThreadID,
		&m.UserID,
		&m.Position,
		&m.Role,
		&m.Status,
		&m.Parts,
		&m.Model,
		&m.ModelParams,
		&m.AttachmentIDs,
		&m.ServerError,
		&m.ResumableStreamID,
		&m.Branches,
		&m.TimeToFirstToken,
		&m.Tokens,
		&m.TokensPerSecond,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func statusStrings(statuses []chatModels.MessageStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// nonNil keeps NOT NULL array and JSONB columns from receiving NULL
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreateMessage appends a message at the end of its thread
func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, msg *chatModels.Message) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM %[1]s WHERE thread_id = $2),
			$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING position
	`, r.tables.Messages, messageColumns)

	msg.Parts = nonNil(msg.Parts)
	msg.AttachmentIDs = nonNil(msg.AttachmentIDs)
	msg.Branches = nonNil(msg.Branches)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		msg.ID,
		msg.ThreadID,
		msg.UserID,
		msg.Role,
		msg.Status,
		msg.Parts,
		msg.Model,
		msg.ModelParams,
		msg.AttachmentIDs,
		msg.ServerError,
		msg.ResumableStreamID,
		msg.Branches,
		msg.TimeToFirstToken,
		msg.Tokens,
		msg.TokensPerSecond,
		msg.CreatedAt,
		msg.UpdatedAt,
	).Scan(&msg.Position)
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("message %s already exists", msg.ID),
				ResourceType: "message",
				ResourceID:   msg.ID,
			}
		}
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (r *PostgresMessageRepository) GetMessage(ctx context.Context, messageID, userID string) (*chatModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND user_id = $2
	`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	msg, err := scanMessage(executor.QueryRow(ctx, query, messageID, userID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) || postgres.IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a thread's messages in position order
func (r *PostgresMessageRepository) ListMessages(ctx context.Context, threadID, userID string) ([]chatModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = $1 AND user_id = $2
		ORDER BY position
	`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, threadID, userID)
	if err != nil {
		if postgres.IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []chatModels.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// FindActiveAssistant returns the newest assistant message still generating
func (r *PostgresMessageRepository) FindActiveAssistant(ctx context.Context, threadID string) (*chatModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = $1 AND role = 'assistant' AND status = ANY($2)
		ORDER BY position DESC
		LIMIT 1
	`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	msg, err := scanMessage(executor.QueryRow(ctx, query, threadID, statusStrings(chatModels.ActiveStatuses)))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("active message in thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find active message: %w", err)
	}
	return msg, nil
}

// TransitionStatus is a conditional status write
func (r *PostgresMessageRepository) TransitionStatus(ctx context.Context, messageID string, from []chatModels.MessageStatus, to chatModels.MessageStatus) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($2)
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, messageID, statusStrings(from), to, time.Now())
	if err != nil {
		return false, fmt.Errorf("transition message %s: %w", messageID, err)
	}
	return result.RowsAffected() > 0, nil
}

// WriteSnapshot replaces parts while the message is still active
func (r *PostgresMessageRepository) WriteSnapshot(ctx context.Context, messageID string, parts []chatModels.Part, status chatModels.MessageStatus) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET parts = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($5)
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		messageID,
		nonNil(parts),
		status,
		time.Now(),
		statusStrings(chatModels.ActiveStatuses),
	)
	if err != nil {
		return false, fmt.Errorf("write snapshot %s: %w", messageID, err)
	}
	return result.RowsAffected() > 0, nil
}

// Finalize writes the terminal state of an active message
func (r *PostgresMessageRepository) Finalize(ctx context.Context, messageID string, final chatRepo.FinalWrite) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $2,
			parts = COALESCE($3, parts),
			server_error = $4,
			time_to_first_token_ms = $5,
			tokens = $6,
			tokens_per_second = $7,
			updated_at = $8
		WHERE id = $1 AND status = ANY($9)
	`, r.tables.Messages)

	// nil parts keeps what the last snapshot wrote
	var parts any
	if final.Parts != nil {
		parts = final.Parts
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		messageID,
		final.Status,
		parts,
		final.ServerError,
		final.Metrics.TimeToFirstToken,
		final.Metrics.Tokens,
		final.Metrics.TokensPerSecond,
		time.Now(),
		statusStrings(chatModels.ActiveStatuses),
	)
	if err != nil {
		return false, fmt.Errorf("finalize message %s: %w", messageID, err)
	}
	return result.RowsAffected() > 0, nil
}

// RewriteUserMessage replaces a user message's text and generation config
func (r *PostgresMessageRepository) RewriteUserMessage(ctx context.Context, messageID string, parts []chatModels.Part, model string, params chatModels.ModelParams) error {
	query := fmt.Sprintf(`
		UPDATE %s SET parts = $2, model = $3, model_params = $4, updated_at = $5
		WHERE id = $1 AND role = 'user'
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, messageID, nonNil(parts), model, params, time.Now())
	if err != nil {
		return fmt.Errorf("rewrite message %s: %w", messageID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user message %s: %w", messageID, domain.ErrNotFound)
	}
	return nil
}

// DeleteAfter hard-deletes the thread tail after position
func (r *PostgresMessageRepository) DeleteAfter(ctx context.Context, threadID string, position int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1 AND position > $2`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, position)
	if err != nil {
		return 0, fmt.Errorf("delete messages after %d: %w", position, err)
	}
	return result.RowsAffected(), nil
}

// AddBranch appends a forked thread ID to the message's branches
func (r *PostgresMessageRepository) AddBranch(ctx context.Context, messageID, branchThreadID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET branches = array_append(branches, $2), updated_at = $3
		WHERE id = $1
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, messageID, branchThreadID, time.Now())
	if err != nil {
		return fmt.Errorf("add branch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return nil
}
