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

const threadColumns = `id, user_id, title, user_set_title, model, generation_status, generation_token,
	visibility, pinned, is_public, folder_id, branch_parent_thread_id, branch_parent_message_id,
	last_message_at, created_at, updated_at`

// PostgresThreadRepository implements the ThreadRepository interface using PostgreSQL
type PostgresThreadRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewThreadRepository creates a new PostgresThreadRepository
func NewThreadRepository(config *postgres.RepositoryConfig) chatRepo.ThreadRepository {
	return &PostgresThreadRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*chatModels.Thread, error) {
	var t chatModels.Thread
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.UserSetTitle,
		&t.Model,
		&t.GenerationStatus,
		&t.GenerationToken,
		&t.Visibility,
		&t.Pinned,
		&t.IsPublic,
		&t.FolderID,
		&t.BranchParentThreadID,
		&t.BranchParentMessageID,
		&t.LastMessageAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateThread inserts a thread with its caller-supplied ID. An existing ID
// is reported as a conflict without failing the surrounding transaction.
func (r *PostgresThreadRepository) CreateThread(ctx context.Context, thread *chatModels.Thread) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`, r.tables.Threads, threadColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		thread.ID,
		thread.UserID,
		thread.Title,
		thread.UserSetTitle,
		thread.Model,
		thread.GenerationStatus,
		thread.GenerationToken,
		thread.Visibility,
		thread.Pinned,
		thread.IsPublic,
		thread.FolderID,
		thread.BranchParentThreadID,
		thread.BranchParentMessageID,
		thread.LastMessageAt,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	if err != nil && !postgres.IsPgDuplicateError(err) {
		return fmt.Errorf("create thread: %w", err)
	}
	if err != nil || result.RowsAffected() == 0 {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("thread %s already exists", thread.ID),
			ResourceType: "thread",
			ResourceID:   thread.ID,
		}
	}

	return nil
}

func (r *PostgresThreadRepository) getThread(ctx context.Context, threadID, userID, suffix string) (*chatModels.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND user_id = $2
		%s
	`, threadColumns, r.tables.Threads, suffix)

	executor := postgres.GetExecutor(ctx, r.pool)
	thread, err := scanThread(executor.QueryRow(ctx, query, threadID, userID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) || postgres.IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

// GetThread retrieves a thread by ID
func (r *PostgresThreadRepository) GetThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	return r.getThread(ctx, threadID, userID, "")
}

// LockThread retrieves a thread with FOR UPDATE so concurrent admissions on the
// same thread serialize
func (r *PostgresThreadRepository) LockThread(ctx context.Context, threadID, userID string) (*chatModels.Thread, error) {
	return r.getThread(ctx, threadID, userID, "FOR UPDATE")
}

// ListThreads returns a user's threads, pinned first then most recently active
func (r *PostgresThreadRepository) ListThreads(ctx context.Context, userID string) ([]chatModels.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY pinned DESC, last_message_at DESC
	`, threadColumns, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := []chatModels.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, *thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	return threads, nil
}

// UpdateThread applies user-editable fields
func (r *PostgresThreadRepository) UpdateThread(ctx context.Context, threadID, userID string, update chatModels.ThreadUpdate) (*chatModels.Thread, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET
			title          = COALESCE($3, title),
			user_set_title = user_set_title OR $3 IS NOT NULL,
			pinned         = COALESCE($4, pinned),
			visibility     = COALESCE($5, visibility),
			is_public      = COALESCE($6, is_public),
			folder_id      = CASE WHEN $7 THEN $8 ELSE folder_id END,
			updated_at     = $9
		WHERE id = $1 AND user_id = $2
		RETURNING %s
	`, r.tables.Threads, threadColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	thread, err := scanThread(executor.QueryRow(ctx, query,
		threadID,
		userID,
		update.Title,
		update.Pinned,
		update.Visibility,
		update.IsPublic,
		update.FolderSet,
		update.FolderID,
		time.Now(),
	))
	if err != nil {
		if postgres.IsPgNoRowsError(err) || postgres.IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update thread: %w", err)
	}
	return thread, nil
}

// BeginGeneration installs a new attempt token and marks the thread generating
func (r *PostgresThreadRepository) BeginGeneration(ctx context.Context, threadID, token string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET generation_status = $2, generation_token = $3, last_message_at = $4, updated_at = $4
		WHERE id = $1
	`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, chatModels.GenerationGenerating, token, at)
	if err != nil {
		return fmt.Errorf("begin generation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return nil
}

// FinishGeneration is a compare-and-set on the attempt token. A superseded
// attempt finds a different token and leaves the thread alone.
func (r *PostgresThreadRepository) FinishGeneration(ctx context.Context, threadID, token string, status chatModels.GenerationStatus) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET generation_status = $3, last_message_at = $4, updated_at = $4
		WHERE id = $1 AND generation_token = $2
	`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, token, status, time.Now())
	if err != nil {
		return false, fmt.Errorf("finish generation: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetGeneratedTitle stores an auto-generated title unless the user picked one
func (r *PostgresThreadRepository) SetGeneratedTitle(ctx context.Context, threadID, title string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $2, updated_at = $3
		WHERE id = $1 AND user_set_title = FALSE
	`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, title, time.Now())
	if err != nil {
		return false, fmt.Errorf("set generated title: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// DeleteThread removes a thread; messages cascade
func (r *PostgresThreadRepository) DeleteThread(ctx context.Context, threadID, userID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, userID)
	if err != nil {
		if postgres.IsPgInvalidTextError(err) {
			return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return fmt.Errorf("delete thread: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return nil
}
