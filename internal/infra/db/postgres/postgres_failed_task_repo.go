package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.FailedTaskRepository = (*failedTaskRepo)(nil)

type failedTaskRepo struct {
	pool *pgxpool.Pool
}

func NewFailedTaskRepo(pool *pgxpool.Pool) *failedTaskRepo {
	return &failedTaskRepo{pool: pool}
}

// Upsert keys on the broker task id: a task that dead-letters twice updates
// its one row with a bumped retry_count instead of duplicating.
func (r *failedTaskRepo) Upsert(ctx context.Context, tx repository.Tx, rec *model.FailedTaskRecord) error {
	if rec.TaskID == "" {
		return domain.ErrInvalidArgument
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	const q = `
INSERT INTO failed_tasks (task_id, kind, queue, args, last_error, retry_count, resolved, resolved_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL, $7, $8)
ON CONFLICT (task_id) DO UPDATE SET
  last_error  = EXCLUDED.last_error,
  retry_count = failed_tasks.retry_count + 1,
  resolved    = FALSE,
  resolved_at = NULL,
  updated_at  = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		rec.TaskID, rec.Kind, rec.Queue, rec.Args, rec.LastError, rec.RetryCount,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

const failedTaskColumns = `task_id, kind, queue, args, last_error, retry_count, resolved, resolved_at, created_at, updated_at`

func scanFailedTask(row pgx.Row) (*model.FailedTaskRecord, error) {
	var rec model.FailedTaskRecord
	var kindStr string
	err := row.Scan(
		&rec.TaskID, &kindStr, &rec.Queue, &rec.Args, &rec.LastError,
		&rec.RetryCount, &rec.Resolved, &rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	rec.Kind = model.TaskKind(kindStr)
	return &rec, nil
}

func (r *failedTaskRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.FailedTaskRecord, error) {
	const q = `SELECT ` + failedTaskColumns + ` FROM failed_tasks WHERE task_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, taskID)
	if err != nil {
		return nil, err
	}
	return scanFailedTask(row)
}

func (r *failedTaskRepo) FindUnresolved(ctx context.Context, tx repository.Tx, limit int) ([]*model.FailedTaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + failedTaskColumns + `
FROM failed_tasks
WHERE NOT resolved
ORDER BY created_at
LIMIT $1;`
	rows, err := pickRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FailedTaskRecord
	for rows.Next() {
		rec, err := scanFailedTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *failedTaskRepo) MarkResolved(ctx context.Context, tx repository.Tx, taskID string, at time.Time) error {
	const q = `
UPDATE failed_tasks
SET resolved = TRUE, resolved_at = $2, updated_at = $2
WHERE task_id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, taskID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
