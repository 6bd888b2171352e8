package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.AnalysisRecordRepository = (*analysisRecordRepo)(nil)

type analysisRecordRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewAnalysisRecordRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *analysisRecordRepo {
	return &analysisRecordRepo{pool: pool, tm: tm}
}

const recordColumns = `id, conversation_id, prompt_id, status, retry_count, task_ref, last_error, created_at, updated_at`

func scanRecord(row pgx.Row) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	var statusStr string
	err := row.Scan(
		&rec.ID, &rec.ConversationID, &rec.PromptID, &statusStr,
		&rec.RetryCount, &rec.TaskRef, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	rec.Status = model.AnalysisStatus(statusStr)
	return &rec, nil
}

// Prepare locks the (conversation, prompt) row and applies the idempotent
// upsert semantics. When called with a nil tx it opens its own transaction;
// the unique constraint on the pair makes concurrent first-inserts safe.
func (r *analysisRecordRepo) Prepare(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error) {
	if conversationID == "" || promptID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if tx != nil {
		return r.prepareLocked(ctx, tx, conversationID, promptID)
	}
	var rec *model.AnalysisRecord
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rec, err = r.prepareLocked(ctx, tx, conversationID, promptID)
		return err
	})
	return rec, err
}

func (r *analysisRecordRepo) prepareLocked(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error) {
	const q = `
SELECT ` + recordColumns + `
FROM analysis_records
WHERE conversation_id = $1 AND prompt_id = $2
FOR UPDATE;`

	row, err := pickRow(ctx, r.pool, tx, q, conversationID, promptID)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(row)
	if errors.Is(err, domain.ErrNotFound) {
		return r.insertPending(ctx, tx, conversationID, promptID)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case rec.Status == model.AnalysisStatusSuccess:
		return nil, domain.ErrAlreadyCompleted
	case rec.Retriable():
		return r.resetToPending(ctx, tx, rec)
	default:
		return nil, domain.ErrAlreadyInProgress
	}
}

func (r *analysisRecordRepo) insertPending(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error) {
	now := time.Now()
	rec := &model.AnalysisRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		PromptID:       promptID,
		Status:         model.AnalysisStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	const q = `
INSERT INTO analysis_records (id, conversation_id, prompt_id, status, retry_count, task_ref, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, '', '', $5, $5);`
	if _, err := execSQL(ctx, r.pool, tx, q, rec.ID, rec.ConversationID, rec.PromptID, rec.Status, now); err != nil {
		// A concurrent first prepare for the same pair wins the insert race;
		// the loser sees the unique violation on (conversation_id, prompt_id).
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyInProgress
		}
		return nil, err
	}
	return rec, nil
}

func (r *analysisRecordRepo) resetToPending(ctx context.Context, tx repository.Tx, rec *model.AnalysisRecord) (*model.AnalysisRecord, error) {
	const q = `
UPDATE analysis_records
SET status = $2, retry_count = 0, task_ref = '', last_error = '', updated_at = $3
WHERE id = $1;`
	now := time.Now()
	if _, err := execSQL(ctx, r.pool, tx, q, rec.ID, model.AnalysisStatusPending, now); err != nil {
		return nil, err
	}
	rec.Status = model.AnalysisStatusPending
	rec.RetryCount = 0
	rec.TaskRef = ""
	rec.LastError = ""
	rec.UpdatedAt = now
	return rec, nil
}

func (r *analysisRecordRepo) MarkDispatched(ctx context.Context, tx repository.Tx, recordID, taskRef string) error {
	const q = `
UPDATE analysis_records
SET status = $2, task_ref = $3, updated_at = $4
WHERE id = $1 AND status = $5;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		recordID, model.AnalysisStatusProcessing, taskRef, time.Now(), model.AnalysisStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Redelivered task: already processing under the same task ref is fine.
	rec, err := r.FindByID(ctx, tx, recordID)
	if err != nil {
		return err
	}
	if rec.Status == model.AnalysisStatusProcessing && rec.TaskRef == taskRef {
		return nil
	}
	if rec.Status == model.AnalysisStatusSuccess {
		return domain.ErrAlreadyCompleted
	}
	return domain.ErrAlreadyInProgress
}

func (r *analysisRecordRepo) MarkTerminal(ctx context.Context, tx repository.Tx, recordID string, status model.AnalysisStatus, errMsg string) error {
	switch status {
	case model.AnalysisStatusSuccess, model.AnalysisStatusFailed, model.AnalysisStatusSkipped:
	default:
		return domain.ErrInvalidArgument
	}
	// Skipped and failed may also come straight from pending: nothing to
	// analyze, or the pipeline could not be dispatched at all.
	const q = `
UPDATE analysis_records
SET status = $2, last_error = $3, task_ref = '', updated_at = $4
WHERE id = $1 AND (status = $5 OR ($2 <> $6 AND status = $7));`
	tag, err := execSQL(ctx, r.pool, tx, q,
		recordID, status, errMsg, time.Now(),
		model.AnalysisStatusProcessing, model.AnalysisStatusSuccess, model.AnalysisStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	rec, err := r.FindByID(ctx, tx, recordID)
	if err != nil {
		return err
	}
	if rec.Status == status {
		return nil // idempotent re-apply
	}
	if rec.Status == model.AnalysisStatusSuccess {
		return domain.ErrAlreadyCompleted
	}
	return domain.ErrInvalidArgument
}

func (r *analysisRecordRepo) MarkRetrying(ctx context.Context, tx repository.Tx, recordID string, attempt int, errMsg string) error {
	const q = `
UPDATE analysis_records
SET retry_count = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status = $5;`
	_, err := execSQL(ctx, r.pool, tx, q,
		recordID, attempt, errMsg, time.Now(), model.AnalysisStatusProcessing)
	return err
}

func (r *analysisRecordRepo) FindByID(ctx context.Context, tx repository.Tx, recordID string) (*model.AnalysisRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM analysis_records WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, recordID)
	if err != nil {
		return nil, err
	}
	return scanRecord(row)
}

func (r *analysisRecordRepo) SaveResult(ctx context.Context, tx repository.Tx, res *model.AnalysisResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO analysis_results (id, record_id, conversation_id, prompt_id, content, model, prompt_tokens, output_tokens, cost_micros, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q,
		res.ID, res.RecordID, res.ConversationID, res.PromptID, res.Content,
		res.Model, res.PromptTokens, res.OutputTokens, res.CostMicros, res.CreatedAt)
	return err
}
