package repository

import (
	"context"

	"conversation-analysis/internal/domain/model"
)

// AnalysisRecordRepository owns the per-(conversation, prompt) state machine.
// All writes are single-row atomic updates; no record is ever deleted.
type AnalysisRecordRepository interface {
	// Prepare is the idempotent upsert:
	// no row -> create pending; SUCCESS -> domain.ErrAlreadyCompleted;
	// retriable (failed/skipped/orphaned) -> reset to pending;
	// genuinely in-flight -> domain.ErrAlreadyInProgress.
	Prepare(ctx context.Context, tx Tx, conversationID, promptID string) (*model.AnalysisRecord, error)

	// MarkDispatched moves pending -> processing and records the broker
	// task id. Redelivery of the same task id is a no-op.
	MarkDispatched(ctx context.Context, tx Tx, recordID, taskRef string) error

	// MarkTerminal moves processing -> success|failed|skipped. Re-applying
	// the same terminal status is a no-op, not an error.
	MarkTerminal(ctx context.Context, tx Tx, recordID string, status model.AnalysisStatus, errMsg string) error

	// MarkRetrying bumps retry_count and last_error while the record stays
	// processing, so stuck items are visible between backoff attempts.
	MarkRetrying(ctx context.Context, tx Tx, recordID string, attempt int, errMsg string) error

	FindByID(ctx context.Context, tx Tx, recordID string) (*model.AnalysisRecord, error)

	// SaveResult stores the analysis output, called by the persist stage in
	// the same transaction that marks the record SUCCESS.
	SaveResult(ctx context.Context, tx Tx, res *model.AnalysisResult) error
}
