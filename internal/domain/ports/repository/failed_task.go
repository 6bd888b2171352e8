package repository

import (
	"context"
	"time"

	"conversation-analysis/internal/domain/model"
)

// FailedTaskRepository is the dead-letter store. Rows are upserted by task
// id and marked resolved after a successful replay; never hard-deleted.
type FailedTaskRepository interface {
	// Upsert inserts or, when the task id already exists, bumps retry_count
	// and refreshes the error text and resolved=false.
	Upsert(ctx context.Context, tx Tx, rec *model.FailedTaskRecord) error

	FindByTaskID(ctx context.Context, tx Tx, taskID string) (*model.FailedTaskRecord, error)

	// FindUnresolved returns unresolved records oldest-first for the sweep.
	FindUnresolved(ctx context.Context, tx Tx, limit int) ([]*model.FailedTaskRecord, error)

	MarkResolved(ctx context.Context, tx Tx, taskID string, at time.Time) error
}
