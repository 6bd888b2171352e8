package adapter

import (
	"context"
	"time"

	"conversation-analysis/internal/domain/model"
)

// TaskBroker is the queue substrate port: named queues, at-least-once
// delivery, per-task ack. Delivery order is not guaranteed and the engine
// never depends on it.
type TaskBroker interface {
	// Enqueue pushes the task onto its queue for immediate delivery.
	Enqueue(ctx context.Context, task *model.Task) error

	// EnqueueIn schedules delivery after the given delay, preserving the
	// task identity (used by the retry policy).
	EnqueueIn(ctx context.Context, task *model.Task, delay time.Duration) error

	// Receive blocks up to timeout for the next task on the queue. The task
	// stays on a processing ledger until Ack'd; a crashed worker's tasks are
	// redelivered by the reaper. Returns domain.ErrNotFound on timeout.
	Receive(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error)

	// Ack removes the delivered task from the processing ledger.
	Ack(ctx context.Context, task *model.Task) error

	// Depth reports the number of ready tasks on a queue.
	Depth(ctx context.Context, queue string) (int64, error)
}

// RunEventPublisher emits best-effort per-run progress events. Failures are
// non-fatal by contract: callers log and continue.
type RunEventPublisher interface {
	Publish(ctx context.Context, ev model.RunEvent) error
}

// ProgressCounters is the run-scoped counter service. Increments are
// buffered; Snapshot is eventually consistent and exact only after a
// ForceFlush. Counter-store failures never block pipeline progress.
type ProgressCounters interface {
	// Seed records the exact membership set and initializes total/pending.
	// Must run before any task of the run is enqueued.
	Seed(ctx context.Context, runID string, itemIDs []string) error

	// MarkStarted buffers one item's pending -> processing transition.
	MarkStarted(runID, itemID string)

	// MarkFinished buffers one item's processing -> success|failed transition.
	MarkFinished(runID, itemID string, ok bool)

	Snapshot(ctx context.Context, runID string) (model.RunCounters, error)

	// ForceFlush synchronously drains buffered increments for the run.
	ForceFlush(ctx context.Context, runID string) error

	// Reconcile recomputes counters from the membership set's last-known
	// item states and rewrites them, recovering lost increments.
	Reconcile(ctx context.Context, runID string) (model.RunCounters, error)

	// Expire bounds the run's retention after completion.
	Expire(ctx context.Context, runID string, ttl time.Duration) error
}
