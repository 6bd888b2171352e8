// File: internal/usecase/replay_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

// ReplayUseCase re-submits dead-lettered tasks. A replayed task starts a
// fresh attempt cycle under its original id; the record state machine keeps
// the replay idempotent, and the row is only marked resolved after a
// successful enqueue.
type ReplayUseCase interface {
	// ReplayOne re-enqueues a single dead-lettered task by id.
	ReplayOne(ctx context.Context, taskID string) error

	// SweepOnce replays a batch of unresolved dead letters, oldest first.
	// Returns how many were re-enqueued.
	SweepOnce(ctx context.Context) (int, error)

	// ListUnresolved exposes the backlog for operators.
	ListUnresolved(ctx context.Context, limit int) ([]*model.FailedTaskRecord, error)
}

type replayUC struct {
	failed    repository.FailedTaskRepository
	broker    adapter.TaskBroker
	batchSize int
	log       *zerolog.Logger
}

func NewReplayUseCase(
	failed repository.FailedTaskRepository,
	broker adapter.TaskBroker,
	batchSize int,
	logger *zerolog.Logger,
) ReplayUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	l := logger.With().Str("component", "ReplayUseCase").Logger()
	return &replayUC{failed: failed, broker: broker, batchSize: batchSize, log: &l}
}

func (uc *replayUC) ReplayOne(ctx context.Context, taskID string) error {
	if taskID == "" {
		return domain.ErrInvalidArgument
	}
	rec, err := uc.failed.FindByTaskID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	if rec.Resolved {
		return domain.ErrAlreadyCompleted
	}
	if err := uc.replay(ctx, rec); err != nil {
		metrics.IncDeadLetterReplay("manual", "error")
		return err
	}
	metrics.IncDeadLetterReplay("manual", "ok")
	return nil
}

func (uc *replayUC) SweepOnce(ctx context.Context) (int, error) {
	recs, err := uc.failed.FindUnresolved(ctx, nil, uc.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}
	replayed := 0
	for _, rec := range recs {
		if err := uc.replay(ctx, rec); err != nil {
			metrics.IncDeadLetterReplay("sweep", "error")
			uc.log.Error().Err(err).Str("task_id", rec.TaskID).Msg("dead letter replay failed")
			continue
		}
		metrics.IncDeadLetterReplay("sweep", "ok")
		replayed++
	}
	if replayed > 0 {
		uc.log.Info().Int("replayed", replayed).Int("backlog", len(recs)).Msg("dead letter sweep")
	}
	return replayed, nil
}

func (uc *replayUC) ListUnresolved(ctx context.Context, limit int) ([]*model.FailedTaskRecord, error) {
	if limit <= 0 {
		limit = uc.batchSize
	}
	return uc.failed.FindUnresolved(ctx, nil, limit)
}

// replay reconstructs the task envelope from the stored args and re-enqueues
// it on its original queue with a reset attempt counter. The run the task
// once belonged to has already settled the item as failed, so the replay
// runs outside any run's counters.
func (uc *replayUC) replay(ctx context.Context, rec *model.FailedTaskRecord) error {
	task := &model.Task{
		ID:         rec.TaskID,
		Kind:       rec.Kind,
		Queue:      rec.Queue,
		Attempt:    1,
		EnqueuedAt: time.Now(),
		Payload:    rec.Args,
	}
	if err := uc.broker.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue replay: %w", err)
	}
	if err := uc.failed.MarkResolved(ctx, nil, rec.TaskID, time.Now()); err != nil {
		// The task is on the queue; a second sweep would replay it again.
		// Log loudly, the next failure of the same task re-opens the row.
		uc.log.Error().Err(err).Str("task_id", rec.TaskID).Msg("replayed task not marked resolved")
		return err
	}
	return nil
}
