// File: internal/usecase/progress_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
)

// ProgressReport is the caller-facing snapshot of a run.
type ProgressReport struct {
	RunID      string  `json:"run_id"`
	Total      int64   `json:"total"`
	Pending    int64   `json:"pending"`
	Processing int64   `json:"processing"`
	Success    int64   `json:"success"`
	Failed     int64   `json:"failed"`
	Percentage float64 `json:"percentage"`
	IsComplete bool    `json:"is_complete"`
}

type ProgressUseCase interface {
	// Snapshot reads the run's counters as-is (eventually consistent).
	Snapshot(ctx context.Context, runID string) (*ProgressReport, error)

	// Reconcile recomputes the counters from the membership set and returns
	// the corrected report.
	Reconcile(ctx context.Context, runID string) (*ProgressReport, error)

	// CheckCompletion flushes the run's counters and, when every item is
	// terminal, enqueues the finalize task. Safe to call repeatedly: the
	// finalize task id is derived from the run id, and the finalize lock
	// makes settlement exactly-once anyway.
	CheckCompletion(ctx context.Context, runID string) error
}

type progressUC struct {
	counters adapter.ProgressCounters
	broker   adapter.TaskBroker
	log      *zerolog.Logger
}

func NewProgressUseCase(
	counters adapter.ProgressCounters,
	broker adapter.TaskBroker,
	logger *zerolog.Logger,
) ProgressUseCase {
	l := logger.With().Str("component", "ProgressUseCase").Logger()
	return &progressUC{counters: counters, broker: broker, log: &l}
}

func report(c model.RunCounters) *ProgressReport {
	return &ProgressReport{
		RunID:      c.RunID,
		Total:      c.Total,
		Pending:    c.Pending,
		Processing: c.Processing,
		Success:    c.Success,
		Failed:     c.Failed,
		Percentage: c.Percentage(),
		IsComplete: c.Complete(),
	}
}

func (uc *progressUC) Snapshot(ctx context.Context, runID string) (*ProgressReport, error) {
	if runID == "" {
		return nil, domain.ErrInvalidArgument
	}
	c, err := uc.counters.Snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	return report(c), nil
}

func (uc *progressUC) Reconcile(ctx context.Context, runID string) (*ProgressReport, error) {
	if runID == "" {
		return nil, domain.ErrInvalidArgument
	}
	c, err := uc.counters.Reconcile(ctx, runID)
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("run_id", runID).Int64("total", c.Total).
		Int64("success", c.Success).Int64("failed", c.Failed).Msg("run counters reconciled")
	return report(c), nil
}

func (uc *progressUC) CheckCompletion(ctx context.Context, runID string) error {
	if err := uc.counters.ForceFlush(ctx, runID); err != nil {
		return err
	}
	c, err := uc.counters.Snapshot(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			// Counters already expired; the run was finalized long ago.
			return nil
		}
		return err
	}
	if !c.Complete() {
		return nil
	}

	// Stable task id: concurrent finishers collapse onto one logical task.
	// Duplicates that still slip onto the queue lose the finalize lock.
	payload, err := json.Marshal(model.FinalizePayload{RunID: runID})
	if err != nil {
		return err
	}
	task := &model.Task{
		ID:         "finalize:" + runID,
		Kind:       model.TaskKindFinalize,
		Queue:      model.QueueFinalize,
		RunID:      runID,
		Attempt:    1,
		EnqueuedAt: time.Now(),
		Payload:    payload,
	}
	if err := uc.broker.Enqueue(ctx, task); err != nil {
		return err
	}
	uc.log.Debug().Str("run_id", runID).Msg("run complete, finalize task enqueued")
	return nil
}
