// File: internal/infra/worker/finalize_handler.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/metrics"
	"conversation-analysis/internal/infra/redis"
)

var _ Handler = (*FinalizeHandler)(nil)

// FinalizeHandler settles a completed run exactly once. Multiple finalize
// tasks for the same run can exist (every finisher's completion check may
// enqueue one); the run-scoped lock elects a single winner and the losers
// drop their task without error.
type FinalizeHandler struct {
	locker    redis.Locker
	counters  adapter.ProgressCounters
	events    adapter.RunEventPublisher
	lockTTL   time.Duration
	retention time.Duration
	log       *zerolog.Logger
}

func NewFinalizeHandler(
	locker redis.Locker,
	counters adapter.ProgressCounters,
	events adapter.RunEventPublisher,
	lockTTL, retention time.Duration,
	logger *zerolog.Logger,
) *FinalizeHandler {
	l := logger.With().Str("component", "FinalizeHandler").Logger()
	return &FinalizeHandler{
		locker:    locker,
		counters:  counters,
		events:    events,
		lockTTL:   lockTTL,
		retention: retention,
		log:       &l,
	}
}

func finalizeLockKey(runID string) string { return "run:" + runID + ":finalize_lock" }

func (h *FinalizeHandler) Handle(ctx context.Context, task *model.Task) error {
	var p model.FinalizePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return NonRetryable(fmt.Errorf("finalize payload: %w", err))
	}
	if p.RunID == "" {
		return NonRetryable(errors.New("finalize payload missing run_id"))
	}

	token, err := h.locker.TryLock(ctx, finalizeLockKey(p.RunID), h.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			h.log.Debug().Str("run_id", p.RunID).Msg("finalize lock held elsewhere, dropping task")
			return nil
		}
		return fmt.Errorf("finalize lock: %w", err)
	}

	if err := h.settle(ctx, p.RunID); err != nil {
		// Release so a retry (or a later finalize task) can settle the run.
		if uerr := h.locker.Unlock(ctx, finalizeLockKey(p.RunID), token); uerr != nil {
			h.log.Error().Err(uerr).Str("run_id", p.RunID).Msg("finalize lock not released")
		}
		return err
	}
	// The lock is kept until its TTL expires: it is the exactly-once marker
	// for duplicate finalize tasks still in flight.
	return nil
}

func (h *FinalizeHandler) settle(ctx context.Context, runID string) error {
	if err := h.counters.ForceFlush(ctx, runID); err != nil {
		return fmt.Errorf("flush counters: %w", err)
	}
	snap, err := h.counters.Snapshot(ctx, runID)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if !snap.Complete() {
		// A reconcile rewrote the counters between the completion check and
		// this task. Not an error; the real completion enqueues a new task.
		h.log.Warn().Str("run_id", runID).Int64("total", snap.Total).
			Int64("settled", snap.Success+snap.Failed).Msg("run not complete at finalize, dropping")
		return nil
	}

	if err := h.events.Publish(ctx, model.RunEvent{
		Type: model.EventRunComplete, RunID: runID, Counters: &snap,
	}); err != nil {
		h.log.Warn().Err(err).Str("run_id", runID).Msg("run_complete event not published")
	}
	if err := h.counters.Expire(ctx, runID, h.retention); err != nil {
		h.log.Warn().Err(err).Str("run_id", runID).Msg("counter expiry not set")
	}
	result := "clean"
	if snap.Failed > 0 {
		result = "partial_failure"
	}
	metrics.IncRunFinalized(result)
	h.log.Info().Str("run_id", runID).
		Int64("success", snap.Success).Int64("failed", snap.Failed).
		Msg("run finalized")
	return nil
}
