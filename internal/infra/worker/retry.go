// File: internal/infra/worker/retry.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

// nonRetryable marks errors that must skip the backoff loop and go straight
// to the dead-letter store (e.g. a malformed payload from a previous stage).
type nonRetryable struct {
	err error
}

func (e *nonRetryable) Error() string { return e.err.Error() }
func (e *nonRetryable) Unwrap() error { return e.err }

// NonRetryable wraps err so the retry policy dead-letters it immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

func IsNonRetryable(err error) bool {
	var nr *nonRetryable
	return errors.As(err, &nr)
}

// BackoffSchedule is the graduated fixed-delay schedule: short delays first,
// then medium past the first breakpoint, then long until MaxAttempts.
type BackoffSchedule struct {
	cfg config.RetryConfig
}

func NewBackoffSchedule(cfg config.RetryConfig) BackoffSchedule {
	return BackoffSchedule{cfg: cfg}
}

// Delay returns how long to wait before re-delivering the given attempt
// (1-based; Delay(1) is the wait after the first failure).
func (s BackoffSchedule) Delay(attempt int) time.Duration {
	switch {
	case attempt <= s.cfg.ShortAttempts:
		return s.cfg.ShortDelay
	case attempt <= s.cfg.MediumAttempts:
		return s.cfg.MediumDelay
	default:
		return s.cfg.LongDelay
	}
}

// Tier labels the delay bucket for metrics.
func (s BackoffSchedule) Tier(attempt int) string {
	switch {
	case attempt <= s.cfg.ShortAttempts:
		return "short"
	case attempt <= s.cfg.MediumAttempts:
		return "medium"
	default:
		return "long"
	}
}

// Exhausted reports whether the attempt has used up the retry budget.
func (s BackoffSchedule) Exhausted(attempt int) bool {
	return attempt >= s.cfg.MaxAttempts
}

// FailureRouter decides what happens to a failed task: backoff re-enqueue
// with the same identity, or a dead-letter record. It also settles the
// analysis record and counters when a pipeline gives up for good.
type FailureRouter struct {
	schedule BackoffSchedule
	broker   adapter.TaskBroker
	failed   repository.FailedTaskRepository
	records  repository.AnalysisRecordRepository
	counters adapter.ProgressCounters
	events   adapter.RunEventPublisher
	progress CompletionChecker
	log      *zerolog.Logger
}

// CompletionChecker routes the run-complete check after a terminal item
// state. Implemented by the progress use case.
type CompletionChecker interface {
	CheckCompletion(ctx context.Context, runID string) error
}

func NewFailureRouter(
	schedule BackoffSchedule,
	broker adapter.TaskBroker,
	failed repository.FailedTaskRepository,
	records repository.AnalysisRecordRepository,
	counters adapter.ProgressCounters,
	events adapter.RunEventPublisher,
	progress CompletionChecker,
	logger *zerolog.Logger,
) *FailureRouter {
	l := logger.With().Str("component", "FailureRouter").Logger()
	return &FailureRouter{
		schedule: schedule,
		broker:   broker,
		failed:   failed,
		records:  records,
		counters: counters,
		events:   events,
		progress: progress,
		log:      &l,
	}
}

// OnFailure is called by the runner after a handler error. A nil return
// means the task was routed (retry scheduled or dead-lettered) and the
// original delivery may be acked; an error keeps the delivery on the
// processing ledger for redelivery.
func (r *FailureRouter) OnFailure(ctx context.Context, task *model.Task, cause error) error {
	if IsNonRetryable(cause) {
		r.log.Warn().Str("task_id", task.ID).Str("kind", string(task.Kind)).
			Err(cause).Msg("non-retryable failure, dead-lettering")
		return r.deadLetter(ctx, task, cause, "non_retryable")
	}
	if r.schedule.Exhausted(task.Attempt) {
		r.log.Error().Str("task_id", task.ID).Str("kind", string(task.Kind)).
			Int("attempt", task.Attempt).Err(cause).Msg("retries exhausted, dead-lettering")
		return r.deadLetter(ctx, task, cause, "exhausted")
	}

	retry := *task
	retry.Attempt = task.Attempt + 1
	delay := r.schedule.Delay(task.Attempt)
	if err := r.broker.EnqueueIn(ctx, &retry, delay); err != nil {
		return err // keep delivery unacked, the reaper will redeliver
	}
	metrics.IncTaskRetry(task.Queue, r.schedule.Tier(task.Attempt))
	metrics.IncStageOutcome(string(task.Kind), "retry")

	// Best-effort observability on the record while it stays PROCESSING.
	if recordID := recordIDOf(task); recordID != "" {
		if err := r.records.MarkRetrying(ctx, nil, recordID, retry.Attempt, cause.Error()); err != nil {
			r.log.Warn().Err(err).Str("record_id", recordID).Msg("could not record retry attempt")
		}
	}
	r.log.Info().Str("task_id", task.ID).Int("next_attempt", retry.Attempt).
		Dur("delay", delay).Err(cause).Msg("task scheduled for retry")
	return nil
}

func (r *FailureRouter) deadLetter(ctx context.Context, task *model.Task, cause error, reason string) error {
	rec := &model.FailedTaskRecord{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Queue:      task.Queue,
		Args:       task.Payload,
		LastError:  cause.Error(),
		RetryCount: task.Attempt,
	}
	if err := r.failed.Upsert(ctx, nil, rec); err != nil {
		// Without a durable record the task must not be acked.
		return err
	}
	metrics.IncDeadLetter(task.Queue, reason)
	metrics.IncStageOutcome(string(task.Kind), "dead_letter")

	r.settleFailedItem(ctx, task, cause)
	return nil
}

// settleFailedItem moves the analysis record to FAILED and updates the run's
// counters. Counter and event failures are logged and skipped; the
// dead-letter record already preserves the task.
func (r *FailureRouter) settleFailedItem(ctx context.Context, task *model.Task, cause error) {
	recordID := recordIDOf(task)
	if recordID == "" {
		return
	}
	if err := r.records.MarkTerminal(ctx, nil, recordID, model.AnalysisStatusFailed, cause.Error()); err != nil {
		r.log.Error().Err(err).Str("record_id", recordID).Msg("could not mark record failed")
	}
	if task.RunID == "" {
		return
	}
	r.counters.MarkFinished(task.RunID, recordID, false)
	if err := r.events.Publish(ctx, model.RunEvent{
		Type: model.EventFailed, RunID: task.RunID, ItemID: recordID,
	}); err != nil {
		r.log.Warn().Err(err).Str("run_id", task.RunID).Msg("failed event not published")
	}
	if err := r.progress.CheckCompletion(ctx, task.RunID); err != nil {
		r.log.Warn().Err(err).Str("run_id", task.RunID).Msg("completion check failed")
	}
}

// recordIDOf extracts the analysis record id shared by the stage payloads.
// Finalize and fanout payloads have none.
func recordIDOf(task *model.Task) string {
	var probe struct {
		RecordID string `json:"record_id"`
	}
	if err := json.Unmarshal(task.Payload, &probe); err != nil {
		return ""
	}
	return probe.RecordID
}
