// File: internal/infra/worker/persist_handler.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

var _ Handler = (*PersistHandler)(nil)

// PersistHandler is stage B: one transaction stores the result and flips the
// record to SUCCESS. The transaction is the pipeline's idempotency barrier -
// redelivery after commit hits the no-op terminal re-apply and the result
// row's ON CONFLICT, so the pair is written exactly once.
type PersistHandler struct {
	tm       repository.TransactionManager
	records  repository.AnalysisRecordRepository
	counters adapter.ProgressCounters
	events   adapter.RunEventPublisher
	checker  CompletionChecker
	broker   adapter.TaskBroker
	// embedQueue is empty when the embeddings stage is disabled.
	embedQueue string
	log        *zerolog.Logger
}

func NewPersistHandler(
	tm repository.TransactionManager,
	records repository.AnalysisRecordRepository,
	counters adapter.ProgressCounters,
	events adapter.RunEventPublisher,
	checker CompletionChecker,
	broker adapter.TaskBroker,
	embedQueue string,
	logger *zerolog.Logger,
) *PersistHandler {
	l := logger.With().Str("component", "PersistHandler").Logger()
	return &PersistHandler{
		tm:         tm,
		records:    records,
		counters:   counters,
		events:     events,
		checker:    checker,
		broker:     broker,
		embedQueue: embedQueue,
		log:        &l,
	}
}

func (h *PersistHandler) Handle(ctx context.Context, task *model.Task) error {
	var p model.PipelinePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return NonRetryable(fmt.Errorf("pipeline payload: %w", err))
	}
	if p.RecordID == "" {
		return NonRetryable(errors.New("pipeline payload missing record_id"))
	}

	// Redelivery after a committed transaction must not move the counters
	// a second time; the record's terminal status is the dedup marker.
	if rec, err := h.records.FindByID(ctx, nil, p.RecordID); err == nil && rec.Status == model.AnalysisStatusSuccess {
		if p.RunID != "" {
			if err := h.checker.CheckCompletion(ctx, p.RunID); err != nil {
				return fmt.Errorf("completion check: %w", err)
			}
		}
		return nil
	}

	start := time.Now()
	err := h.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res := &model.AnalysisResult{
			ID:             uuid.NewString(),
			RecordID:       p.RecordID,
			ConversationID: p.ConversationID,
			PromptID:       p.PromptID,
			Content:        p.ResultText,
			Model:          p.Model,
			PromptTokens:   p.PromptTokens,
			OutputTokens:   p.OutputTokens,
			CostMicros:     p.CostMicros,
		}
		if err := h.records.SaveResult(ctx, tx, res); err != nil {
			return err
		}
		return h.records.MarkTerminal(ctx, tx, p.RecordID, model.AnalysisStatusSuccess, "")
	})
	metrics.ObserveStage("persist", int(time.Since(start)/time.Millisecond), err == nil)
	if err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	metrics.IncStageOutcome("persist", "ok")

	if p.RunID != "" {
		h.counters.MarkFinished(p.RunID, p.RecordID, true)
		if err := h.events.Publish(ctx, model.RunEvent{
			Type: model.EventCompleted, RunID: p.RunID, ItemID: p.RecordID,
		}); err != nil {
			h.log.Warn().Err(err).Str("run_id", p.RunID).Msg("completed event not published")
		}
		if err := h.checker.CheckCompletion(ctx, p.RunID); err != nil {
			// The result is committed; the run would be left un-finalized.
			// Fail the task so redelivery re-runs the (idempotent) check.
			return fmt.Errorf("completion check: %w", err)
		}
	}

	if h.embedQueue != "" {
		embed, err := model.NewTask(model.TaskKindEmbed, h.embedQueue, "", model.EmbedPayload{
			RecordID:       p.RecordID,
			ConversationID: p.ConversationID,
		})
		if err == nil {
			err = h.broker.Enqueue(ctx, embed)
		}
		if err != nil {
			// Embeddings ride along best-effort; the backfill sweep picks up
			// anything that was dropped here.
			h.log.Warn().Err(err).Str("record_id", p.RecordID).Msg("embed task not enqueued")
		}
	}

	h.log.Info().Str("record_id", p.RecordID).Str("run_id", p.RunID).Msg("persist stage done")
	return nil
}
