// File: internal/infra/worker/compute_handler.go
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
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/metrics"
)

var _ Handler = (*ComputeHandler)(nil)

// ComputeHandler is stage A: the network-bound model call. It never writes
// the record's terminal status - that belongs to the persist stage, so a
// crash here can only leave a PROCESSING record for reconciliation, never a
// half-written result.
type ComputeHandler struct {
	records  repository.AnalysisRecordRepository
	prompts  repository.PromptCatalog
	ai       adapter.AnalysisAdapter
	broker   adapter.TaskBroker
	counters adapter.ProgressCounters
	events   adapter.RunEventPublisher
	log      *zerolog.Logger
}

func NewComputeHandler(
	records repository.AnalysisRecordRepository,
	prompts repository.PromptCatalog,
	ai adapter.AnalysisAdapter,
	broker adapter.TaskBroker,
	counters adapter.ProgressCounters,
	events adapter.RunEventPublisher,
	logger *zerolog.Logger,
) *ComputeHandler {
	l := logger.With().Str("component", "ComputeHandler").Logger()
	return &ComputeHandler{
		records:  records,
		prompts:  prompts,
		ai:       ai,
		broker:   broker,
		counters: counters,
		events:   events,
		log:      &l,
	}
}

func (h *ComputeHandler) Handle(ctx context.Context, task *model.Task) error {
	var p model.ComputePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return NonRetryable(fmt.Errorf("compute payload: %w", err))
	}
	if p.RecordID == "" || p.PromptID == "" {
		return NonRetryable(errors.New("compute payload missing identifiers"))
	}
	ctx = logging.WithRecordID(ctx, p.RecordID)
	ctx = logging.WithConversationID(ctx, p.ConversationID)
	log := logging.With(ctx, h.log)

	if err := h.records.MarkDispatched(ctx, nil, p.RecordID, task.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyCompleted):
			// A previous delivery finished the whole pipeline.
			log.Debug().Msg("record already completed, dropping task")
			return nil
		case errors.Is(err, domain.ErrAlreadyInProgress):
			// Another pipeline instance owns the record now.
			log.Warn().Msg("record owned by another task, dropping")
			return nil
		default:
			return err
		}
	}

	if task.RunID != "" && task.Attempt == 1 {
		// Retries keep the item in 'processing'; only the first delivery
		// moves the counter. A redelivered first attempt can double-move it,
		// which Reconcile later absorbs.
		h.counters.MarkStarted(task.RunID, p.RecordID)
		if err := h.events.Publish(ctx, model.RunEvent{
			Type: model.EventStarted, RunID: task.RunID, ItemID: p.RecordID,
		}); err != nil {
			log.Warn().Err(err).Msg("started event not published")
		}
	}

	prompt, err := h.prompts.Get(ctx, p.PromptID)
	if err != nil {
		return NonRetryable(fmt.Errorf("resolve prompt %q: %w", p.PromptID, err))
	}
	modelName := p.Model
	if modelName == "" {
		modelName = prompt.Model
	}

	start := time.Now()
	text, usage, err := h.ai.Analyze(ctx, modelName, prompt.Text, p.Content)
	latency := int(time.Since(start) / time.Millisecond)
	metrics.ObserveStage("compute", latency, err == nil)
	if err != nil {
		return fmt.Errorf("analysis call: %w", err)
	}
	metrics.ObserveAnalysisUsage(modelName, usage.PromptTokens, usage.CompletionTokens, 0)

	next, err := model.NewTask(model.TaskKindPersist, persistQueueFor(task.Queue), task.RunID, model.PipelinePayload{
		RecordID:       p.RecordID,
		ConversationID: p.ConversationID,
		PromptID:       p.PromptID,
		RunID:          task.RunID,
		ResultText:     text,
		Model:          modelName,
		PromptTokens:   usage.PromptTokens,
		OutputTokens:   usage.CompletionTokens,
	})
	if err != nil {
		return NonRetryable(err)
	}
	if err := h.broker.Enqueue(ctx, next); err != nil {
		// Retrying the compute stage re-runs the model call; acceptable,
		// the persist stage is the idempotency barrier.
		return fmt.Errorf("enqueue persist: %w", err)
	}
	metrics.IncStageOutcome("compute", "ok")
	log.Info().Str("model", modelName).Int("latency_ms", latency).Msg("compute stage done")
	return nil
}

// persistQueueFor keeps strictly-sequential pipelines on their own queue
// end to end; everything else lands on the database-bound queue.
func persistQueueFor(computeQueue string) string {
	if computeQueue == model.QueueSequential {
		return model.QueueSequential
	}
	return model.QueuePersist
}
