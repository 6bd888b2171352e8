// File: internal/usecase/submit_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

// WorkflowUseCase is the batch assembler: it turns a target (one chat, an
// explicit list, or every unanalyzed conversation) into an explicit
// WorkflowPlan and dispatches it as one run.
type WorkflowUseCase interface {
	// SubmitChat runs the prompt over every sealed conversation of the chat.
	SubmitChat(ctx context.Context, chatID, promptID string) (*model.SubmissionResult, error)

	// SubmitConversations runs the prompt over an explicit conversation list.
	// Sequential routes the pipelines through the single-concurrency queue,
	// preserving chronological order for backfills.
	SubmitConversations(ctx context.Context, conversationIDs []string, promptID string, sequential bool) (*model.SubmissionResult, error)

	// SubmitAllUnanalyzed schedules a global backfill: the enumeration and
	// assembly run on the fanout worker, off the caller's request path.
	SubmitAllUnanalyzed(ctx context.Context, promptID string, limit int) (*model.SubmissionResult, error)

	// SubmitUnanalyzedNow assembles the global backfill synchronously; this
	// is what the fanout worker calls.
	SubmitUnanalyzedNow(ctx context.Context, promptID string, limit int) (*model.SubmissionResult, error)
}

type workflowUC struct {
	source   repository.ConversationSource
	records  repository.AnalysisRecordRepository
	prompts  repository.PromptCatalog
	broker   adapter.TaskBroker
	counters adapter.ProgressCounters
	events   adapter.RunEventPublisher
	progress ProgressUseCase
	log      *zerolog.Logger
}

func NewWorkflowUseCase(
	source repository.ConversationSource,
	records repository.AnalysisRecordRepository,
	prompts repository.PromptCatalog,
	broker adapter.TaskBroker,
	counters adapter.ProgressCounters,
	events adapter.RunEventPublisher,
	progress ProgressUseCase,
	logger *zerolog.Logger,
) WorkflowUseCase {
	l := logger.With().Str("component", "WorkflowUseCase").Logger()
	return &workflowUC{
		source:   source,
		records:  records,
		prompts:  prompts,
		broker:   broker,
		counters: counters,
		events:   events,
		progress: progress,
		log:      &l,
	}
}

func (uc *workflowUC) SubmitChat(ctx context.Context, chatID, promptID string) (*model.SubmissionResult, error) {
	if chatID == "" || promptID == "" {
		return nil, domain.ErrInvalidArgument
	}
	convs, err := uc.source.ListByChat(ctx, nil, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat conversations: %w", err)
	}
	plan, err := uc.assemble(ctx, convs, promptID, chatID, false)
	if err != nil {
		return nil, err
	}
	res, err := uc.dispatch(ctx, plan, false)
	if err == nil {
		metrics.IncRunSubmitted("chat")
	}
	return res, err
}

func (uc *workflowUC) SubmitConversations(ctx context.Context, conversationIDs []string, promptID string, sequential bool) (*model.SubmissionResult, error) {
	if len(conversationIDs) == 0 || promptID == "" {
		return nil, domain.ErrInvalidArgument
	}
	convs := make([]repository.ConversationRef, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		conv, err := uc.source.Get(ctx, nil, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				uc.log.Warn().Str("conversation_id", id).Msg("conversation not found, excluded from run")
				continue
			}
			return nil, fmt.Errorf("load conversation %s: %w", id, err)
		}
		convs = append(convs, *conv)
	}
	plan, err := uc.assemble(ctx, convs, promptID, "", sequential)
	if err != nil {
		return nil, err
	}
	res, err := uc.dispatch(ctx, plan, sequential)
	if err == nil {
		metrics.IncRunSubmitted("list")
	}
	return res, err
}

func (uc *workflowUC) SubmitAllUnanalyzed(ctx context.Context, promptID string, limit int) (*model.SubmissionResult, error) {
	if promptID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := uc.prompts.Get(ctx, promptID); err != nil {
		return nil, fmt.Errorf("resolve prompt %q: %w", promptID, err)
	}
	task, err := model.NewTask(model.TaskKindBackfill, model.QueueFanout, "", model.BackfillPayload{
		PromptID: promptID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	if err := uc.broker.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue backfill: %w", err)
	}
	uc.log.Info().Str("prompt_id", promptID).Int("limit", limit).Msg("global backfill scheduled")
	return &model.SubmissionResult{
		TaskRefs: []string{task.ID},
		Message:  "backfill scheduled",
	}, nil
}

func (uc *workflowUC) SubmitUnanalyzedNow(ctx context.Context, promptID string, limit int) (*model.SubmissionResult, error) {
	convs, err := uc.source.ListUnanalyzed(ctx, nil, promptID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed: %w", err)
	}
	plan, err := uc.assemble(ctx, convs, promptID, "", true)
	if err != nil {
		return nil, err
	}
	res, err := uc.dispatch(ctx, plan, true)
	if err == nil {
		metrics.IncRunSubmitted("unanalyzed")
	}
	return res, err
}

// assemble prepares one record per conversation and builds the full plan
// before anything is enqueued. Conversations that already succeeded, or that
// another run is processing, are excluded up front so the counters are an
// exact census of this run.
func (uc *workflowUC) assemble(ctx context.Context, convs []repository.ConversationRef, promptID, chatID string, sequential bool) (*model.WorkflowPlan, error) {
	prompt, err := uc.prompts.Get(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt %q: %w", promptID, err)
	}

	plan := &model.WorkflowPlan{
		RunID:     uuid.NewString(),
		ChatID:    chatID,
		PromptID:  promptID,
		CreatedAt: time.Now(),
	}
	for _, conv := range convs {
		rec, err := uc.records.Prepare(ctx, nil, conv.ID, promptID)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyCompleted) || errors.Is(err, domain.ErrAlreadyInProgress) {
				plan.Skipped = append(plan.Skipped, conv.ID)
				continue
			}
			return nil, fmt.Errorf("prepare record for %s: %w", conv.ID, err)
		}
		if conv.Content == "" {
			// Nothing to analyze; settle the fresh record outside the run.
			if err := uc.records.MarkTerminal(ctx, nil, rec.ID, model.AnalysisStatusSkipped, "empty conversation"); err != nil {
				uc.log.Warn().Err(err).Str("record_id", rec.ID).Msg("could not mark empty conversation skipped")
			}
			plan.Skipped = append(plan.Skipped, conv.ID)
			continue
		}
		plan.Pipelines = append(plan.Pipelines, model.PipelineSpec{
			RecordID:       rec.ID,
			ConversationID: conv.ID,
			PromptID:       promptID,
			Content:        conv.Content,
			Model:          prompt.Model,
			Sequential:     sequential,
		})
	}
	if len(plan.Pipelines) == 0 {
		return nil, domain.ErrEmptyRun
	}
	return plan, nil
}

// dispatch seeds the counters with the exact membership set, then enqueues
// one compute task per pipeline. Seeding strictly precedes the first enqueue
// so no worker can ever report against an unseeded run.
func (uc *workflowUC) dispatch(ctx context.Context, plan *model.WorkflowPlan, sequential bool) (*model.SubmissionResult, error) {
	if err := uc.counters.Seed(ctx, plan.RunID, plan.ItemIDs()); err != nil {
		return nil, fmt.Errorf("seed run counters: %w", err)
	}

	queue := model.QueueCompute
	if sequential {
		queue = model.QueueSequential
	}

	refs := make([]string, 0, len(plan.Pipelines))
	failed := 0
	for i := range plan.Pipelines {
		p := &plan.Pipelines[i]
		task, err := model.NewTask(model.TaskKindCompute, queue, plan.RunID, model.ComputePayload{
			RecordID:       p.RecordID,
			ConversationID: p.ConversationID,
			PromptID:       p.PromptID,
			Content:        p.Content,
			Model:          p.Model,
		})
		if err == nil {
			err = uc.broker.Enqueue(ctx, task)
		}
		if err != nil {
			// The item is already counted in the run; settle it as failed so
			// the run can still complete.
			uc.log.Error().Err(err).Str("record_id", p.RecordID).Msg("could not enqueue pipeline")
			if merr := uc.records.MarkTerminal(ctx, nil, p.RecordID, model.AnalysisStatusFailed, "enqueue: "+err.Error()); merr != nil {
				uc.log.Error().Err(merr).Str("record_id", p.RecordID).Msg("could not mark record failed")
			}
			uc.counters.MarkFinished(plan.RunID, p.RecordID, false)
			failed++
			continue
		}
		refs = append(refs, task.ID)
	}
	if failed > 0 {
		if err := uc.progress.CheckCompletion(ctx, plan.RunID); err != nil {
			uc.log.Warn().Err(err).Str("run_id", plan.RunID).Msg("completion check after enqueue failures")
		}
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("run %s: no pipeline could be enqueued", plan.RunID)
	}

	uc.log.Info().Str("run_id", plan.RunID).Str("prompt_id", plan.PromptID).
		Int("queued", len(refs)).Int("skipped", len(plan.Skipped)).
		Msg("run dispatched")
	return &model.SubmissionResult{
		RunID:    plan.RunID,
		TaskRefs: refs,
		Queued:   len(refs),
		Skipped:  len(plan.Skipped),
		Message:  "run dispatched",
	}, nil
}
