// File: internal/infra/worker/backfill_handler.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
)

// BackfillSubmitter assembles a run over every unanalyzed conversation.
// Implemented by the workflow use case.
type BackfillSubmitter interface {
	SubmitUnanalyzedNow(ctx context.Context, promptID string, limit int) (*model.SubmissionResult, error)
}

var _ Handler = (*BackfillHandler)(nil)

// BackfillHandler runs global backfill assembly on the fanout queue, keeping
// the potentially large enumeration off the submitter's request path.
type BackfillHandler struct {
	submitter BackfillSubmitter
	log       *zerolog.Logger
}

func NewBackfillHandler(submitter BackfillSubmitter, logger *zerolog.Logger) *BackfillHandler {
	l := logger.With().Str("component", "BackfillHandler").Logger()
	return &BackfillHandler{submitter: submitter, log: &l}
}

func (h *BackfillHandler) Handle(ctx context.Context, task *model.Task) error {
	var p model.BackfillPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return NonRetryable(fmt.Errorf("backfill payload: %w", err))
	}
	if p.PromptID == "" {
		return NonRetryable(errors.New("backfill payload missing prompt_id"))
	}

	res, err := h.submitter.SubmitUnanalyzedNow(ctx, p.PromptID, p.Limit)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyRun) {
			h.log.Info().Str("prompt_id", p.PromptID).Msg("backfill found nothing to analyze")
			return nil
		}
		return fmt.Errorf("backfill submit: %w", err)
	}
	h.log.Info().Str("prompt_id", p.PromptID).Str("run_id", res.RunID).
		Int("queued", res.Queued).Int("skipped", res.Skipped).Msg("backfill run dispatched")
	return nil
}
