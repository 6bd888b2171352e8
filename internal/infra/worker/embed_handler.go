// File: internal/infra/worker/embed_handler.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

var _ Handler = (*EmbedHandler)(nil)

// EmbedHandler runs the optional embeddings stage: fetch the conversation's
// encoded content, embed it, upsert the vector. Independent of run progress;
// a failure here never blocks run completion.
type EmbedHandler struct {
	source   repository.ConversationSource
	embedder adapter.Embedder
	store    repository.EmbeddingStore
	model    string
	log      *zerolog.Logger
}

func NewEmbedHandler(
	source repository.ConversationSource,
	embedder adapter.Embedder,
	store repository.EmbeddingStore,
	embedModel string,
	logger *zerolog.Logger,
) *EmbedHandler {
	l := logger.With().Str("component", "EmbedHandler").Logger()
	return &EmbedHandler{
		source:   source,
		embedder: embedder,
		store:    store,
		model:    embedModel,
		log:      &l,
	}
}

func (h *EmbedHandler) Handle(ctx context.Context, task *model.Task) error {
	var p model.EmbedPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return NonRetryable(fmt.Errorf("embed payload: %w", err))
	}
	if p.ConversationID == "" {
		return NonRetryable(errors.New("embed payload missing conversation_id"))
	}
	// record_id backs a NOT NULL foreign key; without it every save would
	// fail retryably until the attempts run out.
	if p.RecordID == "" {
		return NonRetryable(errors.New("embed payload missing record_id"))
	}

	conv, err := h.source.Get(ctx, nil, p.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.Content == "" {
		h.log.Debug().Str("conversation_id", p.ConversationID).Msg("empty conversation, nothing to embed")
		return nil
	}

	start := time.Now()
	vec, err := h.embedder.Embed(ctx, h.model, conv.Content)
	metrics.ObserveStage("embed", int(time.Since(start)/time.Millisecond), err == nil)
	if err != nil {
		return fmt.Errorf("embed call: %w", err)
	}

	emb := &model.ConversationEmbedding{
		ConversationID: p.ConversationID,
		RecordID:       p.RecordID,
		Model:          h.model,
		Vector:         vec,
	}
	if err := h.store.Save(ctx, nil, emb); err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	metrics.IncStageOutcome("embed", "ok")
	h.log.Info().Str("conversation_id", p.ConversationID).Int("dims", len(vec)).Msg("embed stage done")
	return nil
}
