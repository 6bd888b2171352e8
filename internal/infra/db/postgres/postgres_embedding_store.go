package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.EmbeddingStore = (*embeddingStore)(nil)

type embeddingStore struct {
	pool *pgxpool.Pool
}

func NewEmbeddingStore(pool *pgxpool.Pool) *embeddingStore {
	return &embeddingStore{pool: pool}
}

func (s *embeddingStore) Save(ctx context.Context, tx repository.Tx, emb *model.ConversationEmbedding) error {
	if emb.ConversationID == "" || len(emb.Vector) == 0 {
		return domain.ErrInvalidArgument
	}
	now := time.Now()
	const q = `
INSERT INTO conversation_embeddings (conversation_id, record_id, model, vector, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (conversation_id) DO UPDATE SET
  record_id  = EXCLUDED.record_id,
  model      = EXCLUDED.model,
  vector     = EXCLUDED.vector,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, s.pool, tx, q,
		emb.ConversationID, emb.RecordID, emb.Model, emb.Vector, now)
	return err
}

func (s *embeddingStore) FindByConversation(ctx context.Context, tx repository.Tx, conversationID string) (*model.ConversationEmbedding, error) {
	const q = `
SELECT conversation_id, record_id, model, vector, created_at, updated_at
FROM conversation_embeddings
WHERE conversation_id = $1;`
	row, err := pickRow(ctx, s.pool, tx, q, conversationID)
	if err != nil {
		return nil, err
	}
	var emb model.ConversationEmbedding
	err = row.Scan(&emb.ConversationID, &emb.RecordID, &emb.Model, &emb.Vector,
		&emb.CreatedAt, &emb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &emb, nil
}
