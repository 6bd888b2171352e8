package repository

import (
	"context"

	"conversation-analysis/internal/domain/model"
)

// EmbeddingStore persists the optional embeddings-stage output.
type EmbeddingStore interface {
	// Save upserts the conversation's vector; last write wins.
	Save(ctx context.Context, tx Tx, emb *model.ConversationEmbedding) error

	FindByConversation(ctx context.Context, tx Tx, conversationID string) (*model.ConversationEmbedding, error)
}
