package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.ConversationSource = (*conversationSource)(nil)

// conversationSource reads the collaborator-owned conversations table.
// Only sealed conversations are eligible for analysis.
type conversationSource struct {
	pool *pgxpool.Pool
}

func NewConversationSource(pool *pgxpool.Pool) *conversationSource {
	return &conversationSource{pool: pool}
}

func (s *conversationSource) Get(ctx context.Context, tx repository.Tx, conversationID string) (*repository.ConversationRef, error) {
	const q = `SELECT id, chat_id, content FROM conversations WHERE id = $1;`
	row, err := pickRow(ctx, s.pool, tx, q, conversationID)
	if err != nil {
		return nil, err
	}
	var ref repository.ConversationRef
	if err := row.Scan(&ref.ID, &ref.ChatID, &ref.Content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &ref, nil
}

func (s *conversationSource) ListByChat(ctx context.Context, tx repository.Tx, chatID string) ([]repository.ConversationRef, error) {
	const q = `
SELECT id, chat_id, content
FROM conversations
WHERE chat_id = $1 AND sealed_at IS NOT NULL
ORDER BY created_at;`
	rows, err := pickRows(ctx, s.pool, tx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefs(rows)
}

func (s *conversationSource) ListUnanalyzed(ctx context.Context, tx repository.Tx, promptID string, limit int) ([]repository.ConversationRef, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `
SELECT c.id, c.chat_id, c.content
FROM conversations c
LEFT JOIN analysis_records r
  ON r.conversation_id = c.id AND r.prompt_id = $1 AND r.status = 'success'
WHERE c.sealed_at IS NOT NULL AND r.id IS NULL
ORDER BY c.created_at
LIMIT $2;`
	rows, err := pickRows(ctx, s.pool, tx, q, promptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefs(rows)
}

func collectRefs(rows pgx.Rows) ([]repository.ConversationRef, error) {
	var out []repository.ConversationRef
	for rows.Next() {
		var ref repository.ConversationRef
		if err := rows.Scan(&ref.ID, &ref.ChatID, &ref.Content); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
