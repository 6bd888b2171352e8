package repository

import "context"

// ConversationRef is the engine's read-only view of a conversation owned by
// the upstream message store: its identity plus the model-ready encoding.
type ConversationRef struct {
	ID      string
	ChatID  string
	Content string
}

// ConversationSource resolves batch targets. The relational schema behind it
// belongs to an external collaborator; the engine only reads.
type ConversationSource interface {
	Get(ctx context.Context, tx Tx, conversationID string) (*ConversationRef, error)
	ListByChat(ctx context.Context, tx Tx, chatID string) ([]ConversationRef, error)
	// ListUnanalyzed returns conversations with no SUCCESS record for the
	// prompt, oldest-first, for global sweeps.
	ListUnanalyzed(ctx context.Context, tx Tx, promptID string, limit int) ([]ConversationRef, error)
}
