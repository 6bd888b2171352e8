package model

import "time"

// ConversationEmbedding is the optional embeddings-stage output. At most one
// vector per conversation; re-embedding overwrites.
type ConversationEmbedding struct {
	ConversationID string
	RecordID       string
	Model          string
	Vector         []float32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
