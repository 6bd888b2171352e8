package repository

import "context"

// Prompt is one named analysis instruction plus its preferred model.
type Prompt struct {
	ID    string
	Text  string
	Model string
}

// PromptCatalog resolves prompt identifiers. Implementations are injected,
// cache-backed objects with an explicit invalidation hook - never package
// globals.
type PromptCatalog interface {
	Get(ctx context.Context, promptID string) (*Prompt, error)
	Invalidate(promptID string)
}
