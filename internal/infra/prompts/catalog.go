package prompts

import (
	"context"
	"fmt"
	"sync"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.PromptCatalog = (*Catalog)(nil)

// Catalog is a read-through prompt cache over a loader function. The default
// loader serves the static config map; a database-backed loader can be
// swapped in without touching callers. Invalidate drops one cached entry.
type Catalog struct {
	load func(ctx context.Context, promptID string) (*repository.Prompt, error)

	mu    sync.RWMutex
	cache map[string]*repository.Prompt
}

func NewCatalog(load func(ctx context.Context, promptID string) (*repository.Prompt, error)) *Catalog {
	return &Catalog{load: load, cache: make(map[string]*repository.Prompt)}
}

// NewStaticCatalog serves prompts from a fixed map (the config file).
func NewStaticCatalog(prompts map[string]repository.Prompt) *Catalog {
	return NewCatalog(func(_ context.Context, promptID string) (*repository.Prompt, error) {
		p, ok := prompts[promptID]
		if !ok {
			return nil, fmt.Errorf("%w: prompt %q", domain.ErrNotFound, promptID)
		}
		return &p, nil
	})
}

func (c *Catalog) Get(ctx context.Context, promptID string) (*repository.Prompt, error) {
	c.mu.RLock()
	p, ok := c.cache[promptID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := c.load(ctx, promptID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[promptID] = p
	c.mu.Unlock()
	return p, nil
}

func (c *Catalog) Invalidate(promptID string) {
	c.mu.Lock()
	delete(c.cache, promptID)
	c.mu.Unlock()
}
