package ai

import (
	"context"

	"conversation-analysis/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AnalysisAdapter = (*limitedAI)(nil)

// limitedAI bounds concurrent provider calls with a semaphore so the compute
// queue's worker count can exceed the provider's safe concurrency.
type limitedAI struct {
	inner adapter.AnalysisAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AnalysisAdapter, maxConcurrent int) adapter.AnalysisAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedAI) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return l.inner.GetModelInfo(model)
}

func (l *limitedAI) Analyze(ctx context.Context, model, prompt, content string) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Analyze(ctx, model, prompt, content)
}
