package ai

import (
	"context"
	"fmt"
	"time"

	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.AnalysisAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.AnalysisAdapter for local/dev testing.
// It returns a canned response instead of calling a real provider.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{}
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-model"}, nil
}

func (a *NoopAIAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{
		Name:        "noop-model",
		Description: "Noop model for testing",
		MaxTokens:   1024,
		Supports:    []string{"text"},
	}, nil
}

func (a *NoopAIAdapter) Analyze(ctx context.Context, model, prompt, content string) (string, adapter.Usage, error) {
	// Simulate slight processing time and respect ctx
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	reply := fmt.Sprintf("noop analysis of %d bytes", len(content))
	return reply, adapter.Usage{PromptTokens: len(content) / 4, CompletionTokens: 8, TotalTokens: len(content)/4 + 8}, nil
}
