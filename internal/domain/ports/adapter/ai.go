package adapter

import "context"

// ModelInfo describes a model.
type ModelInfo struct {
	Name        string
	Description string
	MaxTokens   int
	Supports    []string
}

// Usage for a single analysis call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AnalysisAdapter is the port for the LLM call of the compute stage. The
// conversation arrives pre-encoded; prompt selection happens upstream.
type AnalysisAdapter interface {
	ListModels(ctx context.Context) ([]string, error)
	GetModelInfo(model string) (ModelInfo, error)

	// Analyze runs the prompt against the encoded conversation content and
	// returns the model's text plus usage as reported by the provider.
	Analyze(ctx context.Context, model, prompt, content string) (string, Usage, error)
}

// Embedder is the port for the optional embeddings stage.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}
