package engine

import "context"

// Generator abstracts the text-generation provider. Consumers such as the
// answer pipeline use this interface instead of depending on a concrete client.
type Generator interface {
	// Generate sends the system instructions and user message and returns the
	// generated text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Local is a self-hosted inference backend whose models can be inspected and
// pulled before serving.
type Local interface {
	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error

	// Warm sends a trivial request so the model is loaded before the first question.
	Warm(ctx context.Context, model string) error
}
