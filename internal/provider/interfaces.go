// Package provider wraps the model backends the engine depends on: an
// Embedder for vector generation and a Reasoner for extraction, relation
// inference and contradiction checks. All HTTP-backed implementations run
// behind a circuit breaker so provider outages degrade enrichment instead of
// cascading into the write path.
package provider

import "context"

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Embed returns the embedding of one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of vectors this embedder produces.
	Dimension() int

	// Model returns the configured model name.
	Model() string
}

// Reasoner is the single-prompt completion interface used by the entity
// extractor, relation builder and semantic conflict scanner.
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// HealthChecker is implemented by providers that can verify reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
