package ai

import "context"

// Generator produces a completion for a system/user prompt pair. The
// conversion layer asks for JSON output; the generator returns the raw
// response text and leaves parsing to the caller.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate returns the model's response to the given prompts.
	// Returns an error if the request fails or the model returns no choices.
	Generate(ctx context.Context, system, user string) (string, error)
}

// Embedder generates vector embeddings from text for semantic similarity.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a
	// batch. The returned slice contains embeddings in the same order as the
	// input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider aggregates the generative services for convenient initialization
// and lifecycle management. A provider creates and manages Generator and
// Embedder instances sharing configuration and resources.
type Provider interface {
	// Generator returns the conversion backend.
	Generator() Generator

	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Close releases resources held by the provider and its services.
	Close() error
}
