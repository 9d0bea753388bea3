package domain

import "context"

// EmbeddingDimensions is the fixed dimensionality mandated by §1 and §3.2:
// every vector produced by the engine is unit-norm f32[384].
const EmbeddingDimensions = 384

// EmbeddingProvider is the C2 Embedder's backend contract: a pure function
// text -> unit-norm f32[384], supplied by an external collaborator (§1, §4.2).
type EmbeddingProvider interface {
	// Embed generates unit-norm embeddings for the given texts, deterministic
	// for identical input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g. "wasm-local", "bedrock").
	Name() string
}

// Template is one frozen (category, text, vector) triple used by classify()
// (§4.2, §6.3).
type Template struct {
	Category string
	Text     string
	Vector   []float32
}

// ClassifyResult is classify()'s match, or the zero value with Matched=false
// when no template clears the threshold.
type ClassifyResult struct {
	Category   string
	Similarity float64
	Matched    bool
}
