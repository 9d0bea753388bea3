package domain_test

import (
	"context"

	"hindsight/internal/domain"
)

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*stubEmbedder)(nil)

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, domain.EmbeddingDimensions)
		if len(out[i]) > 0 {
			out[i][0] = 1 // unit-norm stub vector
		}
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return domain.EmbeddingDimensions }
func (s *stubEmbedder) Name() string    { return "stub" }
