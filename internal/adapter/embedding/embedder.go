package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hindsight/internal/domain"
)

// DefaultCacheSize is the process-local LRU capacity for query embeddings.
const DefaultCacheSize = 100

// Embedder is the engine-facing embedding surface: single-text embedding
// through the LRU cache plus template-set classification. Template vectors
// are computed lazily on first use of each set and then frozen.
type Embedder struct {
	provider domain.EmbeddingProvider // cache-wrapped backend
	logger   *slog.Logger

	mu   sync.Mutex
	sets map[TemplateSet][]domain.Template
}

// New builds an Embedder over the given backend, wrapping it with the
// process-local LRU cache. cacheSize <= 0 selects DefaultCacheSize.
func New(backend domain.EmbeddingProvider, cacheSize int, logger *slog.Logger) *Embedder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Embedder{
		provider: NewCachedProvider(backend, cacheSize),
		logger:   logger,
		sets:     make(map[TemplateSet][]domain.Template),
	}
}

// Embed returns the unit-norm vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) != domain.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: backend returned no vector", domain.ErrEmbeddingFailed)
	}
	return vecs[0], nil
}

// Provider exposes the cache-wrapped backend for callers that batch.
func (e *Embedder) Provider() domain.EmbeddingProvider { return e.provider }

// Templates returns the frozen (category, text, vector) list for a set,
// computing vectors on first use.
func (e *Embedder) Templates(ctx context.Context, set TemplateSet) ([]domain.Template, error) {
	e.mu.Lock()
	if cached, ok := e.sets[set]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	raw, ok := catalogues[set]
	if !ok {
		return nil, fmt.Errorf("%w: unknown template set %q", domain.ErrInvalidInput, set)
	}

	texts := make([]string, len(raw))
	for i, r := range raw {
		texts[i] = r.Text
	}
	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: template set %s: %v", domain.ErrEmbeddingFailed, set, err)
	}
	if len(vecs) != len(raw) {
		return nil, fmt.Errorf("%w: template set %s: got %d vectors for %d templates",
			domain.ErrEmbeddingFailed, set, len(vecs), len(raw))
	}

	templates := make([]domain.Template, len(raw))
	for i, r := range raw {
		templates[i] = domain.Template{Category: r.Category, Text: r.Text, Vector: vecs[i]}
	}

	e.mu.Lock()
	e.sets[set] = templates
	e.mu.Unlock()
	return templates, nil
}

// Classify embeds text and returns the best-matching template category iff
// its dot product (cosine, both sides unit-norm) clears the threshold.
func (e *Embedder) Classify(ctx context.Context, text string, set TemplateSet, threshold float64) (domain.ClassifyResult, error) {
	templates, err := e.Templates(ctx, set)
	if err != nil {
		return domain.ClassifyResult{}, err
	}
	v, err := e.Embed(ctx, text)
	if err != nil {
		return domain.ClassifyResult{}, err
	}
	return ClassifyVec(v, templates, threshold), nil
}

// ClassifyVec matches a pre-computed vector against templates.
func ClassifyVec(v []float32, templates []domain.Template, threshold float64) domain.ClassifyResult {
	best := domain.ClassifyResult{}
	for _, t := range templates {
		sim := Dot(v, t.Vector)
		if !best.Matched || sim > best.Similarity {
			best = domain.ClassifyResult{Category: t.Category, Similarity: sim, Matched: true}
		}
	}
	if !best.Matched || best.Similarity < threshold {
		return domain.ClassifyResult{}
	}
	return best
}

// Dot computes the dot product of two vectors; on unit-norm inputs this is
// the cosine similarity. Length mismatch yields 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
