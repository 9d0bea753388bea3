// Package embedding implements the C2 Embedder: a cached text -> unit-norm
// f32[384] function with template-based semantic classification. The model
// itself is an external collaborator reached through a backend provider
// (local WASM module or Bedrock).
package embedding

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"hindsight/internal/domain"
)

// lruEntry pairs a normalized cache key with its embedding vector.
type lruEntry struct {
	key string
	vec []float32
}

// CachedProvider wraps a domain.EmbeddingProvider with a process-local LRU
// cache for single-text queries, keyed by lower(trim(text)). Batch calls pass
// through uncached.
type CachedProvider struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List // most-recently-used at back
}

// NewCachedProvider wraps inner with an LRU embedding cache of maxSize
// entries. If maxSize <= 0, the inner provider is returned directly.
func NewCachedProvider(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedProvider{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
	}
}

// cacheKey normalizes text for lookup: identical queries differing only in
// case or surrounding whitespace share one cache slot.
func cacheKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Embed implements domain.EmbeddingProvider. Single-text calls are cached;
// batch (len > 1) calls pass through.
func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := cacheKey(texts[0])

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		vec := elem.Value.(*lruEntry).vec
		c.mu.Unlock()
		return [][]float32{vec}, nil
	}
	c.mu.Unlock()

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	c.mu.Lock()
	c.put(key, result[0])
	c.mu.Unlock()
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// put inserts a key/value, evicting the LRU entry at capacity.
// Caller must hold c.mu.
func (c *CachedProvider) put(key string, vec []float32) {
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}
	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec})
}

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*CachedProvider)(nil)
