package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"hindsight/internal/domain"
)

// MemoryStore is an in-process domain.BlobStore for tests and offline use.
// Versions are monotonic per-key counters.
type MemoryStore struct {
	mu       sync.Mutex
	objects  map[string]domain.BlobObject
	versions map[string]int
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string]domain.BlobObject),
		versions: make(map[string]int),
	}
}

// Get implements domain.BlobStore.
func (m *MemoryStore) Get(_ context.Context, key string) (domain.BlobObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return domain.BlobObject{}, domain.ErrNotFound
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return domain.BlobObject{Key: obj.Key, Version: obj.Version, Data: data}, nil
}

// Put implements domain.BlobStore.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if len(data) > MaxPayloadBytes {
		return "", fmt.Errorf("%w: payload %d bytes exceeds cap", domain.ErrLimitReached, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[key]
	switch {
	case expectedVersion == "" && exists:
		return "", domain.ErrOptimisticUpdate
	case expectedVersion != "" && (!exists || current.Version != expectedVersion):
		return "", domain.ErrOptimisticUpdate
	}

	m.versions[key]++
	version := fmt.Sprintf("v%d", m.versions[key])
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = domain.BlobObject{Key: key, Version: version, Data: stored}
	return version, nil
}

// List implements domain.BlobStore.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Compile-time interface check.
var _ domain.BlobStore = (*MemoryStore)(nil)
