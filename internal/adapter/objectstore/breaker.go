package objectstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"hindsight/internal/domain"
)

// Default breaker settings: a degraded remote should fail fast instead of
// retry-storming every replication tick.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 2 * time.Minute
	defaultInterval    time.Duration = 5 * time.Minute
)

// BreakerStore wraps a domain.BlobStore with circuit breaker protection.
// When the remote fails repeatedly, the circuit opens and calls fail fast
// without touching the network.
type BreakerStore struct {
	inner   domain.BlobStore
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner domain.BlobStore, logger *slog.Logger) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "objectstore",
		MaxRequests: 1, // one probe in half-open state
		Interval:    defaultInterval,
		Timeout:     defaultOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Not-found and version conflicts are protocol answers, not
			// remote health signals.
			return err == nil || err == domain.ErrNotFound || err == domain.ErrOptimisticUpdate
		},
	})
	return &BreakerStore{inner: inner, breaker: cb}
}

// Get implements domain.BlobStore.
func (b *BreakerStore) Get(ctx context.Context, key string) (domain.BlobObject, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Get(ctx, key)
	})
	if err != nil {
		return domain.BlobObject{}, err
	}
	return out.(domain.BlobObject), nil
}

// Put implements domain.BlobStore.
func (b *BreakerStore) Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Put(ctx, key, data, expectedVersion)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// List implements domain.BlobStore.
func (b *BreakerStore) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.inner.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]string), nil
}

// Compile-time interface check.
var _ domain.BlobStore = (*BreakerStore)(nil)
