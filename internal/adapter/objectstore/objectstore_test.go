package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"hindsight/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	v1, err := m.Put(ctx, "entries/host-a.jsonl", []byte("line1\n"), "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj, err := m.Get(ctx, "entries/host-a.jsonl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Data) != "line1\n" || obj.Version != v1 {
		t.Errorf("obj = %+v", obj)
	}

	_, err = m.Get(ctx, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
}

func TestMemoryStoreOptimisticUpdate(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	v1, err := m.Put(ctx, "manifest.json", []byte("{}"), "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Create-if-absent on an existing key conflicts.
	if _, err := m.Put(ctx, "manifest.json", []byte("x"), ""); !errors.Is(err, domain.ErrOptimisticUpdate) {
		t.Errorf("create over existing = %v", err)
	}

	// Update with the current token succeeds; the stale token then conflicts.
	v2, err := m.Put(ctx, "manifest.json", []byte("y"), v1)
	if err != nil {
		t.Fatalf("conditional put: %v", err)
	}
	if _, err := m.Put(ctx, "manifest.json", []byte("z"), v1); !errors.Is(err, domain.ErrOptimisticUpdate) {
		t.Errorf("stale token accepted")
	}
	obj, _ := m.Get(ctx, "manifest.json")
	if string(obj.Data) != "y" || obj.Version != v2 {
		t.Errorf("obj = %+v", obj)
	}
}

func TestMemoryStoreList(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for _, k := range []string{"entries/a.jsonl", "entries/b.jsonl", "manifest.json"} {
		if _, err := m.Put(ctx, k, []byte("x"), ""); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	keys, err := m.List(ctx, "entries/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "entries/a.jsonl" {
		t.Errorf("keys = %v", keys)
	}
}

func TestMemoryStorePayloadCap(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Put(context.Background(), "big", make([]byte, MaxPayloadBytes+1), ""); !errors.Is(err, domain.ErrLimitReached) {
		t.Errorf("oversized payload = %v", err)
	}
}

// failingStore always errors, to drive the breaker open.
type failingStore struct{ calls int }

func (f *failingStore) Get(context.Context, string) (domain.BlobObject, error) {
	f.calls++
	return domain.BlobObject{}, domain.ErrObjectStore
}
func (f *failingStore) Put(context.Context, string, []byte, string) (string, error) {
	f.calls++
	return "", domain.ErrObjectStore
}
func (f *failingStore) List(context.Context, string) ([]string, error) {
	f.calls++
	return nil, domain.ErrObjectStore
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	inner := &failingStore{}
	b := NewBreakerStore(inner, discardLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = b.Get(ctx, "k")
	}
	if inner.calls >= 10 {
		t.Errorf("breaker never opened: %d calls reached the remote", inner.calls)
	}
}

func TestBreakerIgnoresProtocolAnswers(t *testing.T) {
	// Not-found responses must not open the circuit.
	m := NewMemoryStore()
	b := NewBreakerStore(m, discardLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := b.Get(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("call %d: %v (circuit opened on protocol answer?)", i, err)
		}
	}
}
