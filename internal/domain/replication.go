package domain

import "context"

// ReplicationConfig identifies this host for the cross-host protocol (§3.6).
type ReplicationConfig struct {
	MachineID   string
	MachineName string
	RepoOwner   string
	RepoName    string
	Enabled     bool
}

// ReplicationState is the persisted sync bookkeeping for one host (§3.6).
type ReplicationState struct {
	Config        ReplicationConfig
	LastPushAt    string           // RFC3339 UTC, empty if never
	LastPullAt    string           // RFC3339 UTC, empty if never
	RemoteCursors map[string]int64 // machine_id -> line_count already consumed
}

// BlobObject is one object-store entry as returned by List/Get (§6.4).
type BlobObject struct {
	Key     string
	Version string // opaque optimistic-concurrency token
	Data    []byte
}

// BlobStore is the out-of-scope collaborator modelled as a blob get/put/list
// surface (§1, §6.4). Implementations must honor the 15-second call timeout
// from §5 via ctx.
type BlobStore interface {
	// Get fetches an object by key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (BlobObject, error)
	// Put uploads data at key with an optimistic-concurrency check: if
	// expectedVersion is non-empty and the stored object's version differs,
	// implementations return ErrOptimisticUpdate. Returns the new version.
	Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error)
	// List enumerates keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
