package domain

import "context"

// ListFilter narrows list/search operations (§4.1, §4.3).
type ListFilter struct {
	Type            EntryType // zero value means unset
	Days            int       // 0 means unset
	Limit           int
	IncludeArchived bool
	Tier            Tier
	Project         string
}

// VecHit is one (row, distance) result from a vector search, ascending by
// distance (§4.1).
type VecHit struct {
	RowID    int64
	Distance float64
}

// StoreStatus is the §4.1 status() summary.
type StoreStatus struct {
	Total            int
	DateRangeFrom    string
	DateRangeTo      string
	TierDistribution map[Tier]int
	ArchivedCount    int
	ActivePatterns   int
	StorageBytes     int64
}

// EntryStore is the C1 Store contract (§4.1). A single process opens exactly
// one writer; the implementation relies on SQLite WAL + busy-timeout for
// safe concurrent opens across processes (§5).
type EntryStore interface {
	Insert(ctx context.Context, e Entry) (rowID int64, err error)
	InsertVec(ctx context.Context, rowID int64, v []float32) error

	SearchLexical(ctx context.Context, query string, f ListFilter) ([]Entry, error)
	SearchVec(ctx context.Context, v []float32, limit int) ([]VecHit, error)
	GetVecs(ctx context.Context, rowIDs []int64) (map[int64][]float32, error)
	GetByRowIDs(ctx context.Context, ids []int64) ([]Entry, error)
	List(ctx context.Context, f ListFilter) ([]Entry, error)

	Archive(ctx context.Context, ids []string) (count int, err error)
	BumpAccess(ctx context.Context, ids []string) error

	SaveRule(ctx context.Context, label, content string) (Entry, error)
	DeleteRule(ctx context.Context, label string) (bool, error)
	ListRules(ctx context.Context) ([]Entry, error)
	ListBySession(ctx context.Context, sessionID string) ([]Entry, error)
	FindByTag(ctx context.Context, tag string) ([]Entry, error)
	HasEntryWithTag(ctx context.Context, tag string) (bool, error)
	HasEntry(ctx context.Context, id string) (bool, error)

	GetEntry(ctx context.Context, id string) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error

	// Pattern table (§3.3, §4.5).
	SavePattern(ctx context.Context, p Pattern) error
	GetPattern(ctx context.Context, id string) (Pattern, error)
	ListUnresolvedPatterns(ctx context.Context) ([]Pattern, error)
	GetActivePatterns(ctx context.Context) ([]Pattern, error)
	ResolvePattern(ctx context.Context, id string) (bool, error)

	// File-pair table (§3.4, §4.5).
	UpsertFilePair(ctx context.Context, project, fileA, fileB, today string) error
	GetCoChanges(ctx context.Context, project, file string, limit int) ([]FilePair, error)

	Status(ctx context.Context) (StoreStatus, error)
	ClearAll(ctx context.Context) error
	Close() error
}
