package sqlite

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"

	"hindsight/internal/domain"
)

// vecIndex is an in-memory index of embedding vectors keyed by entry rowid.
// It avoids SQLite I/O on every vector search: loaded lazily on the first
// search and updated incrementally on InsertVec and row replacement.
type vecIndex struct {
	mu      sync.RWMutex
	vectors map[int64][]float32
	loaded  bool
}

func newVecIndex() *vecIndex {
	return &vecIndex{vectors: make(map[int64][]float32)}
}

// search returns the limit nearest rows by L2 distance, ascending. On
// unit-norm vectors L2 orders identically to 1-cosine.
func (idx *vecIndex) search(query []float32, limit int) []domain.VecHit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]domain.VecHit, 0, len(idx.vectors))
	for rowID, vec := range idx.vectors {
		d, ok := l2Distance(query, vec)
		if !ok {
			continue
		}
		hits = append(hits, domain.VecHit{RowID: rowID, Distance: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].RowID < hits[j].RowID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *vecIndex) put(rowID int64, vec []float32) {
	idx.mu.Lock()
	idx.vectors[rowID] = vec
	idx.mu.Unlock()
}

func (idx *vecIndex) remove(rowID int64) {
	idx.mu.Lock()
	delete(idx.vectors, rowID)
	idx.mu.Unlock()
}

func (idx *vecIndex) reset() {
	idx.mu.Lock()
	idx.vectors = make(map[int64][]float32)
	idx.loaded = false
	idx.mu.Unlock()
}

func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

// loadFromDB populates the index from the vectors table. Subsequent calls are
// no-ops.
func (idx *vecIndex) loadFromDB(ctx context.Context, db *sql.DB) error {
	idx.mu.Lock()
	if idx.loaded {
		idx.mu.Unlock()
		return nil
	}
	idx.mu.Unlock()

	rows, err := db.QueryContext(ctx, "SELECT rowid, embedding FROM vectors")
	if err != nil {
		return err
	}
	defer rows.Close()

	vectors := make(map[int64][]float32)
	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			continue
		}
		if vec := bytesToFloat32(blob); vec != nil {
			vectors[rowID] = vec
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.vectors = vectors
	idx.loaded = true
	idx.mu.Unlock()
	return nil
}

// l2Distance computes the Euclidean distance between two vectors. Returns
// ok=false on length mismatch or a non-finite result.
func l2Distance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	dist := math.Sqrt(sum)
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return 0, false
	}
	return dist, true
}
