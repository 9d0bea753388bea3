package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"hindsight/internal/domain"
)

// SearchLexical performs FTS5 full-text search over (content, tags, type)
// with BM25 ranking. If the query trips FTS5 syntax, it falls back to a
// LIKE-based search so user-typed punctuation never errors.
func (s *Store) SearchLexical(ctx context.Context, query string, f domain.ListFilter) ([]domain.Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	where, args := s.filterClauses(f)
	// Qualify filter columns: entries_fts shares the type column name.
	extra := ""
	for _, w := range where {
		extra += " AND e." + w
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	q := `SELECT ` + prefixedEntryColumns("e") + `
		FROM entries_fts f
		JOIN entries e ON e.rowid = f.rowid
		WHERE entries_fts MATCH ?` + extra + `
		ORDER BY bm25(entries_fts)
		LIMIT ?`
	qargs := append([]any{ftsQuery(query)}, args...)
	qargs = append(qargs, limit)

	entries, err := s.queryEntries(ctx, q, qargs...)
	if err != nil {
		// FTS5 syntax error — fall back to LIKE search.
		return s.likeSearch(ctx, query, f, limit)
	}
	return entries, nil
}

// likeSearch is the fallback when FTS5 MATCH fails due to special characters.
func (s *Store) likeSearch(ctx context.Context, query string, f domain.ListFilter, limit int) ([]domain.Entry, error) {
	where, args := s.filterClauses(f)
	where = append([]string{"content LIKE ?"}, where...)
	args = append([]any{"%" + query + "%"}, args...)
	q := "SELECT " + entryColumns + " FROM entries WHERE " + strings.Join(where, " AND ") +
		" ORDER BY date DESC, time DESC LIMIT ?"
	args = append(args, limit)
	return s.queryEntries(ctx, q, args...)
}

// ftsQuery quotes each whitespace-separated term so punctuation inside a term
// cannot be parsed as FTS5 syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// prefixedEntryColumns is entryColumns qualified with a table alias for joins.
func prefixedEntryColumns(alias string) string {
	const cols = `%s.id, %s.date, %s.time, %s.type, %s.tags, %s.content, %s.source_file,
	%s.tier, %s.access_count, COALESCE(%s.last_accessed, ''), %s.pinned, %s.archived,
	COALESCE(%s.label, ''), COALESCE(%s.project, ''), COALESCE(%s.session_id, ''), COALESCE(%s.agent_id, ''), %s.rowid`
	args := make([]any, 17)
	for i := range args {
		args[i] = alias
	}
	return fmt.Sprintf(cols, args...)
}

// SearchVec returns the limit nearest rows by L2 distance on unit-norm
// vectors (equivalent ordering to 1-cosine), ascending.
func (s *Store) SearchVec(ctx context.Context, v []float32, limit int) ([]domain.VecHit, error) {
	if len(v) == 0 || limit <= 0 {
		return nil, nil
	}
	if !s.vecIdx.isLoaded() {
		if err := s.vecIdx.loadFromDB(ctx, s.db); err != nil {
			return nil, fmt.Errorf("%w: load vec index: %v", domain.ErrVectorSearch, err)
		}
	}
	return s.vecIdx.search(v, limit), nil
}

// GetVecs loads raw vectors for a set of rowids. Rows without a vector are
// omitted from the result.
func (s *Store) GetVecs(ctx context.Context, rowIDs []int64) (map[int64][]float32, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(rowIDs))
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid, embedding FROM vectors WHERE rowid IN ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get vectors: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[int64][]float32, len(rowIDs))
	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			continue
		}
		if vec := bytesToFloat32(blob); vec != nil {
			out[rowID] = vec
		}
	}
	return out, rows.Err()
}

// cutoffDate returns the inclusive lower bound for a days window:
// date >= today - days + 1.
func cutoffDate(today string, days int) string {
	t, err := time.ParseInLocation("2006-01-02", today, time.UTC)
	if err != nil {
		return today
	}
	return t.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
