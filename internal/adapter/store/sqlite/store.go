// Package sqlite implements the durable entry store: a typed entry table with
// an FTS5 lexical index and a dense-vector index kept consistent with it,
// plus the pattern and file-pair tables.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"hindsight/internal/domain"
)

// Store implements domain.EntryStore backed by SQLite + FTS5 with a sidecar
// vectors table. One process opens exactly one writer; WAL plus the 5-second
// busy timeout make concurrent opens from other processes safe.
//
// An in-memory vecIndex caches embeddings to avoid SQLite I/O on every vector
// search. The index is lazily loaded on the first search and incrementally
// updated on InsertVec and row replacement.
type Store struct {
	db     *sql.DB
	clock  domain.Clock
	logger *slog.Logger
	dbPath string
	vecIdx *vecIndex
}

var _ domain.EntryStore = (*Store)(nil)

// Open opens (or creates) the database at dbPath, runs migrations, and
// returns a ready Store.
func Open(dbPath string, clk domain.Clock, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrStoreUnavailable, err)
	}

	// SQLite write safety: single writer per process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrStoreUnavailable, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrMigration, err)
	}

	return &Store{
		db:     db,
		clock:  clk,
		logger: logger,
		dbPath: dbPath,
		vecIdx: newVecIndex(),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const entryColumns = `id, date, time, type, tags, content, source_file,
	tier, access_count, COALESCE(last_accessed, ''), pinned, archived,
	COALESCE(label, ''), COALESCE(project, ''), COALESCE(session_id, ''), COALESCE(agent_id, ''), rowid`

// Insert upserts an entry by id and returns its internal rowid. A replacement
// drops the prior row's vector: the caller re-computes any needed vector.
func (s *Store) Insert(ctx context.Context, e domain.Entry) (int64, error) {
	if len(e.Content) > domain.MaxContentBytes {
		return 0, fmt.Errorf("%w: content exceeds %d bytes", domain.ErrInvalidInput, domain.MaxContentBytes)
	}
	if e.Tier == "" {
		e.Tier = domain.AssignTier(e.Type, nil)
	}

	tags, err := json.Marshal(tagsOrEmpty(e.Tags))
	if err != nil {
		return 0, fmt.Errorf("%w: marshal tags: %v", domain.ErrStoreUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Replacement is an explicit delete + insert: REPLACE conflict handling
	// would skip the delete triggers that keep the FTS index honest, and the
	// prior row's vector must not survive either.
	var oldRowID int64
	err = tx.QueryRowContext(ctx, "SELECT rowid FROM entries WHERE id = ?", e.ID).Scan(&oldRowID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return 0, fmt.Errorf("%w: lookup: %v", domain.ErrStoreUnavailable, err)
	default:
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE rowid = ?", oldRowID); err != nil {
			return 0, fmt.Errorf("%w: drop vector: %v", domain.ErrStoreUnavailable, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE rowid = ?", oldRowID); err != nil {
			return 0, fmt.Errorf("%w: drop row: %v", domain.ErrStoreUnavailable, err)
		}
	}

	const upsert = `
		INSERT INTO entries
			(id, date, time, type, tags, content, source_file, tier,
			 access_count, last_accessed, pinned, archived, label,
			 project, session_id, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := tx.ExecContext(ctx, upsert,
		e.ID, e.Date, e.Time, string(e.Type), string(tags), e.Content, e.SourceFile,
		string(e.Tier), e.AccessCount, nullable(e.LastAccessed), boolInt(e.Pinned),
		boolInt(e.Archived), nullable(e.Label), nullable(e.Project),
		nullable(e.SessionID), nullable(e.AgentID),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert: %v", domain.ErrStoreUnavailable, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: rowid: %v", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}

	if oldRowID != 0 {
		s.vecIdx.remove(oldRowID)
	}
	return rowID, nil
}

// InsertVec attaches or replaces the unit-norm vector for a row.
func (s *Store) InsertVec(ctx context.Context, rowID int64, v []float32) error {
	if len(v) != domain.EmbeddingDimensions {
		return fmt.Errorf("%w: vector has %d dimensions, want %d", domain.ErrInvalidInput, len(v), domain.EmbeddingDimensions)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vectors (rowid, embedding) VALUES (?, ?)",
		rowID, float32ToBytes(v),
	)
	if err != nil {
		return fmt.Errorf("%w: insert vector: %v", domain.ErrStoreUnavailable, err)
	}
	if s.vecIdx.isLoaded() {
		s.vecIdx.put(rowID, v)
	}
	return nil
}

// GetByRowIDs loads entries for a set of internal row ids. Missing rows are
// silently skipped; order follows the input ids.
func (s *Store) GetByRowIDs(ctx context.Context, ids []int64) ([]domain.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE rowid IN ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get by rowids: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	byRow := make(map[int64]domain.Entry, len(ids))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn("store: unparseable entry row", "error", err)
			continue
		}
		byRow[e.RowID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	out := make([]domain.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byRow[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetEntry loads one entry by its public id.
func (s *Store) GetEntry(ctx context.Context, id string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return domain.Entry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: get entry: %v", domain.ErrStoreUnavailable, err)
	}
	return e, nil
}

// HasEntry reports whether an entry with the given public id exists.
func (s *Store) HasEntry(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has entry: %v", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

// UpdateEntry rewrites a mutable subset of an existing row in place (tags,
// content, tier, access bookkeeping, archival). The rowid is preserved, so
// the row's vector stays attached.
func (s *Store) UpdateEntry(ctx context.Context, e domain.Entry) error {
	tags, err := json.Marshal(tagsOrEmpty(e.Tags))
	if err != nil {
		return fmt.Errorf("%w: marshal tags: %v", domain.ErrStoreUnavailable, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET
			tags = ?, content = ?, tier = ?, access_count = ?,
			last_accessed = ?, pinned = ?, archived = ?
		WHERE id = ?`,
		string(tags), e.Content, string(e.Tier), e.AccessCount,
		nullable(e.LastAccessed), boolInt(e.Pinned), boolInt(e.Archived), e.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update: %v", domain.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns entries matching the filter, ordered by (date desc, time desc).
func (s *Store) List(ctx context.Context, f domain.ListFilter) ([]domain.Entry, error) {
	where, args := s.filterClauses(f)
	q := "SELECT " + entryColumns + " FROM entries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date DESC, time DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryEntries(ctx, q, args...)
}

// Archive sets archived=true for unpinned, not-yet-archived rows; returns the
// number of rows actually changed, making a repeated call report 0.
func (s *Store) Archive(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET archived = 1 WHERE id IN ("+strings.Join(placeholders, ",")+") AND pinned = 0 AND archived = 0",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: archive: %v", domain.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// BumpAccess increments access_count and stamps last_accessed with today for
// each id.
func (s *Store) BumpAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []any{s.clock.TodayLocalYMD()}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE entries SET access_count = access_count + 1, last_accessed = ? WHERE id IN ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("%w: bump access: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Status summarises the store for diagnostics.
func (s *Store) Status(ctx context.Context) (domain.StoreStatus, error) {
	st := domain.StoreStatus{TierDistribution: make(map[domain.Tier]int)}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&st.Total)
	if err != nil {
		return st, fmt.Errorf("%w: status: %v", domain.ErrStoreUnavailable, err)
	}
	if st.Total > 0 {
		err = s.db.QueryRowContext(ctx, "SELECT MIN(date), MAX(date) FROM entries").
			Scan(&st.DateRangeFrom, &st.DateRangeTo)
		if err != nil {
			return st, fmt.Errorf("%w: status range: %v", domain.ErrStoreUnavailable, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT tier, COUNT(*) FROM entries GROUP BY tier")
	if err != nil {
		return st, fmt.Errorf("%w: status tiers: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return st, err
		}
		st.TierDistribution[domain.Tier(tier)] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE archived = 1").Scan(&st.ArchivedCount); err != nil {
		return st, fmt.Errorf("%w: status archived: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns WHERE resolved = 0 AND occurrence_count >= 3").Scan(&st.ActivePatterns); err != nil {
		return st, fmt.Errorf("%w: status patterns: %v", domain.ErrStoreUnavailable, err)
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.StorageBytes = info.Size()
	}
	return st, nil
}

// ClearAll wipes entries, vectors, patterns and file pairs, preserving the
// schema. Test/administrative use only.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		"DELETE FROM entries",
		"DELETE FROM vectors",
		"DELETE FROM patterns",
		"DELETE FROM file_pairs",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: clear: %v", domain.ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	s.vecIdx.reset()
	return nil
}

// --- shared row helpers ---

// filterClauses translates a ListFilter into WHERE fragments. The days window
// is inclusive: date >= today - days + 1.
func (s *Store) filterClauses(f domain.ListFilter) ([]string, []any) {
	var where []string
	var args []any
	if !f.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Days > 0 {
		where = append(where, "date >= ?")
		args = append(args, cutoffDate(s.clock.TodayLocalYMD(), f.Days))
	}
	if f.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(f.Tier))
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	return where, args
}

func (s *Store) queryEntries(ctx context.Context, q string, args ...any) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn("store: unparseable entry row", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanEntry reads one entry row in entryColumns order.
func scanEntry(row interface{ Scan(dest ...any) error }) (domain.Entry, error) {
	var (
		e        domain.Entry
		typ      string
		tier     string
		tagsJSON string
		pinned   int
		archived int
	)
	err := row.Scan(
		&e.ID, &e.Date, &e.Time, &typ, &tagsJSON, &e.Content, &e.SourceFile,
		&tier, &e.AccessCount, &e.LastAccessed, &pinned, &archived,
		&e.Label, &e.Project, &e.SessionID, &e.AgentID, &e.RowID,
	)
	if err != nil {
		return e, err
	}
	e.Type = domain.EntryType(typ)
	e.Tier = domain.Tier(tier)
	e.Pinned = pinned != 0
	e.Archived = archived != 0
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return e, fmt.Errorf("%w: tags for %s: %v", domain.ErrStoreCorrupt, e.ID, err)
	}
	return e, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
