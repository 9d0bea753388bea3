package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hindsight/internal/domain"
)

const patternColumns = "id, label, entry_ids, occurrence_count, first_seen, last_seen, resolved"

// SavePattern upserts a pattern row by id.
func (s *Store) SavePattern(ctx context.Context, p domain.Pattern) error {
	ids, err := json.Marshal(tagsOrEmpty(p.EntryIDs))
	if err != nil {
		return fmt.Errorf("%w: marshal entry ids: %v", domain.ErrStoreUnavailable, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, label, entry_ids, occurrence_count, first_seen, last_seen, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label            = excluded.label,
			entry_ids        = excluded.entry_ids,
			occurrence_count = excluded.occurrence_count,
			last_seen        = excluded.last_seen,
			resolved         = excluded.resolved`,
		p.ID, domain.TruncateLabel(p.Label), string(ids), p.OccurrenceCount,
		p.FirstSeen, p.LastSeen, boolInt(p.Resolved),
	)
	if err != nil {
		return fmt.Errorf("%w: save pattern: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetPattern loads one pattern by id.
func (s *Store) GetPattern(ctx context.Context, id string) (domain.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE id = ?", id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return domain.Pattern{}, domain.ErrPatternNotFound
	}
	if err != nil {
		return domain.Pattern{}, fmt.Errorf("%w: get pattern: %v", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}

// ListUnresolvedPatterns returns all unresolved patterns in scan order.
func (s *Store) ListUnresolvedPatterns(ctx context.Context) ([]domain.Pattern, error) {
	return s.queryPatterns(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE resolved = 0 ORDER BY first_seen, id")
}

// GetActivePatterns returns unresolved patterns with occurrence_count >= 3,
// most recently seen first.
func (s *Store) GetActivePatterns(ctx context.Context) ([]domain.Pattern, error) {
	return s.queryPatterns(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE resolved = 0 AND occurrence_count >= 3 ORDER BY last_seen DESC")
}

// ResolvePattern marks a pattern resolved; reports whether a row changed.
func (s *Store) ResolvePattern(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE patterns SET resolved = 1 WHERE id = ? AND resolved = 0", id)
	if err != nil {
		return false, fmt.Errorf("%w: resolve pattern: %v", domain.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) queryPatterns(ctx context.Context, q string, args ...any) ([]domain.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query patterns: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			s.logger.Warn("store: unparseable pattern row", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPattern(row interface{ Scan(dest ...any) error }) (domain.Pattern, error) {
	var (
		p        domain.Pattern
		idsJSON  string
		resolved int
	)
	err := row.Scan(&p.ID, &p.Label, &idsJSON, &p.OccurrenceCount, &p.FirstSeen, &p.LastSeen, &resolved)
	if err != nil {
		return p, err
	}
	p.Resolved = resolved != 0
	if err := json.Unmarshal([]byte(idsJSON), &p.EntryIDs); err != nil {
		return p, fmt.Errorf("%w: entry ids for %s: %v", domain.ErrStoreCorrupt, p.ID, err)
	}
	return p, nil
}
