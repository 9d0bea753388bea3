package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"hindsight/internal/domain"
	"hindsight/internal/infra/clock"
)

// SaveRule upserts a rule by label: any prior row with the same (type=rule,
// label) is deleted — vector included — and a fresh row is inserted with
// tier=longterm, pinned=true and no tags.
func (s *Store) SaveRule(ctx context.Context, label, content string) (domain.Entry, error) {
	if label == "" {
		return domain.Entry{}, fmt.Errorf("%w: empty rule label", domain.ErrInvalidInput)
	}
	if len(content) > domain.MaxContentBytes {
		return domain.Entry{}, fmt.Errorf("%w: content exceeds %d bytes", domain.ErrInvalidInput, domain.MaxContentBytes)
	}

	id, err := clock.MintEntryID()
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: mint id: %v", domain.ErrStoreUnavailable, err)
	}
	e := domain.Entry{
		ID:      id,
		Date:    s.clock.TodayLocalYMD(),
		Time:    s.clock.TimeHHMM(),
		Type:    domain.TypeRule,
		Tags:    []string{},
		Content: content,
		Tier:    domain.TierLongterm,
		Pinned:  true,
		Label:   label,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: begin tx: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var oldRowID int64
	err = tx.QueryRowContext(ctx,
		"SELECT rowid FROM entries WHERE type = 'rule' AND label = ?", label).Scan(&oldRowID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return domain.Entry{}, fmt.Errorf("%w: lookup rule: %v", domain.ErrStoreUnavailable, err)
	default:
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE rowid = ?", oldRowID); err != nil {
			return domain.Entry{}, fmt.Errorf("%w: drop rule vector: %v", domain.ErrStoreUnavailable, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE rowid = ?", oldRowID); err != nil {
			return domain.Entry{}, fmt.Errorf("%w: drop rule: %v", domain.ErrStoreUnavailable, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries
			(id, date, time, type, tags, content, source_file, tier,
			 access_count, last_accessed, pinned, archived, label)
		VALUES (?, ?, ?, 'rule', '[]', ?, '', 'longterm', 0, NULL, 1, 0, ?)`,
		e.ID, e.Date, e.Time, e.Content, e.Label,
	)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: insert rule: %v", domain.ErrStoreUnavailable, err)
	}
	e.RowID, err = res.LastInsertId()
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: rowid: %v", domain.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Entry{}, fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	if oldRowID != 0 {
		s.vecIdx.remove(oldRowID)
	}
	return e, nil
}

// DeleteRule removes a rule by label; reports whether a row was deleted.
func (s *Store) DeleteRule(ctx context.Context, label string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin tx: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var rowID int64
	err = tx.QueryRowContext(ctx,
		"SELECT rowid FROM entries WHERE type = 'rule' AND label = ?", label).Scan(&rowID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup rule: %v", domain.ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE rowid = ?", rowID); err != nil {
		return false, fmt.Errorf("%w: drop vector: %v", domain.ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE rowid = ?", rowID); err != nil {
		return false, fmt.Errorf("%w: delete rule: %v", domain.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	s.vecIdx.remove(rowID)
	return true, nil
}

// ListRules returns all rules ordered by label.
func (s *Store) ListRules(ctx context.Context) ([]domain.Entry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE type = 'rule' ORDER BY label")
}

// ListBySession returns all entries recorded under one session id.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE session_id = ? ORDER BY date DESC, time DESC",
		sessionID)
}

// FindByTag returns non-archived entries carrying the exact tag.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]domain.Entry, error) {
	// Tags are stored as a JSON array; match the quoted element.
	pattern := `%"` + tag + `"%`
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE archived = 0 AND tags LIKE ? ORDER BY date DESC, time DESC",
		pattern)
}

// HasEntryWithTag reports whether any non-archived entry carries the tag.
func (s *Store) HasEntryWithTag(ctx context.Context, tag string) (bool, error) {
	pattern := `%"` + tag + `"%`
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM entries WHERE archived = 0 AND tags LIKE ? LIMIT 1", pattern).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has tag: %v", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}
