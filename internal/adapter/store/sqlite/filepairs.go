package sqlite

import (
	"context"
	"fmt"

	"hindsight/internal/domain"
)

// UpsertFilePair records one co-change observation for (project, fileA,
// fileB): increments co_change_count or inserts with count 1, stamping
// last_seen. Files keep the order observed on first insert.
func (s *Store) UpsertFilePair(ctx context.Context, project, fileA, fileB, today string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_pairs (project, file_a, file_b, co_change_count, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(project, file_a, file_b) DO UPDATE SET
			co_change_count = co_change_count + 1,
			last_seen       = excluded.last_seen`,
		project, fileA, fileB, today,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert file pair: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetCoChanges returns files paired with file in the given project, ordered
// by co-change count descending. Both sides of the pair are scanned.
func (s *Store) GetCoChanges(ctx context.Context, project, file string, limit int) ([]domain.FilePair, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, file_a, file_b, co_change_count, last_seen
		FROM file_pairs
		WHERE project = ? AND (file_a = ? OR file_b = ?)
		ORDER BY co_change_count DESC, last_seen DESC
		LIMIT ?`,
		project, file, file, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: co-changes: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.FilePair
	for rows.Next() {
		var fp domain.FilePair
		if err := rows.Scan(&fp.Project, &fp.FileA, &fp.FileB, &fp.CoChangeCount, &fp.LastSeen); err != nil {
			continue
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
