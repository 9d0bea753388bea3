// Package patterns tracks recurring issues and file co-changes: groups of
// semantically similar issue entries become named patterns once they recur,
// and commits feed the co-change table.
package patterns

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"hindsight/internal/domain"
)

// minSimilarForPattern is the number of pre-existing similar issues required
// before a new issue triggers pattern creation.
const minSimilarForPattern = 2

// Tracker manages the pattern lifecycle and co-change recording over one
// store.
type Tracker struct {
	store  domain.EntryStore
	clock  domain.Clock
	logger *slog.Logger
}

// New creates a Tracker.
func New(store domain.EntryStore, clk domain.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, clock: clk, logger: logger}
}

// OnIssueSaved runs the issue save hook: given the new issue and its similar
// predecessors (already computed by the caller via the ranker), create or
// update a pattern when the issue recurs. Returns the pattern id, or "" when
// no pattern was touched.
func (t *Tracker) OnIssueSaved(ctx context.Context, issue domain.Entry, similar []domain.Entry) (string, error) {
	var ids []string
	for _, e := range similar {
		if e.ID != issue.ID {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) < minSimilarForPattern {
		return "", nil
	}
	return t.CreateOrUpdatePattern(ctx, summarizeLabel(issue.Content), append([]string{issue.ID}, ids...))
}

// CreateOrUpdatePattern merges entry ids into the first unresolved pattern
// sharing any id (first-match-wins by scan order), or creates a fresh one.
func (t *Tracker) CreateOrUpdatePattern(ctx context.Context, label string, entryIDs []string) (string, error) {
	unresolved, err := t.store.ListUnresolvedPatterns(ctx)
	if err != nil {
		return "", domain.WrapOp("patterns.create_or_update", err)
	}

	today := t.clock.TodayLocalYMD()
	idSet := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		idSet[id] = true
	}

	for _, p := range unresolved {
		if !overlaps(p.EntryIDs, idSet) {
			continue
		}
		p.EntryIDs = unionIDs(p.EntryIDs, entryIDs)
		p.OccurrenceCount = len(p.EntryIDs)
		p.LastSeen = today
		p.Label = domain.TruncateLabel(label)
		if err := t.store.SavePattern(ctx, p); err != nil {
			return "", domain.WrapOp("patterns.create_or_update", err)
		}
		return p.ID, nil
	}

	p := domain.Pattern{
		ID:              ulid.Make().String(),
		Label:           domain.TruncateLabel(label),
		EntryIDs:        unionIDs(nil, entryIDs),
		FirstSeen:       today,
		LastSeen:        today,
	}
	p.OccurrenceCount = len(p.EntryIDs)
	if err := t.store.SavePattern(ctx, p); err != nil {
		return "", domain.WrapOp("patterns.create_or_update", err)
	}
	t.logger.Info("pattern created", "id", p.ID, "label", p.Label, "occurrences", p.OccurrenceCount)
	return p.ID, nil
}

// GetActivePatterns returns unresolved patterns that have recurred at least
// three times, most recently seen first.
func (t *Tracker) GetActivePatterns(ctx context.Context) ([]domain.Pattern, error) {
	return t.store.GetActivePatterns(ctx)
}

// ResolvePattern marks a pattern resolved; reports whether a row changed.
func (t *Tracker) ResolvePattern(ctx context.Context, id string) (bool, error) {
	return t.store.ResolvePattern(ctx, id)
}

// GetPatternForEntry scans unresolved patterns and returns the first one
// containing the entry, or nil.
func (t *Tracker) GetPatternForEntry(ctx context.Context, entryID string) (*domain.Pattern, error) {
	unresolved, err := t.store.ListUnresolvedPatterns(ctx)
	if err != nil {
		return nil, domain.WrapOp("patterns.for_entry", err)
	}
	for _, p := range unresolved {
		for _, id := range p.EntryIDs {
			if id == entryID {
				return &p, nil
			}
		}
	}
	return nil, nil
}

// RecordCommitFiles feeds the co-change table: every unordered file pair of
// a commit touching at least 2 and fewer than 20 files is counted once.
func (t *Tracker) RecordCommitFiles(ctx context.Context, project string, files []string, date string) error {
	if len(files) < domain.MinCoChangeFiles || len(files) >= domain.MaxCoChangeFiles {
		return nil
	}
	if date == "" {
		date = t.clock.TodayLocalYMD()
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if err := t.store.UpsertFilePair(ctx, project, files[i], files[j], date); err != nil {
				return domain.WrapOp("patterns.record_commit", err)
			}
		}
	}
	return nil
}

// GetCoChanges returns files that historically change together with file.
func (t *Tracker) GetCoChanges(ctx context.Context, project, file string, limit int) ([]domain.FilePair, error) {
	return t.store.GetCoChanges(ctx, project, file, limit)
}

// summarizeLabel derives a pattern label from issue content: the first line,
// capped at the label limit.
func summarizeLabel(content string) string {
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			content = content[:i]
			break
		}
	}
	return domain.TruncateLabel(content)
}

func overlaps(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

// unionIDs merges extra into base preserving first-seen order.
func unionIDs(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, id := range append(append([]string{}, base...), extra...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
