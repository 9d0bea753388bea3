// Package ranker implements hybrid retrieval: Reciprocal Rank Fusion over
// the lexical and vector indexes, shaped by temporal decay, tier weight and
// access confidence.
package ranker

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"hindsight/internal/domain"
)

const (
	// rrfK is the fusion constant: rank r contributes 1/(K+r+1).
	rrfK = 60

	// candidateFactor sizes each index's candidate pool as a multiple of the
	// requested limit.
	candidateFactor = 3

	// DefaultLimit and MaxLimit bound result counts.
	DefaultLimit = 10
	MaxLimit     = 100
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeFast     Mode = "fast"
	ModeSemantic Mode = "semantic"
)

// bareToken matches a single identifier-like query for which lexical search
// alone is cheaper and as good.
var bareToken = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// AutoMode picks fast for a single bare token, hybrid otherwise.
func AutoMode(query string) Mode {
	if bareToken.MatchString(query) {
		return ModeFast
	}
	return ModeHybrid
}

// Ranker fuses lexical and vector search results over one store.
type Ranker struct {
	store  domain.EntryStore
	clock  domain.Clock
	logger *slog.Logger
}

// New creates a Ranker.
func New(store domain.EntryStore, clk domain.Clock, logger *slog.Logger) *Ranker {
	return &Ranker{store: store, clock: clk, logger: logger}
}

// scored pairs an entry with its fused score.
type scored struct {
	entry domain.Entry
	score float64
}

// Hybrid runs the fused retrieval pipeline and bumps access counts on the
// returned entries. A nil vQuery degrades to lexical-only fusion; missing
// vectors never error.
func (r *Ranker) Hybrid(ctx context.Context, query string, vQuery []float32, f domain.ListFilter) ([]domain.Entry, error) {
	limit := clampLimit(f.Limit)
	cand := candidateFactor * limit

	lexFilter := f
	lexFilter.Limit = cand
	lexFilter.Tier = ""    // applied after fusion
	lexFilter.Project = "" // applied after fusion
	lexical, err := r.store.SearchLexical(ctx, query, lexFilter)
	if err != nil {
		return nil, domain.WrapOp("ranker.hybrid", err)
	}

	var vecHits []domain.VecHit
	if len(vQuery) > 0 {
		vecHits, err = r.store.SearchVec(ctx, vQuery, cand)
		if err != nil {
			// Rank degrades to lexical-only rather than failing retrieval.
			r.logger.Warn("ranker: vector search failed, lexical only", "error", err)
			vecHits = nil
		}
	}

	// RRF merge by internal row id across both ranked lists.
	rrf := make(map[int64]float64, len(lexical)+len(vecHits))
	byRow := make(map[int64]domain.Entry, len(lexical))
	for rank, e := range lexical {
		rrf[e.RowID] += 1.0 / float64(rrfK+rank+1)
		byRow[e.RowID] = e
	}
	var missing []int64
	for rank, hit := range vecHits {
		rrf[hit.RowID] += 1.0 / float64(rrfK+rank+1)
		if _, ok := byRow[hit.RowID]; !ok {
			missing = append(missing, hit.RowID)
		}
	}
	if len(missing) > 0 {
		loaded, err := r.store.GetByRowIDs(ctx, missing)
		if err != nil {
			return nil, domain.WrapOp("ranker.hybrid", err)
		}
		for _, e := range loaded {
			byRow[e.RowID] = e
		}
	}

	today := r.clock.NowUTC()
	results := make([]scored, 0, len(byRow))
	for rowID, e := range byRow {
		if e.Archived && !f.IncludeArchived {
			continue
		}
		if f.Tier != "" && e.Tier != f.Tier {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Project != "" && e.Project != f.Project {
			continue
		}
		results = append(results, scored{entry: e, score: finalScore(rrf[rowID], e, today)})
	}

	sortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return r.finish(ctx, results)
}

// Fast runs lexical-only retrieval with an access bump: the path for bare
// identifier queries.
func (r *Ranker) Fast(ctx context.Context, query string, f domain.ListFilter) ([]domain.Entry, error) {
	f.Limit = clampLimit(f.Limit)
	entries, err := r.store.SearchLexical(ctx, query, f)
	if err != nil {
		return nil, domain.WrapOp("ranker.fast", err)
	}
	return r.bump(ctx, entries)
}

// Semantic runs vector-only retrieval with local filtering and an access
// bump.
func (r *Ranker) Semantic(ctx context.Context, vQuery []float32, f domain.ListFilter) ([]domain.Entry, error) {
	limit := clampLimit(f.Limit)
	hits, err := r.store.SearchVec(ctx, vQuery, candidateFactor*limit)
	if err != nil {
		return nil, domain.WrapOp("ranker.semantic", err)
	}
	rowIDs := make([]int64, len(hits))
	for i, h := range hits {
		rowIDs[i] = h.RowID
	}
	entries, err := r.store.GetByRowIDs(ctx, rowIDs)
	if err != nil {
		return nil, domain.WrapOp("ranker.semantic", err)
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.Archived && !f.IncludeArchived {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Tier != "" && e.Tier != f.Tier {
			continue
		}
		if f.Project != "" && e.Project != f.Project {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return r.bump(ctx, filtered)
}

// FindSimilarIssues returns non-archived issues within the day window whose
// vector sits within the L2 distance threshold. No access bumping: pattern
// detection reads must not inflate confidence.
func (r *Ranker) FindSimilarIssues(ctx context.Context, v []float32, days int, distanceThreshold float64) ([]domain.Entry, error) {
	if days <= 0 {
		days = 30
	}
	if distanceThreshold <= 0 {
		distanceThreshold = 0.5
	}

	hits, err := r.store.SearchVec(ctx, v, candidateFactor*MaxLimit)
	if err != nil {
		return nil, domain.WrapOp("ranker.similar_issues", err)
	}
	var rowIDs []int64
	for _, h := range hits {
		if h.Distance <= distanceThreshold {
			rowIDs = append(rowIDs, h.RowID)
		}
	}
	entries, err := r.store.GetByRowIDs(ctx, rowIDs)
	if err != nil {
		return nil, domain.WrapOp("ranker.similar_issues", err)
	}

	today := r.clock.NowUTC()
	var out []domain.Entry
	for _, e := range entries {
		if e.Type != domain.TypeIssue || e.Archived {
			continue
		}
		if domain.AgeDays(e.Date, today) >= days {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// finish bumps access on the final result set and returns the entries.
func (r *Ranker) finish(ctx context.Context, results []scored) ([]domain.Entry, error) {
	entries := make([]domain.Entry, len(results))
	for i, s := range results {
		entries[i] = s.entry
	}
	return r.bump(ctx, entries)
}

func (r *Ranker) bump(ctx context.Context, entries []domain.Entry) ([]domain.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := r.store.BumpAccess(ctx, ids); err != nil {
		// Retrieval still succeeded; bookkeeping failure is logged, not raised.
		r.logger.Warn("ranker: access bump failed", "error", err)
	}
	return entries, nil
}

// finalScore applies the decay, tier and confidence multipliers to a fused
// rank score.
func finalScore(rrf float64, e domain.Entry, today time.Time) float64 {
	decay := domain.TemporalDecay(domain.AgeDays(e.Date, today))
	weight, ok := domain.TierWeight[e.Tier]
	if !ok {
		weight = 1.0
	}
	return rrf * decay * weight * domain.ConfidenceForAccessCount(e.AccessCount)
}

func sortScored(results []scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		a, b := results[i].entry, results[j].entry
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.Time > b.Time
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
