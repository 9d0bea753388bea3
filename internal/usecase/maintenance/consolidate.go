package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hindsight/internal/domain"
)

// consolidate collapses clusters of near-duplicate recent issues and
// decisions into a single survivor, archiving the rest.
func (m *Runner) consolidate(ctx context.Context) (int, error) {
	clusters, err := m.findConsolidationCandidates(ctx, consolidationSimilarity)
	if err != nil {
		return 0, err
	}

	today := m.clock.NowUTC()
	count := 0
	for _, cluster := range clusters {
		if !eligibleCluster(cluster, today) {
			continue
		}

		survivor := pickSurvivor(cluster)
		var archiveIDs []string
		for _, e := range cluster {
			if e.ID == survivor.ID {
				continue
			}
			survivor.Tags = mergeTags(survivor.Tags, e.Tags)
			archiveIDs = append(archiveIDs, e.ID)
		}

		survivor.Content += fmt.Sprintf("\n[Consolidated from %d entries]", len(cluster))
		if survivor.Tier == domain.TierEphemeral {
			survivor.Tier = domain.TierWorking
		}
		if err := m.store.UpdateEntry(ctx, survivor); err != nil {
			return count, err
		}
		if _, err := m.store.Archive(ctx, archiveIDs); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// findConsolidationCandidates lists non-archived issues and decisions from
// the last 30 days and greedily clusters them by cosine similarity:
// first-match-wins, minimum cluster size 3.
func (m *Runner) findConsolidationCandidates(ctx context.Context, similarity float64) ([][]domain.Entry, error) {
	var candidates []domain.Entry
	for _, typ := range []domain.EntryType{domain.TypeIssue, domain.TypeDecision} {
		entries, err := m.store.List(ctx, domain.ListFilter{Type: typ, Days: consolidationWindowDays})
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.Pinned {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) < consolidationMinCluster {
		return nil, nil
	}

	// Stable scan order for the first-match-wins clustering.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.ID < b.ID
	})

	rowIDs := make([]int64, len(candidates))
	for i, e := range candidates {
		rowIDs[i] = e.RowID
	}
	vecs, err := m.store.GetVecs(ctx, rowIDs)
	if err != nil {
		return nil, err
	}

	assigned := make([]bool, len(candidates))
	var clusters [][]domain.Entry
	for i := range candidates {
		if assigned[i] {
			continue
		}
		vi, ok := vecs[candidates[i].RowID]
		if !ok {
			continue
		}
		cluster := []domain.Entry{candidates[i]}
		members := []int{i}
		for j := i + 1; j < len(candidates); j++ {
			if assigned[j] {
				continue
			}
			vj, ok := vecs[candidates[j].RowID]
			if !ok {
				continue
			}
			if cosine(vi, vj) >= similarity {
				cluster = append(cluster, candidates[j])
				members = append(members, j)
			}
		}
		if len(cluster) < consolidationMinCluster {
			continue
		}
		for _, idx := range members {
			assigned[idx] = true
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// eligibleCluster requires every member to be older than the minimum age and
// the cluster to carry no rule or reference entries.
func eligibleCluster(cluster []domain.Entry, today time.Time) bool {
	for _, e := range cluster {
		if e.Type == domain.TypeRule || e.Type == domain.TypeReference {
			return false
		}
		if domain.AgeDays(e.Date, today) <= consolidationMinAgeDays {
			return false
		}
	}
	return true
}

// pickSurvivor selects the cluster member with the highest access count,
// breaking ties by the most recent (date, time).
func pickSurvivor(cluster []domain.Entry) domain.Entry {
	survivor := cluster[0]
	for _, e := range cluster[1:] {
		if e.AccessCount > survivor.AccessCount {
			survivor = e
			continue
		}
		if e.AccessCount == survivor.AccessCount {
			if e.Date > survivor.Date || (e.Date == survivor.Date && e.Time > survivor.Time) {
				survivor = e
			}
		}
	}
	return survivor
}

// mergeTags unions extra into base, preserving base's original order and
// appending unseen tags in their encounter order.
func mergeTags(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, t := range base {
		seen[t] = true
	}
	for _, t := range extra {
		if !seen[t] {
			base = append(base, t)
			seen[t] = true
		}
	}
	return base
}

// cosine computes the cosine similarity of two vectors; on unit-norm inputs
// this is the plain dot product.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
