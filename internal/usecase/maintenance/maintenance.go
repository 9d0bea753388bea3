// Package maintenance implements the lifecycle passes that keep the store
// lean: decay, demotion, promotion and consolidation by access-aware windows.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"hindsight/internal/domain"
	"hindsight/internal/infra/tracer"
)

// Report counts the rows changed by one maintenance run.
type Report struct {
	Decayed          int `json:"decayed"`
	Demoted          int `json:"demoted"`
	PromotedStable   int `json:"promoted_stable"`
	PromotedFrequent int `json:"promoted_frequent"`
	Consolidated     int `json:"consolidated"`
}

// Any reports whether any counter is non-zero.
func (r Report) Any() bool {
	return r.Decayed+r.Demoted+r.PromotedStable+r.PromotedFrequent+r.Consolidated > 0
}

func (r Report) String() string {
	return fmt.Sprintf("decayed=%d demoted=%d promoted_stable=%d promoted_frequent=%d consolidated=%d",
		r.Decayed, r.Demoted, r.PromotedStable, r.PromotedFrequent, r.Consolidated)
}

// Consolidation tuning.
const (
	consolidationSimilarity = 0.75
	consolidationWindowDays = 30
	consolidationMinAgeDays = 3
	consolidationMinCluster = 3
)

// Runner executes maintenance passes against one store. It talks to the
// store directly — the cosine pass it needs is re-implemented here rather
// than borrowed from the ranker, keeping the dependency one-way.
type Runner struct {
	store  domain.EntryStore
	clock  domain.Clock
	logger *slog.Logger
}

// New creates a maintenance Runner.
func New(store domain.EntryStore, clk domain.Clock, logger *slog.Logger) *Runner {
	return &Runner{store: store, clock: clk, logger: logger}
}

// Run executes the passes in order: decay ephemeral, demote idle working,
// promote stable, promote frequent, consolidate. Pinned and archived entries
// are never touched.
func (m *Runner) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.StartSpan(ctx, "maintenance.run")
	defer span.End()

	var rep Report
	var err error

	if rep.Decayed, err = m.decayEphemeral(ctx); err != nil {
		tracer.RecordError(span, err)
		return rep, domain.WrapOp("maintenance.decay", err)
	}
	if rep.Demoted, err = m.demoteIdleWorking(ctx); err != nil {
		tracer.RecordError(span, err)
		return rep, domain.WrapOp("maintenance.demote", err)
	}
	if rep.PromotedStable, err = m.promoteStable(ctx); err != nil {
		tracer.RecordError(span, err)
		return rep, domain.WrapOp("maintenance.promote_stable", err)
	}
	if rep.PromotedFrequent, err = m.promoteFrequent(ctx); err != nil {
		tracer.RecordError(span, err)
		return rep, domain.WrapOp("maintenance.promote_frequent", err)
	}
	if rep.Consolidated, err = m.consolidate(ctx); err != nil {
		tracer.RecordError(span, err)
		return rep, domain.WrapOp("maintenance.consolidate", err)
	}

	span.SetAttributes(
		tracer.IntAttr("maintenance.decayed", rep.Decayed),
		tracer.IntAttr("maintenance.demoted", rep.Demoted),
		tracer.IntAttr("maintenance.consolidated", rep.Consolidated),
	)
	tracer.SetOK(span)
	if rep.Any() {
		m.logger.Info("maintenance run", "report", rep.String())
	}
	return rep, nil
}

// decayEphemeral archives ephemeral entries whose (access_count, age) falls
// in the decay windows: (0, >3d), (1..2, >7d), (>=3, >14d).
func (m *Runner) decayEphemeral(ctx context.Context) (int, error) {
	entries, err := m.store.List(ctx, domain.ListFilter{Tier: domain.TierEphemeral})
	if err != nil {
		return 0, err
	}
	today := m.clock.NowUTC()
	var ids []string
	for _, e := range entries {
		if e.Pinned {
			continue
		}
		age := domain.AgeDays(e.Date, today)
		if decayWindowExceeded(e.AccessCount, age) {
			ids = append(ids, e.ID)
		}
	}
	return m.store.Archive(ctx, ids)
}

func decayWindowExceeded(accessCount, ageDays int) bool {
	switch {
	case accessCount == 0:
		return ageDays > 3
	case accessCount <= 2:
		return ageDays > 7
	default:
		return ageDays > 14
	}
}

// demoteIdleWorking retires working entries to ephemeral when idle too long:
// idle is measured from last access, falling back to the entry date.
func (m *Runner) demoteIdleWorking(ctx context.Context) (int, error) {
	entries, err := m.store.List(ctx, domain.ListFilter{Tier: domain.TierWorking})
	if err != nil {
		return 0, err
	}
	today := m.clock.NowUTC()
	count := 0
	for _, e := range entries {
		if e.Pinned {
			continue
		}
		ref := e.LastAccessed
		if ref == "" {
			ref = e.Date
		}
		if !idleWindowExceeded(e.AccessCount, domain.AgeDays(ref, today)) {
			continue
		}
		e.Tier = domain.TierEphemeral
		if err := m.store.UpdateEntry(ctx, e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func idleWindowExceeded(accessCount, idleDays int) bool {
	switch {
	case accessCount == 0:
		return idleDays > 15
	case accessCount <= 2:
		return idleDays > 30
	default:
		return idleDays > 60
	}
}

// promoteStable lifts working decisions and insights older than a week to
// longterm.
func (m *Runner) promoteStable(ctx context.Context) (int, error) {
	entries, err := m.store.List(ctx, domain.ListFilter{Tier: domain.TierWorking})
	if err != nil {
		return 0, err
	}
	today := m.clock.NowUTC()
	count := 0
	for _, e := range entries {
		if e.Pinned {
			continue
		}
		if e.Type != domain.TypeDecision && e.Type != domain.TypeInsight {
			continue
		}
		if domain.AgeDays(e.Date, today) <= 7 {
			continue
		}
		e.Tier = domain.TierLongterm
		if err := m.store.UpdateEntry(ctx, e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// promoteFrequent lifts frequently accessed ephemeral entries to working.
func (m *Runner) promoteFrequent(ctx context.Context) (int, error) {
	entries, err := m.store.List(ctx, domain.ListFilter{Tier: domain.TierEphemeral})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.Pinned || e.AccessCount < 3 {
			continue
		}
		e.Tier = domain.TierWorking
		if err := m.store.UpdateEntry(ctx, e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
