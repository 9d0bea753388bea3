package engine

import (
	"context"

	"hindsight/internal/domain"
	"hindsight/internal/infra/clock"
	"hindsight/internal/usecase/ranker"
)

// SaveResult reports the stored entry's identity plus whether the save
// triggered pattern detection.
type SaveResult struct {
	ID              string
	Date            string
	Time            string
	Tier            domain.Tier
	PatternDetected string // pattern id, empty when none
}

// SaveOptions carries the optional save fields.
type SaveOptions struct {
	Tier    *domain.Tier
	Pinned  bool
	AgentID string
}

// Save implements the §6.5 entry-save contract: append to the day file,
// insert the entry, compute and attach its vector, then run issue pattern
// detection. The write path fails closed — an insert failure is surfaced
// and the day-file append is reported unreliable with it.
func (e *Engine) Save(ctx context.Context, content string, typ domain.EntryType, tags []string, opts SaveOptions) (SaveResult, error) {
	if err := validateSave(content, typ, opts.Tier); err != nil {
		return SaveResult{}, err
	}

	id, err := clock.MintEntryID()
	if err != nil {
		return SaveResult{}, domain.WrapOp("engine.save", err)
	}
	entry := domain.Entry{
		ID:        id,
		Date:      e.Clock.TodayLocalYMD(),
		Time:      e.Clock.TimeHHMM(),
		Type:      typ,
		Tags:      tags,
		Content:   content,
		Tier:      domain.AssignTier(typ, opts.Tier),
		Pinned:    opts.Pinned,
		Project:   e.Project,
		SessionID: clock.SessionID(),
		AgentID:   opts.AgentID,
	}

	if err := e.DayLog.Append(entry); err != nil {
		return SaveResult{}, domain.WrapOp("engine.save.dayfile", err)
	}
	rowID, err := e.Store.Insert(ctx, entry)
	if err != nil {
		return SaveResult{}, domain.WrapOp("engine.save.insert", err)
	}

	// An explicit save must fail loudly when the model cannot produce a
	// vector (§7); background paths are more forgiving.
	v, err := e.Embedder.Embed(ctx, content)
	if err != nil {
		return SaveResult{}, domain.WrapOp("engine.save.embed", err)
	}
	if err := e.Store.InsertVec(ctx, rowID, v); err != nil {
		return SaveResult{}, domain.WrapOp("engine.save.vector", err)
	}

	res := SaveResult{ID: id, Date: entry.Date, Time: entry.Time, Tier: entry.Tier}
	if typ == domain.TypeIssue {
		similar, err := e.Ranker.FindSimilarIssues(ctx, v, 30, 0.5)
		if err != nil {
			e.Logger.Warn("engine: similar-issue lookup failed", "error", err)
			return res, nil
		}
		patID, err := e.Patterns.OnIssueSaved(ctx, entry, similar)
		if err != nil {
			e.Logger.Warn("engine: pattern detection failed", "error", err)
			return res, nil
		}
		res.PatternDetected = patID
	}
	return res, nil
}

// SearchOptions carries the §6.6 retrieval filters.
type SearchOptions struct {
	Type            domain.EntryType
	Days            int
	Limit           int
	Tier            domain.Tier
	IncludeArchived bool
	Project         string
	Mode            ranker.Mode // empty selects automatically
}

// Search implements the §6.6 retrieval contract.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]domain.Entry, error) {
	f := domain.ListFilter{
		Type:            opts.Type,
		Days:            opts.Days,
		Limit:           opts.Limit,
		Tier:            opts.Tier,
		IncludeArchived: opts.IncludeArchived,
		Project:         opts.Project,
	}

	mode := opts.Mode
	if mode == "" {
		mode = ranker.AutoMode(query)
	}
	switch mode {
	case ranker.ModeFast:
		return e.Ranker.Fast(ctx, query, f)
	case ranker.ModeSemantic:
		v, err := e.Embedder.Embed(ctx, query)
		if err != nil {
			return nil, domain.WrapOp("engine.search.embed", err)
		}
		return e.Ranker.Semantic(ctx, v, f)
	default:
		// Hybrid tolerates a missing query vector: rank degrades to
		// lexical-only rather than failing retrieval.
		v, err := e.Embedder.Embed(ctx, query)
		if err != nil {
			e.Logger.Warn("engine: query embed failed, lexical only", "error", err)
			v = nil
		}
		return e.Ranker.Hybrid(ctx, query, v, f)
	}
}
