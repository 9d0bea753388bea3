package domain

import (
	"math"
	"time"
)

// EntryType is the closed set of entry kinds the engine understands.
type EntryType string

const (
	TypeDecision  EntryType = "decision"
	TypeProgress  EntryType = "progress"
	TypeIssue     EntryType = "issue"
	TypeHandoff   EntryType = "handoff"
	TypeInsight   EntryType = "insight"
	TypeReference EntryType = "reference"
	TypeGitCommit EntryType = "git_commit"
	TypeRule      EntryType = "rule"
)

// Tier is the coarse lifetime class assigned to an entry.
type Tier string

const (
	TierEphemeral Tier = "ephemeral"
	TierWorking   Tier = "working"
	TierLongterm  Tier = "longterm"
)

// TierWeight is the multiplier §4.3 applies to hybrid_search scores.
var TierWeight = map[Tier]float64{
	TierLongterm:  1.5,
	TierWorking:   1.0,
	TierEphemeral: 0.5,
}

// AssignTier implements the §4.1 tier assignment rule:
// assign_tier(type, explicit?) = explicit ?? (handoff|progress -> ephemeral; reference -> longterm; else working).
func AssignTier(t EntryType, explicit *Tier) Tier {
	if explicit != nil {
		return *explicit
	}
	switch t {
	case TypeHandoff, TypeProgress:
		return TierEphemeral
	case TypeReference:
		return TierLongterm
	default:
		return TierWorking
	}
}

// Entry is the atomic record stored by the engine (§3.1).
type Entry struct {
	ID           string
	RowID        int64 // internal row identifier, assigned by the store
	Date         string // YYYY-MM-DD, host-local
	Time         string // HH:MM, host-local
	Type         EntryType
	Tags         []string
	Content      string
	SourceFile   string
	Tier         Tier
	AccessCount  int
	LastAccessed string // YYYY-MM-DD or "" for null
	Pinned       bool
	Archived     bool
	Label        string // unique within type=rule
	Project      string
	SessionID    string
	AgentID      string
}

// MaxContentBytes is the §3.1 content size cap.
const MaxContentBytes = 100_000

// ConfidenceForAccessCount implements the §4.3 access-count-bucketed multiplier.
func ConfidenceForAccessCount(accessCount int) float64 {
	switch {
	case accessCount <= 0:
		return 0.7
	case accessCount <= 2:
		return 1.0
	case accessCount <= 5:
		return 1.2
	default:
		return 1.4
	}
}

// AgeDays computes the non-negative day difference between today and an
// entry date, clamping negative (future-dated, clock-skewed) ages to 0 (§7).
func AgeDays(entryDate string, today time.Time) int {
	d, err := time.ParseInLocation("2006-01-02", entryDate, time.UTC)
	if err != nil {
		return 0
	}
	days := int(today.Truncate(24*time.Hour).Sub(d.Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// TemporalDecay implements §4.3 step 5: 0.5^(age_days/30).
func TemporalDecay(ageDays int) float64 {
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(ageDays)/30.0)
}
