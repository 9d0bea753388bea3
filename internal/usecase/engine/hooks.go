package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hindsight/internal/domain"
)

// Session packet sizing.
const (
	packetBudget   = 4000
	recentDays     = 3
	recentCap      = 10
	patternCap     = 5
	pendingRuleCap = 3
	coChangeCap    = 3
	crossProjCap   = 3
)

// minHandoffGap is the quiet period between automatic handoff entries.
const minHandoffGap = 5 * time.Minute

// SessionStartInput mirrors the supervisor's SessionStart stdin payload.
type SessionStartInput struct {
	Source string `json:"source"`
}

// StopInput mirrors the supervisor's Stop stdin payload.
type StopInput struct {
	StopHookActive bool `json:"stop_hook_active"`
}

// PreCompactInput mirrors the supervisor's PreCompact stdin payload.
type PreCompactInput struct {
	Trigger            string `json:"trigger"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// SessionStart assembles the context packet injected into a fresh session:
// rules first and never truncated, then recency- and relevance-ordered
// sections until the character budget runs out, then the entry-count line.
func (e *Engine) SessionStart(ctx context.Context, _ SessionStartInput) (string, error) {
	report, err := e.Maint.Run(ctx)
	if err != nil {
		// Retrieval still proceeds on a failed maintenance pass.
		e.Logger.Warn("engine: maintenance failed during session start", "error", err)
	}

	var b strings.Builder

	// Rules are the contract with the user: always verbatim.
	rules, err := e.Store.ListRules(ctx)
	if err != nil {
		return "", domain.WrapOp("engine.session_start", err)
	}
	if len(rules) > 0 {
		b.WriteString("## Rules\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "- [%s] %s\n", r.Label, r.Content)
		}
	}

	remaining := func() int { return packetBudget - b.Len() - 40 } // reserve the count line

	e.writePendingRules(ctx, &b, remaining)
	e.writeRecentEntries(ctx, &b, remaining)
	e.writeLatestHandoff(ctx, &b, remaining)
	e.writePatterns(ctx, &b, remaining)
	e.writeFileContext(ctx, &b, remaining)
	e.writeCrossProjectInsights(ctx, &b, remaining)

	if report.Any() && remaining() > 0 {
		fmt.Fprintf(&b, "\nMaintenance: %s\n", report.String())
	}

	status, err := e.Store.Status(ctx)
	if err != nil {
		return "", domain.WrapOp("engine.session_start", err)
	}
	fmt.Fprintf(&b, "\nTotal entries: %d\n", status.Total)
	return b.String(), nil
}

func (e *Engine) writePendingRules(ctx context.Context, b *strings.Builder, remaining func() int) {
	pending, err := e.Store.FindByTag(ctx, "pending_rule")
	if err != nil || len(pending) == 0 {
		return
	}
	if len(pending) > pendingRuleCap {
		pending = pending[:pendingRuleCap]
	}
	section := "\n## Proposed rules (unconfirmed)\n"
	for _, p := range pending {
		section += "- " + firstLine(p.Content) + "\n"
	}
	writeIfFits(b, section, remaining)
}

func (e *Engine) writeRecentEntries(ctx context.Context, b *strings.Builder, remaining func() int) {
	entries, err := e.Store.List(ctx, domain.ListFilter{Days: recentDays})
	if err != nil || len(entries) == 0 {
		return
	}

	// Current-project entries lead; order within each half is already
	// (date desc, time desc) from the store.
	var mine, other []domain.Entry
	for _, en := range entries {
		if en.Tier == domain.TierEphemeral || en.Type == domain.TypeRule {
			continue
		}
		if e.Project != "" && en.Project == e.Project {
			mine = append(mine, en)
		} else {
			other = append(other, en)
		}
	}
	ordered := append(mine, other...)
	if len(ordered) == 0 {
		return
	}
	if len(ordered) > recentCap {
		ordered = ordered[:recentCap]
	}

	section := "\n## Recent context\n"
	for _, en := range ordered {
		section += fmt.Sprintf("- %s %s [%s] %s\n", en.Date, en.Time, en.Type, firstLine(en.Content))
	}
	writeIfFits(b, section, remaining)
}

func (e *Engine) writeLatestHandoff(ctx context.Context, b *strings.Builder, remaining func() int) {
	handoffs, err := e.Store.List(ctx, domain.ListFilter{Type: domain.TypeHandoff, Limit: 1})
	if err != nil || len(handoffs) == 0 {
		return
	}
	h := handoffs[0]
	writeIfFits(b, fmt.Sprintf("\n## Last handoff (%s %s)\n%s\n", h.Date, h.Time, h.Content), remaining)
}

func (e *Engine) writePatterns(ctx context.Context, b *strings.Builder, remaining func() int) {
	active, err := e.Patterns.GetActivePatterns(ctx)
	if err != nil || len(active) == 0 {
		return
	}
	if len(active) > patternCap {
		active = active[:patternCap]
	}
	section := "\n## Recurring issues\n"
	for _, p := range active {
		section += fmt.Sprintf("- %s (seen %d times, last %s)\n", p.Label, p.OccurrenceCount, p.LastSeen)
	}
	writeIfFits(b, section, remaining)
}

// writeFileContext surfaces entries related to recently changed files plus
// their historical co-change partners.
func (e *Engine) writeFileContext(ctx context.Context, b *strings.Builder, remaining func() int) {
	files := e.recentFiles(ctx)
	if len(files) == 0 {
		return
	}
	if len(files) > coChangeCap {
		files = files[:coChangeCap]
	}

	var section strings.Builder
	for _, file := range files {
		related, err := e.Store.SearchLexical(ctx, file, domain.ListFilter{Limit: 2})
		if err == nil {
			for _, en := range related {
				fmt.Fprintf(&section, "- %s: %s\n", file, firstLine(en.Content))
			}
		}
		pairs, err := e.Patterns.GetCoChanges(ctx, e.Project, file, coChangeCap)
		if err == nil {
			for _, p := range pairs {
				partner := p.FileB
				if partner == file {
					partner = p.FileA
				}
				fmt.Fprintf(&section, "- %s usually changes with %s (%d times)\n", file, partner, p.CoChangeCount)
			}
		}
	}
	if section.Len() == 0 {
		return
	}
	writeIfFits(b, "\n## Changed-file context\n"+section.String(), remaining)
}

func (e *Engine) writeCrossProjectInsights(ctx context.Context, b *strings.Builder, remaining func() int) {
	if e.Project == "" {
		return
	}
	insights, err := e.Store.List(ctx, domain.ListFilter{Type: domain.TypeInsight, Days: 7})
	if err != nil {
		return
	}
	var section string
	count := 0
	for _, en := range insights {
		if en.Project == "" || en.Project == e.Project {
			continue
		}
		section += fmt.Sprintf("- (%s) %s\n", en.Project, firstLine(en.Content))
		if count++; count >= crossProjCap {
			break
		}
	}
	if section == "" {
		return
	}
	writeIfFits(b, "\n## Elsewhere\n"+section, remaining)
}

// Stop runs at turn end: scan the transcript, then emit a handoff entry
// summarising the day unless one was written in the last five minutes.
// Hook paths never fail the supervisor; errors are logged and swallowed.
func (e *Engine) Stop(ctx context.Context, in StopInput) error {
	if in.StopHookActive {
		return nil
	}
	if _, err := e.Scanner.Scan(ctx); err != nil {
		e.Logger.Warn("engine: transcript scan failed", "error", err)
	}
	if !e.handoffDue() {
		return nil
	}

	summary, contributors := e.summarizeDay(ctx)
	if summary == "" {
		return nil
	}
	if _, err := e.Save(ctx, summary, domain.TypeHandoff, []string{"session-end"}, SaveOptions{}); err != nil {
		e.Logger.Warn("engine: handoff save failed", "error", err)
		return nil
	}
	if len(contributors) > 0 {
		if err := e.Store.BumpAccess(ctx, contributors); err != nil {
			e.Logger.Warn("engine: contributor bump failed", "error", err)
		}
	}
	e.markHandoff()
	return nil
}

// PreCompact is the safety net before context compaction: a mandatory scan,
// then a progress snapshot.
func (e *Engine) PreCompact(ctx context.Context, in PreCompactInput) error {
	if _, err := e.Scanner.Scan(ctx); err != nil {
		e.Logger.Warn("engine: transcript scan failed", "error", err)
	}

	content := fmt.Sprintf("Context compaction (%s)", in.Trigger)
	if in.CustomInstructions != "" {
		content += ": " + in.CustomInstructions
	}
	if _, err := e.Save(ctx, content, domain.TypeProgress, []string{"compaction-snapshot"}, SaveOptions{}); err != nil {
		e.Logger.Warn("engine: compaction snapshot failed", "error", err)
	}
	return nil
}

// summarizeDay condenses today's entries into a handoff body and returns
// the contributing entry ids.
func (e *Engine) summarizeDay(ctx context.Context) (string, []string) {
	entries, err := e.Store.List(ctx, domain.ListFilter{Days: 1})
	if err != nil || len(entries) == 0 {
		return "", nil
	}
	var lines []string
	var ids []string
	for _, en := range entries {
		if en.Type == domain.TypeHandoff {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s", en.Time, en.Type, firstLine(en.Content)))
		ids = append(ids, en.ID)
		if len(lines) >= recentCap {
			break
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return "Day summary:\n" + strings.Join(lines, "\n"), ids
}

// handoffDue checks the .last-handoff marker against the quiet period.
func (e *Engine) handoffDue() bool {
	data, err := os.ReadFile(e.LastHandoffPath)
	if err != nil {
		return true
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true
	}
	last := time.UnixMilli(ms)
	return e.Clock.NowUTC().Sub(last) >= minHandoffGap
}

func (e *Engine) markHandoff() {
	ms := strconv.FormatInt(e.Clock.NowUTC().UnixMilli(), 10)
	if err := os.WriteFile(e.LastHandoffPath, []byte(ms), 0o600); err != nil {
		e.Logger.Warn("engine: handoff marker write failed", "error", err)
	}
}

// writeIfFits appends a section only when it fits the remaining budget.
func writeIfFits(b *strings.Builder, section string, remaining func() int) {
	if len(section) <= remaining() {
		b.WriteString(section)
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return text
}
