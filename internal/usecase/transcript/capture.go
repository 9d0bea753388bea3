package transcript

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/domain"
)

// Classification thresholds per message role.
const (
	intentThreshold   = 0.3
	categoryThreshold = 0.7
	anchorThreshold   = 0.3
)

// classifyMessages runs semantic classification over at most maxClassified
// messages and inserts insight entries for matches that are not near
// duplicates of existing entries. Embedding failure skips the message.
func (s *Scanner) classifyMessages(ctx context.Context, messages []message, rep *Report) {
	for _, m := range messages {
		if rep.Classified >= maxClassified {
			return
		}
		rep.Classified++

		var res domain.ClassifyResult
		var err error
		switch m.Role {
		case "user":
			res, err = s.embedder.Classify(ctx, m.Text, embedding.SetIntent, intentThreshold)
		default:
			res, err = s.embedder.Classify(ctx, m.Text, embedding.SetCategory, categoryThreshold)
		}
		if err != nil {
			s.logger.Warn("transcript: classify failed, skipping message", "error", err)
			continue
		}
		if !res.Matched {
			continue
		}

		v, err := s.embedder.Embed(ctx, m.Text)
		if err != nil {
			s.logger.Warn("transcript: embed failed, skipping message", "error", err)
			continue
		}
		if s.isNearDuplicate(ctx, v) {
			continue
		}

		tags := []string{"transcript-scan", "source:" + m.Role, "intent:" + res.Category}
		if err := s.insertInsight(ctx, m.Text, v, domain.TierWorking, tags); err != nil {
			s.logger.Warn("transcript: insight insert failed", "error", err)
			continue
		}
		rep.Inserted++
	}
}

// captureDirectives proposes pending rules from user messages that clear
// both the semantic anchor match and the regex directive gate, unless an
// existing rule or pending rule already covers them.
func (s *Scanner) captureDirectives(ctx context.Context, messages []message, rep *Report) {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		if !ScoreSignals(m.Text).PassesDirectiveGate() {
			continue
		}

		res, err := s.embedder.Classify(ctx, m.Text, embedding.SetAnchor, anchorThreshold)
		if err != nil || !res.Matched {
			continue
		}
		v, err := s.embedder.Embed(ctx, m.Text)
		if err != nil {
			continue
		}
		covered, err := s.coveredByExistingRule(ctx, v)
		if err != nil || covered {
			continue
		}

		tags := []string{
			"pending_rule",
			"proposed-label:" + Slug(m.Text, 40),
			"anchor:" + res.Category,
		}
		if err := s.insertInsight(ctx, m.Text, v, domain.TierWorking, tags); err != nil {
			s.logger.Warn("transcript: pending rule insert failed", "error", err)
			continue
		}
		rep.PendingRules++
	}
}

// coveredByExistingRule reports whether any rule or pending-rule entry sits
// at cosine >= ruleSimilarity to the message vector.
func (s *Scanner) coveredByExistingRule(ctx context.Context, v []float32) (bool, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return false, err
	}
	pending, err := s.store.FindByTag(ctx, "pending_rule")
	if err != nil {
		return false, err
	}
	for _, e := range append(rules, pending...) {
		ev, err := s.embedder.Embed(ctx, e.Content)
		if err != nil {
			continue
		}
		if embedding.Dot(v, ev) >= ruleSimilarity {
			return true, nil
		}
	}
	return false, nil
}

// captureDebugPatterns pairs assistant resolution statements with preceding
// error mentions and stores the exchange as a longterm debugging insight.
func (s *Scanner) captureDebugPatterns(ctx context.Context, messages []message, rep *Report) {
	for i, m := range messages {
		if m.Role != "assistant" || !resolutionPattern.MatchString(m.Text) {
			continue
		}

		var failures []string
		start := i - errorLookback
		if start < 0 {
			start = 0
		}
		for _, prev := range messages[start:i] {
			if errorPattern.MatchString(prev.Text) {
				failures = append(failures, firstLine(prev.Text))
			}
		}
		if len(failures) == 0 {
			continue
		}

		content := fmt.Sprintf("Debugging pattern\nFailed attempts:\n- %s\nResolution: %s",
			strings.Join(failures, "\n- "), firstLine(m.Text))

		v, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.logger.Warn("transcript: embed failed, skipping debug pattern", "error", err)
			continue
		}
		if s.isNearDuplicate(ctx, v) {
			continue
		}

		tags := []string{"debugging-pattern", "transcript-scan", "auto-captured"}
		if err := s.insertInsight(ctx, content, v, domain.TierLongterm, tags); err != nil {
			s.logger.Warn("transcript: debug pattern insert failed", "error", err)
			continue
		}
		rep.DebugPatterns++
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns the head of a message into a proposed rule label: lowercase,
// non-alphanumerics collapsed to dashes, cut at maxLen input characters.
func Slug(text string, maxLen int) string {
	r := []rune(text)
	if len(r) > maxLen {
		r = r[:maxLen]
	}
	s := slugStrip.ReplaceAllString(strings.ToLower(string(r)), "-")
	return strings.Trim(s, "-")
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
