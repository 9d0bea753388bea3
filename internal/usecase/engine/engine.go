// Package engine wires the retrieval-and-retention core together and
// exposes the contracts consumed by external callers: save, search and the
// session lifecycle hooks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/domain"
	"hindsight/internal/usecase/dayfile"
	"hindsight/internal/usecase/maintenance"
	"hindsight/internal/usecase/patterns"
	"hindsight/internal/usecase/ranker"
	"hindsight/internal/usecase/transcript"
)

// gitTimeout bounds git subprocess calls used for changed-file context.
const gitTimeout = 3 * time.Second

// Engine owns the components and the explicit handles (embedder, project,
// session id) that flow through it.
type Engine struct {
	Store    domain.EntryStore
	Embedder *embedding.Embedder
	Ranker   *ranker.Ranker
	Maint    *maintenance.Runner
	Patterns *patterns.Tracker
	Scanner  *transcript.Scanner
	DayLog   *dayfile.Log

	Project string // current project identifier, may be empty
	Clock   domain.Clock
	Logger  *slog.Logger

	// RecentFiles lists files changed recently in the working tree; nil
	// selects the git-based default. Injectable for tests.
	RecentFiles func(ctx context.Context) []string

	// LastHandoffPath persists the §6.1 .last-handoff epoch-ms marker.
	LastHandoffPath string
}

// validTypes is the closed §3.1 type set accepted by Save.
var validTypes = map[domain.EntryType]bool{
	domain.TypeDecision:  true,
	domain.TypeProgress:  true,
	domain.TypeIssue:     true,
	domain.TypeHandoff:   true,
	domain.TypeInsight:   true,
	domain.TypeReference: true,
	domain.TypeGitCommit: true,
	domain.TypeRule:      true,
}

var validTiers = map[domain.Tier]bool{
	domain.TierEphemeral: true,
	domain.TierWorking:   true,
	domain.TierLongterm:  true,
}

// gitRecentFiles shells out for the files touched by the latest commit.
// Failures are recoverable: the session packet simply omits file context.
func (e *Engine) gitRecentFiles(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "diff", "--name-only", "HEAD~1", "HEAD").Output()
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

func (e *Engine) recentFiles(ctx context.Context) []string {
	if e.RecentFiles != nil {
		return e.RecentFiles(ctx)
	}
	return e.gitRecentFiles(ctx)
}

// validateSave rejects malformed save input before any state is touched.
func validateSave(content string, typ domain.EntryType, tier *domain.Tier) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", domain.ErrInvalidInput)
	}
	if len(content) > domain.MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", domain.ErrInvalidInput, domain.MaxContentBytes)
	}
	if !validTypes[typ] {
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidInput, typ)
	}
	if tier != nil && !validTiers[*tier] {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, *tier)
	}
	return nil
}
