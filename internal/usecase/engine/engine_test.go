package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/adapter/store/sqlite"
	"hindsight/internal/domain"
	"hindsight/internal/usecase/dayfile"
	"hindsight/internal/usecase/maintenance"
	"hindsight/internal/usecase/patterns"
	"hindsight/internal/usecase/ranker"
	"hindsight/internal/usecase/transcript"
)

type fixedClock struct{ now string }

func (c fixedClock) NowUTC() time.Time {
	t, _ := time.Parse("2006-01-02 15:04", c.now)
	return t.UTC()
}
func (c fixedClock) TodayLocalYMD() string { return c.now[:10] }
func (c fixedClock) TimeHHMM() string      { return c.now[11:] }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hashProvider: identical text -> identical unit vector; distinct texts are
// near-orthogonal.
type hashProvider struct{}

func (hashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))
		v := make([]float32, domain.EmbeddingDimensions)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = embedding.Normalize(v)
	}
	return out, nil
}
func (hashProvider) Dimensions() int { return domain.EmbeddingDimensions }
func (hashProvider) Name() string    { return "hash" }

func newEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	clk := fixedClock{now: "2026-02-20 12:00"}
	base := t.TempDir()

	store, err := sqlite.Open(filepath.Join(base, "store"), clk, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	emb := embedding.New(hashProvider{}, 100, discardLogger())
	eng := &Engine{
		Store:    store,
		Embedder: emb,
		Ranker:   ranker.New(store, clk, discardLogger()),
		Maint:    maintenance.New(store, clk, discardLogger()),
		Patterns: patterns.New(store, clk, discardLogger()),
		Scanner: transcript.New(filepath.Join(base, "transcripts"),
			filepath.Join(base, ".transcript-cursor"), store, emb, clk, discardLogger()),
		DayLog:          dayfile.New(filepath.Join(base, "context")),
		Project:         "current-proj",
		Clock:           clk,
		Logger:          discardLogger(),
		RecentFiles:     func(context.Context) []string { return nil },
		LastHandoffPath: filepath.Join(base, ".last-handoff"),
	}
	return eng, store
}

func TestSaveContract(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	res, err := e.Save(ctx, "PostgreSQL chosen for JSON support", domain.TypeDecision,
		[]string{"db"}, SaveOptions{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.ID == "" || res.Date != "2026-02-20" || res.Time != "12:00" {
		t.Errorf("result = %+v", res)
	}
	if res.Tier != domain.TierWorking {
		t.Errorf("tier = %s", res.Tier)
	}

	// The day file carries the entry and round-trips.
	data, err := os.ReadFile(e.DayLog.Path("2026-02-20"))
	if err != nil {
		t.Fatalf("day file: %v", err)
	}
	parsed := dayfile.Parse(string(data))
	if len(parsed) != 1 || parsed[0].ID != res.ID {
		t.Errorf("day file sections = %+v", parsed)
	}

	// The entry and its vector are queryable.
	got, err := s.GetEntry(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	vecs, err := s.GetVecs(ctx, []int64{got.RowID})
	if err != nil || len(vecs) != 1 {
		t.Errorf("vector missing: %v, %v", vecs, err)
	}
}

func TestSaveValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, "", domain.TypeDecision, nil, SaveOptions{}); err == nil {
		t.Error("empty content accepted")
	}
	if _, err := e.Save(ctx, "x", "bogus", nil, SaveOptions{}); err == nil {
		t.Error("unknown type accepted")
	}
	bad := domain.Tier("eternal")
	if _, err := e.Save(ctx, "x", domain.TypeDecision, nil, SaveOptions{Tier: &bad}); err == nil {
		t.Error("unknown tier accepted")
	}
}

func TestSaveIssuePatternDetection(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	var last SaveResult
	for i := 0; i < 3; i++ {
		var err error
		last, err = e.Save(ctx, "Memory leak in WebSocket handler", domain.TypeIssue, nil, SaveOptions{})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	if last.PatternDetected == "" {
		t.Fatal("third identical issue did not detect a pattern")
	}
	active, err := e.Patterns.GetActivePatterns(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %v, %v", active, err)
	}
}

func TestSearchModes(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, "GraphQL federation gateway configured", domain.TypeDecision, nil, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Bare token auto-selects fast (lexical).
	got, err := e.Search(ctx, "GraphQL", SearchOptions{Limit: 5})
	if err != nil || len(got) != 1 {
		t.Errorf("fast search = %v, %v", got, err)
	}
	// Phrase query runs the hybrid path.
	got, err = e.Search(ctx, "GraphQL federation gateway configured", SearchOptions{Limit: 5})
	if err != nil || len(got) != 1 {
		t.Errorf("hybrid search = %v, %v", got, err)
	}
	// Semantic mode with the exact saved content: nearest by vector.
	got, err = e.Search(ctx, "GraphQL federation gateway configured", SearchOptions{Limit: 5, Mode: ranker.ModeSemantic})
	if err != nil || len(got) != 1 {
		t.Errorf("semantic search = %v, %v", got, err)
	}
}

func TestSessionStartBudget(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	// 3 rules, ~200 chars each.
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("rule %d: %s", i, strings.Repeat("x", 190))
		if _, err := s.SaveRule(ctx, fmt.Sprintf("rule-%d", i), content); err != nil {
			t.Fatalf("SaveRule: %v", err)
		}
	}
	// 50 candidate recent entries.
	for i := 0; i < 50; i++ {
		_, err := s.Insert(ctx, domain.Entry{
			ID:   fmt.Sprintf("recent-%d", i),
			Date: "2026-02-19", Time: fmt.Sprintf("%02d:30", i%24),
			Type: domain.TypeDecision, Tier: domain.TierWorking,
			Content: fmt.Sprintf("decision number %d about the service layer", i),
			Project: "current-proj",
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	// One handoff.
	if _, err := s.Insert(ctx, domain.Entry{
		ID: "handoff-1", Date: "2026-02-19", Time: "18:00",
		Type: domain.TypeHandoff, Tier: domain.TierEphemeral,
		Content: "Finished wiring the retrieval path end to end",
	}); err != nil {
		t.Fatalf("Insert handoff: %v", err)
	}
	// Two active patterns.
	for i := 0; i < 2; i++ {
		err := s.SavePattern(ctx, domain.Pattern{
			ID: fmt.Sprintf("pat-%d", i), Label: fmt.Sprintf("recurring problem %d", i),
			EntryIDs: []string{"a", "b", "c"}, OccurrenceCount: 3,
			FirstSeen: "2026-02-15", LastSeen: "2026-02-19",
		})
		if err != nil {
			t.Fatalf("SavePattern: %v", err)
		}
	}
	// Two stale ephemeral entries for the decay pass to report.
	for i := 0; i < 2; i++ {
		_, err := s.Insert(ctx, domain.Entry{
			ID: fmt.Sprintf("stale-%d", i), Date: "2026-02-10", Time: "09:00",
			Type: domain.TypeProgress, Tier: domain.TierEphemeral,
			Content: "old throwaway note",
		})
		if err != nil {
			t.Fatalf("Insert stale: %v", err)
		}
	}

	packet, err := e.SessionStart(ctx, SessionStartInput{Source: "startup"})
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}

	if len(packet) > packetBudget {
		t.Errorf("packet is %d chars, budget %d", len(packet), packetBudget)
	}
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("rule %d: %s", i, strings.Repeat("x", 190))
		if !strings.Contains(packet, want) {
			t.Errorf("rule %d not verbatim in packet", i)
		}
	}
	lines := strings.Split(strings.TrimRight(packet, "\n"), "\n")
	if !strings.HasPrefix(lines[len(lines)-1], "Total entries: ") {
		t.Errorf("packet does not end with the entry-count line: %q", lines[len(lines)-1])
	}
	if !strings.Contains(packet, "decayed=2") {
		t.Errorf("maintenance summary missing from packet:\n%s", packet)
	}
	if !strings.Contains(packet, "Recurring issues") {
		t.Errorf("patterns section missing")
	}
	if !strings.Contains(packet, "Last handoff") {
		t.Errorf("handoff section missing")
	}
}

func TestStopEmitsHandoffOnce(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, "shipped the retrieval pipeline", domain.TypeProgress, nil, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := e.Stop(ctx, StopInput{}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	handoffs, err := s.List(ctx, domain.ListFilter{Type: domain.TypeHandoff})
	if err != nil || len(handoffs) != 1 {
		t.Fatalf("handoffs = %v, %v", handoffs, err)
	}

	// A second stop inside the quiet period adds nothing.
	if err := e.Stop(ctx, StopInput{}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	handoffs, _ = s.List(ctx, domain.ListFilter{Type: domain.TypeHandoff})
	if len(handoffs) != 1 {
		t.Errorf("%d handoffs after second stop", len(handoffs))
	}

	// stop_hook_active short-circuits entirely.
	if err := e.Stop(ctx, StopInput{StopHookActive: true}); err != nil {
		t.Errorf("Stop(active): %v", err)
	}
}

func TestPreCompactSnapshot(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	if err := e.PreCompact(ctx, PreCompactInput{Trigger: "auto"}); err != nil {
		t.Fatalf("PreCompact: %v", err)
	}
	got, err := s.FindByTag(ctx, "compaction-snapshot")
	if err != nil || len(got) != 1 {
		t.Fatalf("snapshot entries = %v, %v", got, err)
	}
	if got[0].Type != domain.TypeProgress {
		t.Errorf("type = %s", got[0].Type)
	}
}
