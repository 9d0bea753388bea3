package maintenance

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hindsight/internal/adapter/store/sqlite"
	"hindsight/internal/domain"
)

type fixedClock struct {
	today string
	hhmm  string
}

func (c fixedClock) NowUTC() time.Time {
	t, _ := time.Parse("2006-01-02 15:04", c.today+" "+c.hhmm)
	return t.UTC()
}
func (c fixedClock) TodayLocalYMD() string { return c.today }
func (c fixedClock) TimeHHMM() string      { return c.hhmm }

var testClock = fixedClock{today: "2026-02-20", hhmm: "12:00"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) (*Runner, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "store"), testClock, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, testClock, discardLogger()), store
}

func insert(t *testing.T, s *sqlite.Store, e domain.Entry, vec []float32) {
	t.Helper()
	rowID, err := s.Insert(context.Background(), e)
	if err != nil {
		t.Fatalf("Insert %s: %v", e.ID, err)
	}
	if vec != nil {
		if err := s.InsertVec(context.Background(), rowID, vec); err != nil {
			t.Fatalf("InsertVec %s: %v", e.ID, err)
		}
	}
}

func entryAt(id, date string, typ domain.EntryType, tier domain.Tier, accessCount int) domain.Entry {
	return domain.Entry{
		ID: id, Date: date, Time: "10:00", Type: typ,
		Content: "content " + id, Tier: tier, AccessCount: accessCount,
	}
}

func unitVec(axis int) []float32 {
	v := make([]float32, domain.EmbeddingDimensions)
	v[axis%domain.EmbeddingDimensions] = 1
	return v
}

func TestDecayEphemeralWindows(t *testing.T) {
	m, s := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		id      string
		date    string
		access  int
		decayed bool
	}{
		{"zero-fresh", "2026-02-18", 0, false},  // 2d, window >3
		{"zero-old", "2026-02-15", 0, true},     // 5d
		{"low-fresh", "2026-02-14", 2, false},   // 6d, window >7
		{"low-old", "2026-02-10", 1, true},      // 10d
		{"high-fresh", "2026-02-08", 3, false},  // 12d, window >14
		{"high-old", "2026-02-01", 5, true},     // 19d
	}
	for _, c := range cases {
		insert(t, s, entryAt(c.id, c.date, domain.TypeProgress, domain.TierEphemeral, c.access), nil)
	}

	rep, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Decayed != 3 {
		t.Errorf("decayed = %d, want 3", rep.Decayed)
	}
	for _, c := range cases {
		e, err := s.GetEntry(ctx, c.id)
		if err != nil {
			t.Fatalf("GetEntry %s: %v", c.id, err)
		}
		if e.Archived != c.decayed {
			t.Errorf("%s: archived = %v, want %v", c.id, e.Archived, c.decayed)
		}
	}
}

func TestDecayNeverArchivesPinned(t *testing.T) {
	m, s := newFixture(t)
	e := entryAt("pin", "2026-01-01", domain.TypeProgress, domain.TierEphemeral, 0)
	e.Pinned = true
	insert(t, s, e, nil)

	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Decayed != 0 {
		t.Errorf("decayed = %d", rep.Decayed)
	}
	got, _ := s.GetEntry(context.Background(), "pin")
	if got.Archived {
		t.Error("pinned entry archived")
	}
}

func TestDemoteIdleWorking(t *testing.T) {
	m, s := newFixture(t)
	ctx := context.Background()

	// Idle 20 days, never accessed: window >15 exceeded.
	insert(t, s, entryAt("idle", "2026-01-31", domain.TypeIssue, domain.TierWorking, 0), nil)
	// Accessed recently: idle measured from last_accessed, not date.
	touched := entryAt("touched", "2026-01-31", domain.TypeIssue, domain.TierWorking, 1)
	touched.LastAccessed = "2026-02-18"
	insert(t, s, touched, nil)

	rep, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Demoted != 1 {
		t.Errorf("demoted = %d, want 1", rep.Demoted)
	}
	e, _ := s.GetEntry(ctx, "idle")
	if e.Tier != domain.TierEphemeral {
		t.Errorf("idle tier = %s", e.Tier)
	}
	e, _ = s.GetEntry(ctx, "touched")
	if e.Tier != domain.TierWorking {
		t.Errorf("touched tier = %s", e.Tier)
	}
}

func TestPromoteStable(t *testing.T) {
	m, s := newFixture(t)
	ctx := context.Background()

	insert(t, s, entryAt("old-decision", "2026-02-10", domain.TypeDecision, domain.TierWorking, 1), nil) // 10d
	insert(t, s, entryAt("new-decision", "2026-02-16", domain.TypeDecision, domain.TierWorking, 1), nil) // 4d
	insert(t, s, entryAt("old-issue", "2026-02-10", domain.TypeIssue, domain.TierWorking, 1), nil)

	rep, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PromotedStable != 1 {
		t.Errorf("promoted_stable = %d, want 1", rep.PromotedStable)
	}
	e, _ := s.GetEntry(ctx, "old-decision")
	if e.Tier != domain.TierLongterm {
		t.Errorf("old-decision tier = %s", e.Tier)
	}
	e, _ = s.GetEntry(ctx, "new-decision")
	if e.Tier != domain.TierWorking {
		t.Errorf("new-decision tier = %s", e.Tier)
	}
}

func TestPromoteFrequent(t *testing.T) {
	m, s := newFixture(t)
	ctx := context.Background()

	insert(t, s, entryAt("hot", "2026-02-19", domain.TypeProgress, domain.TierEphemeral, 3), nil)
	insert(t, s, entryAt("cold", "2026-02-19", domain.TypeProgress, domain.TierEphemeral, 2), nil)

	rep, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PromotedFrequent != 1 {
		t.Errorf("promoted_frequent = %d, want 1", rep.PromotedFrequent)
	}
	e, _ := s.GetEntry(ctx, "hot")
	if e.Tier != domain.TierWorking {
		t.Errorf("hot tier = %s", e.Tier)
	}
}

func TestConsolidationScenario(t *testing.T) {
	// Three issues with the same embedding, dated 4 days ago, access counts
	// 5, 2, 0: one survivor (the access-5 entry) absorbs the rest.
	m, s := newFixture(t)
	ctx := context.Background()

	v := unitVec(0)
	a := entryAt("a", "2026-02-16", domain.TypeIssue, domain.TierWorking, 5)
	a.Tags = []string{"net"}
	b := entryAt("b", "2026-02-16", domain.TypeIssue, domain.TierWorking, 2)
	b.Tags = []string{"net", "flaky"}
	c := entryAt("c", "2026-02-16", domain.TypeIssue, domain.TierWorking, 0)
	for _, e := range []domain.Entry{a, b, c} {
		insert(t, s, e, v)
	}

	rep, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 1 {
		t.Fatalf("consolidated = %d, want 1", rep.Consolidated)
	}

	survivor, err := s.GetEntry(ctx, "a")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !strings.HasSuffix(survivor.Content, "[Consolidated from 3 entries]") {
		t.Errorf("survivor content = %q", survivor.Content)
	}
	if survivor.Tier != domain.TierWorking {
		t.Errorf("survivor tier = %s", survivor.Tier)
	}
	// Tag merge preserves the survivor's order and appends unseen tags.
	if len(survivor.Tags) != 2 || survivor.Tags[0] != "net" || survivor.Tags[1] != "flaky" {
		t.Errorf("survivor tags = %v", survivor.Tags)
	}
	if survivor.Archived {
		t.Error("survivor archived")
	}

	for _, id := range []string{"b", "c"} {
		e, _ := s.GetEntry(ctx, id)
		if !e.Archived {
			t.Errorf("%s not archived", id)
		}
	}
}

func TestConsolidationSkipsFreshClusters(t *testing.T) {
	m, s := newFixture(t)
	v := unitVec(0)
	for _, id := range []string{"a", "b", "c"} {
		insert(t, s, entryAt(id, "2026-02-19", domain.TypeIssue, domain.TierWorking, 0), v) // 1 day old
	}
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 0 {
		t.Errorf("consolidated = %d, want 0 for fresh entries", rep.Consolidated)
	}
}

func TestConsolidationRequiresClusterOfThree(t *testing.T) {
	m, s := newFixture(t)
	v := unitVec(0)
	insert(t, s, entryAt("a", "2026-02-16", domain.TypeIssue, domain.TierWorking, 1), v)
	insert(t, s, entryAt("b", "2026-02-16", domain.TypeIssue, domain.TierWorking, 0), v)
	insert(t, s, entryAt("other", "2026-02-16", domain.TypeIssue, domain.TierWorking, 0), unitVec(9))

	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 0 {
		t.Errorf("consolidated = %d, want 0 for pair", rep.Consolidated)
	}
}

func TestEphemeralSurvivorPromotedToWorking(t *testing.T) {
	m, s := newFixture(t)
	v := unitVec(0)
	// Ephemeral survivor within decay windows (accessed enough to survive
	// the decay pass: access>=3 decays only past 14 days).
	for i, id := range []string{"a", "b", "c"} {
		e := entryAt(id, "2026-02-16", domain.TypeIssue, domain.TierEphemeral, 5-i)
		insert(t, s, e, v)
	}
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 1 {
		t.Fatalf("consolidated = %d", rep.Consolidated)
	}
	survivor, _ := s.GetEntry(context.Background(), "a")
	if survivor.Tier != domain.TierWorking {
		t.Errorf("survivor tier = %s, want working", survivor.Tier)
	}
}
