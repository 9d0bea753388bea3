package patterns

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"hindsight/internal/adapter/store/sqlite"
	"hindsight/internal/domain"
	"hindsight/internal/usecase/ranker"
)

type fixedClock struct {
	today string
}

func (c fixedClock) NowUTC() time.Time {
	t, _ := time.Parse("2006-01-02", c.today)
	return t.UTC()
}
func (c fixedClock) TodayLocalYMD() string { return c.today }
func (c fixedClock) TimeHHMM() string      { return "12:00" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) (*Tracker, *sqlite.Store, *ranker.Ranker) {
	t.Helper()
	clk := fixedClock{today: "2026-02-20"}
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "store"), clk, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, clk, discardLogger()), store, ranker.New(store, clk, discardLogger())
}

func unitVec(axis int) []float32 {
	v := make([]float32, domain.EmbeddingDimensions)
	v[axis%domain.EmbeddingDimensions] = 1
	return v
}

// saveIssue mimics the issue save hook: insert, attach vector, detect.
func saveIssue(t *testing.T, tr *Tracker, s *sqlite.Store, r *ranker.Ranker, id, date, content string, v []float32) string {
	t.Helper()
	ctx := context.Background()
	e := domain.Entry{
		ID: id, Date: date, Time: "10:00", Type: domain.TypeIssue,
		Content: content, Tier: domain.TierWorking,
	}
	rowID, err := s.Insert(ctx, e)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.InsertVec(ctx, rowID, v); err != nil {
		t.Fatalf("InsertVec: %v", err)
	}
	similar, err := r.FindSimilarIssues(ctx, v, 30, 0.5)
	if err != nil {
		t.Fatalf("FindSimilarIssues: %v", err)
	}
	var others []domain.Entry
	for _, se := range similar {
		if se.ID != id {
			others = append(others, se)
		}
	}
	patID, err := tr.OnIssueSaved(ctx, e, others)
	if err != nil {
		t.Fatalf("OnIssueSaved: %v", err)
	}
	return patID
}

func TestRecurringIssueBecomesActivePattern(t *testing.T) {
	tr, s, r := newFixture(t)
	ctx := context.Background()
	v := unitVec(0)

	// Same issue saved over three successive days.
	dates := []string{"2026-02-18", "2026-02-19", "2026-02-20"}
	var lastPattern string
	for i, date := range dates {
		id := fmt.Sprintf("leak-%d", i)
		patID := saveIssue(t, tr, s, r, id, date, "Memory leak in WebSocket handler", v)
		if i < 2 && patID != "" {
			t.Errorf("save %d created pattern %s prematurely", i, patID)
		}
		if i == 2 {
			if patID == "" {
				t.Fatal("third save did not create a pattern")
			}
			lastPattern = patID
		}
	}

	active, err := tr.GetActivePatterns(ctx)
	if err != nil {
		t.Fatalf("GetActivePatterns: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("%d active patterns, want 1", len(active))
	}
	if active[0].OccurrenceCount < 3 {
		t.Errorf("occurrence_count = %d", active[0].OccurrenceCount)
	}
	if active[0].Label != "Memory leak in WebSocket handler" {
		t.Errorf("label = %q", active[0].Label)
	}

	changed, err := tr.ResolvePattern(ctx, lastPattern)
	if err != nil || !changed {
		t.Fatalf("ResolvePattern = %v, %v", changed, err)
	}
	active, _ = tr.GetActivePatterns(ctx)
	if len(active) != 0 {
		t.Errorf("resolved pattern still active")
	}
}

func TestCreateOrUpdateMergesOnOverlap(t *testing.T) {
	tr, _, _ := newFixture(t)
	ctx := context.Background()

	id1, err := tr.CreateOrUpdatePattern(ctx, "first label", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Overlapping id "c" merges into the same pattern.
	id2, err := tr.CreateOrUpdatePattern(ctx, "updated label", []string{"c", "d"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if id1 != id2 {
		t.Errorf("merge created a new pattern: %s != %s", id1, id2)
	}

	p, err := tr.GetPatternForEntry(ctx, "d")
	if err != nil || p == nil {
		t.Fatalf("GetPatternForEntry: %v, %v", p, err)
	}
	if p.OccurrenceCount != 4 || len(p.EntryIDs) != 4 {
		t.Errorf("pattern = %+v", p)
	}
	if p.Label != "updated label" {
		t.Errorf("label = %q", p.Label)
	}

	// Disjoint ids make a fresh pattern.
	id3, err := tr.CreateOrUpdatePattern(ctx, "other", []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("create disjoint: %v", err)
	}
	if id3 == id1 {
		t.Error("disjoint ids merged")
	}
}

func TestLabelTruncatedTo80(t *testing.T) {
	tr, _, _ := newFixture(t)
	long := ""
	for i := 0; i < 30; i++ {
		long += "label"
	}
	id, err := tr.CreateOrUpdatePattern(context.Background(), long, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := tr.GetPatternForEntry(context.Background(), "a")
	if err != nil || p == nil {
		t.Fatalf("GetPatternForEntry: %v", err)
	}
	if len(p.Label) != 80 {
		t.Errorf("label length = %d, want 80 (pattern %s)", len(p.Label), id)
	}
}

func TestGetPatternForEntryMiss(t *testing.T) {
	tr, _, _ := newFixture(t)
	p, err := tr.GetPatternForEntry(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("GetPatternForEntry: %v", err)
	}
	if p != nil {
		t.Errorf("unexpected pattern %+v", p)
	}
}

func TestRecordCommitFilesBounds(t *testing.T) {
	tr, s, _ := newFixture(t)
	ctx := context.Background()

	// A single-file commit records nothing.
	if err := tr.RecordCommitFiles(ctx, "proj", []string{"solo.go"}, "2026-02-20"); err != nil {
		t.Fatalf("RecordCommitFiles: %v", err)
	}
	// A 20-file commit is too broad to be a signal.
	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, fmt.Sprintf("f%d.go", i))
	}
	if err := tr.RecordCommitFiles(ctx, "proj", many, "2026-02-20"); err != nil {
		t.Fatalf("RecordCommitFiles: %v", err)
	}
	got, _ := s.GetCoChanges(ctx, "proj", "solo.go", 10)
	if len(got) != 0 {
		t.Errorf("single-file commit recorded pairs: %v", got)
	}
	got, _ = s.GetCoChanges(ctx, "proj", "f0.go", 10)
	if len(got) != 0 {
		t.Errorf("20-file commit recorded pairs: %v", got)
	}

	// A 3-file commit records all unordered pairs.
	if err := tr.RecordCommitFiles(ctx, "proj", []string{"a.go", "b.go", "c.go"}, "2026-02-20"); err != nil {
		t.Fatalf("RecordCommitFiles: %v", err)
	}
	got, err := tr.GetCoChanges(ctx, "proj", "a.go", 10)
	if err != nil {
		t.Fatalf("GetCoChanges: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("a.go pairs = %v", got)
	}
}
