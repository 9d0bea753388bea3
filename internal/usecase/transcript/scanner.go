// Package transcript implements the incremental conversation-log scanner:
// it tails append-only JSONL transcripts behind a persistent cursor and
// turns free text into structured entries without user action.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/domain"
	"hindsight/internal/infra/clock"
)

const (
	// maxChunkBytes caps raw bytes read per scan.
	maxChunkBytes = 10 * 1024 * 1024

	// maxClassified caps semantic classification work per scan.
	maxClassified = 10

	// minMessageChars drops trivially short messages.
	minMessageChars = 20

	// dedupDistance: a vector neighbor closer than this L2 distance marks a
	// near-duplicate of an existing entry.
	dedupDistance = 0.55

	// ruleSimilarity: cosine to an existing rule or pending rule above which
	// a directive is considered already captured.
	ruleSimilarity = 0.75
)

// Report summarises one scan.
type Report struct {
	File          string
	Messages      int
	Classified    int
	Inserted      int
	PendingRules  int
	DebugPatterns int
}

// message is one transcript message with its extracted text.
type message struct {
	Role string // "user" | "assistant"
	Text string
}

// Scanner reads transcripts incrementally and captures entries. Concurrent
// invocations are forbidden by the caller; the cursor file's read-modify-
// write is not atomic across processes.
type Scanner struct {
	dir        string
	cursorPath string
	store      domain.EntryStore
	embedder   *embedding.Embedder
	clock      domain.Clock
	logger     *slog.Logger
}

// New creates a Scanner over a directory of .jsonl conversation logs.
func New(dir, cursorPath string, store domain.EntryStore, emb *embedding.Embedder, clk domain.Clock, logger *slog.Logger) *Scanner {
	return &Scanner{
		dir:        dir,
		cursorPath: cursorPath,
		store:      store,
		embedder:   emb,
		clock:      clk,
		logger:     logger,
	}
}

// Scan processes the newest transcript from the persisted cursor onward:
// semantic classification, directive capture and debugging-pattern capture.
// The new cursor is persisted unconditionally before returning.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	current, err := s.latestTranscript()
	if err != nil || current == "" {
		return Report{}, err
	}

	cur := s.loadCursor()
	if cur.File != "" && cur.File != current {
		if _, statErr := os.Stat(cur.File); statErr != nil {
			// The tracked file vanished: re-anchor on the current one and
			// pick it up next scan.
			s.saveCursor(domain.TranscriptCursor{File: current, Offset: 0})
			return Report{File: current}, nil
		}
		cur = domain.TranscriptCursor{File: current, Offset: 0}
	}
	if cur.File == "" {
		cur = domain.TranscriptCursor{File: current, Offset: 0}
	}

	chunk, newOffset, err := readChunk(current, cur.Offset)
	if err != nil {
		s.saveCursor(domain.TranscriptCursor{File: current, Offset: cur.Offset})
		return Report{File: current}, domain.WrapOp("transcript.read", fmt.Errorf("%w: %v", domain.ErrTranscriptRead, err))
	}

	messages := parseMessages(chunk)
	rep := Report{File: current, Messages: len(messages)}

	s.classifyMessages(ctx, messages, &rep)
	s.captureDirectives(ctx, messages, &rep)
	s.captureDebugPatterns(ctx, messages, &rep)

	s.saveCursor(domain.TranscriptCursor{File: current, Offset: newOffset})
	return rep, nil
}

// latestTranscript returns the most recently modified .jsonl in the
// configured directory, or "" when there is none.
func (s *Scanner) latestTranscript() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", domain.WrapOp("transcript.dir", fmt.Errorf("%w: %v", domain.ErrTranscriptSource, err))
	}

	var newest string
	var newestMod int64
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = filepath.Join(s.dir, de.Name())
			newestMod = mod
		}
	}
	return newest, nil
}

// readChunk reads up to maxChunkBytes from offset. When the read stops short
// of EOF, the new offset backs up to the last complete line; at EOF the
// whole read is consumed.
func readChunk(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if offset > info.Size() {
		// Truncated or rotated in place: start over.
		offset = 0
	}

	buf := make([]byte, maxChunkBytes)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		if offset == info.Size() {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	buf = buf[:n]

	atEOF := offset+int64(n) >= info.Size()
	if atEOF {
		return buf, offset + int64(n), nil
	}
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		// One line larger than the chunk: skip past it rather than stall.
		return nil, offset + int64(n), nil
	}
	return buf[:last+1], offset + int64(last) + 1, nil
}

// parseMessages splits a chunk into complete JSONL lines and extracts
// user/assistant text, dropping short messages.
func parseMessages(chunk []byte) []message {
	var out []message
	for _, line := range bytes.Split(chunk, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		rec, err := domain.ParseTranscriptLine(line)
		if err != nil {
			continue
		}
		if rec.Type != "user" && rec.Type != "assistant" {
			continue
		}
		text := textOf(rec)
		if len(text) < minMessageChars {
			continue
		}
		out = append(out, message{Role: rec.Type, Text: text})
	}
	return out
}

// textOf extracts the display text of a message: the trimmed string content,
// or the newline-joined text blocks. For user messages only string content
// counts (array content is tool output).
func textOf(m domain.TranscriptMessage) string {
	if m.Content.IsStr {
		return strings.TrimSpace(m.Content.Str)
	}
	if m.Type == "user" {
		return ""
	}
	var parts []string
	for _, b := range m.Content.Blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// loadCursor reads the persisted cursor; any failure yields the zero cursor.
func (s *Scanner) loadCursor() domain.TranscriptCursor {
	data, err := os.ReadFile(s.cursorPath)
	if err != nil {
		return domain.TranscriptCursor{}
	}
	var raw struct {
		File   string `json:"file"`
		Offset int64  `json:"offset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("transcript: corrupt cursor, resetting", "error", err)
		return domain.TranscriptCursor{}
	}
	return domain.TranscriptCursor{File: raw.File, Offset: raw.Offset}
}

func (s *Scanner) saveCursor(c domain.TranscriptCursor) {
	data, err := json.Marshal(struct {
		File   string `json:"file"`
		Offset int64  `json:"offset"`
	}{c.File, c.Offset})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cursorPath), 0o700); err != nil {
		s.logger.Warn("transcript: cursor dir", "error", err)
		return
	}
	if err := os.WriteFile(s.cursorPath, data, 0o600); err != nil {
		s.logger.Warn("transcript: cursor write failed", "error", err)
	}
}

// insertInsight mints and stores one captured entry with its vector.
func (s *Scanner) insertInsight(ctx context.Context, text string, v []float32, tier domain.Tier, tags []string) error {
	id, err := clock.MintEntryID()
	if err != nil {
		return err
	}
	e := domain.Entry{
		ID:         id,
		Date:       s.clock.TodayLocalYMD(),
		Time:       s.clock.TimeHHMM(),
		Type:       domain.TypeInsight,
		Tags:       tags,
		Content:    text,
		SourceFile: "transcript-scan",
		Tier:       tier,
		SessionID:  clock.SessionID(),
	}
	rowID, err := s.store.Insert(ctx, e)
	if err != nil {
		return err
	}
	return s.store.InsertVec(ctx, rowID, v)
}

// isNearDuplicate reports whether the vector's nearest stored neighbor sits
// within the dedup distance.
func (s *Scanner) isNearDuplicate(ctx context.Context, v []float32) bool {
	hits, err := s.store.SearchVec(ctx, v, 1)
	if err != nil || len(hits) == 0 {
		return false
	}
	return hits[0].Distance < dedupDistance
}
