// Package replication implements the append-only cross-host protocol: each
// host pushes its entries to a per-host JSONL log on a shared object store
// and pulls every other host's log behind a line cursor.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/domain"
	"hindsight/internal/infra/tracer"
)

const (
	entriesPrefix = "entries/"
	manifestKey   = "manifest.json"
)

// wireEntry is one line of a per-host log (§6.4). Embeddings and provenance
// never cross hosts.
type wireEntry struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Content   string   `json:"content"`
	Tier      string   `json:"tier"`
	Pinned    bool     `json:"pinned"`
	Project   string   `json:"project,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	AgentID   string   `json:"agentId,omitempty"`
}

// manifest maps machine ids to display names (§6.4).
type manifest struct {
	Version  int                        `json:"version"`
	Machines map[string]manifestMachine `json:"machines"`
}

type manifestMachine struct {
	Name string `json:"name"`
}

// Replicator drives the push/pull cycle for one host.
type Replicator struct {
	store     domain.EntryStore
	embedder  *embedding.Embedder
	blob      domain.BlobStore
	cfg       domain.ReplicationConfig
	syncDir   string // local mirror of the outbound log
	statePath string
	clock     domain.Clock
	logger    *slog.Logger

	// cycleMu serializes cycles: state, the mirror file and the remote
	// version token all assume a single writer.
	cycleMu sync.Mutex
}

// New creates a Replicator.
func New(store domain.EntryStore, emb *embedding.Embedder, blob domain.BlobStore,
	cfg domain.ReplicationConfig, syncDir, statePath string,
	clk domain.Clock, logger *slog.Logger) *Replicator {
	return &Replicator{
		store:     store,
		embedder:  emb,
		blob:      blob,
		cfg:       cfg,
		syncDir:   syncDir,
		statePath: statePath,
		clock:     clk,
		logger:    logger,
	}
}

// Cycle runs push then pull. Failure of one does not block the other; both
// error strings are surfaced together. Cycles never overlap: a call that
// finds one still running returns immediately, so a slow cycle makes the
// next tick a no-op.
func (r *Replicator) Cycle(ctx context.Context) error {
	if !r.cycleMu.TryLock() {
		r.logger.Debug("replication: cycle already running, skipping")
		return nil
	}
	defer r.cycleMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "replication.cycle")
	defer span.End()

	var problems []string
	if err := r.Push(ctx); err != nil {
		problems = append(problems, "push: "+err.Error())
	}
	if err := r.Pull(ctx); err != nil {
		problems = append(problems, "pull: "+err.Error())
	}
	if len(problems) > 0 {
		err := errors.New(strings.Join(problems, "; "))
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// Push appends this host's new entries to its log and uploads the whole
// mirror with an optimistic version check.
func (r *Replicator) Push(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	st := r.loadState()

	entries, err := r.store.List(ctx, domain.ListFilter{})
	if err != nil {
		return fmt.Errorf("%w: list: %v", domain.ErrReplicationPush, err)
	}
	fresh := filterSince(entries, st.LastPushAt)

	cachePath := filepath.Join(r.syncDir, r.cfg.MachineID+".jsonl")
	cache, _ := os.ReadFile(cachePath)
	pushed := idsInLog(cache)

	appended := 0
	var out strings.Builder
	out.Write(cache)
	for _, e := range fresh {
		if pushed[e.ID] {
			continue
		}
		line, err := json.Marshal(wireEntry{
			ID: e.ID, Date: e.Date, Time: e.Time, Type: string(e.Type),
			Tags: e.Tags, Content: e.Content, Tier: string(e.Tier),
			Pinned: e.Pinned, Project: e.Project, SessionID: e.SessionID,
			AgentID: e.AgentID,
		})
		if err != nil {
			return fmt.Errorf("%w: marshal %s: %v", domain.ErrReplicationPush, e.ID, err)
		}
		out.Write(line)
		out.WriteByte('\n')
		pushed[e.ID] = true
		appended++
	}

	data := []byte(out.String())
	if appended > 0 {
		if err := os.MkdirAll(r.syncDir, 0o700); err != nil {
			return fmt.Errorf("%w: sync dir: %v", domain.ErrReplicationPush, err)
		}
		if err := os.WriteFile(cachePath, data, 0o600); err != nil {
			return fmt.Errorf("%w: write mirror: %v", domain.ErrReplicationPush, err)
		}
	}

	key := entriesPrefix + r.cfg.MachineID + ".jsonl"
	version := ""
	if obj, err := r.blob.Get(ctx, key); err == nil {
		version = obj.Version
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: version check: %v", domain.ErrReplicationPush, err)
	}
	if _, err := r.blob.Put(ctx, key, data, version); err != nil {
		return fmt.Errorf("%w: upload: %v", domain.ErrReplicationPush, err)
	}

	r.ensureManifest(ctx)

	st.LastPushAt = r.clock.NowUTC().Format(time.RFC3339)
	if err := r.saveState(st); err != nil {
		return fmt.Errorf("%w: save state: %v", domain.ErrReplicationPush, err)
	}
	if appended > 0 {
		r.logger.Info("replication push", "appended", appended)
	}
	return nil
}

// Pull consumes every other host's log from the per-host line cursor.
// Embedding failure leaves the entry without a vector; it never fails the
// pull.
func (r *Replicator) Pull(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	st := r.loadState()

	keys, err := r.blob.List(ctx, entriesPrefix)
	if err != nil {
		return fmt.Errorf("%w: list remote: %v", domain.ErrReplicationPull, err)
	}

	imported := 0
	for _, key := range keys {
		machineID := strings.TrimSuffix(strings.TrimPrefix(key, entriesPrefix), ".jsonl")
		if machineID == "" || machineID == r.cfg.MachineID {
			continue
		}

		obj, err := r.blob.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: fetch %s: %v", domain.ErrReplicationPull, key, err)
		}
		lines := splitLines(obj.Data)
		cursor := st.RemoteCursors[machineID]
		if cursor > int64(len(lines)) {
			cursor = 0 // remote log rewritten: replay from the start
		}

		for _, line := range lines[int(cursor):] {
			var w wireEntry
			if err := json.Unmarshal([]byte(line), &w); err != nil {
				r.logger.Warn("replication: bad remote line, skipping", "machine", machineID, "error", err)
				continue
			}
			exists, err := r.store.HasEntry(ctx, w.ID)
			if err != nil {
				return fmt.Errorf("%w: lookup %s: %v", domain.ErrReplicationPull, w.ID, err)
			}
			if exists {
				continue
			}

			rowID, err := r.store.Insert(ctx, domain.Entry{
				ID: w.ID, Date: w.Date, Time: w.Time, Type: domain.EntryType(w.Type),
				Tags: w.Tags, Content: w.Content, SourceFile: "sync",
				Tier: domain.Tier(w.Tier), Pinned: w.Pinned,
				Project: w.Project, SessionID: w.SessionID, AgentID: w.AgentID,
			})
			if err != nil {
				return fmt.Errorf("%w: insert %s: %v", domain.ErrReplicationPull, w.ID, err)
			}
			imported++

			if v, err := r.embedder.Embed(ctx, w.Content); err != nil {
				r.logger.Warn("replication: embed failed, entry stored without vector",
					"id", w.ID, "error", err)
			} else if err := r.store.InsertVec(ctx, rowID, v); err != nil {
				r.logger.Warn("replication: vector insert failed", "id", w.ID, "error", err)
			}
		}
		st.RemoteCursors[machineID] = int64(len(lines))
	}

	st.LastPullAt = r.clock.NowUTC().Format(time.RFC3339)
	if err := r.saveState(st); err != nil {
		return fmt.Errorf("%w: save state: %v", domain.ErrReplicationPull, err)
	}
	if imported > 0 {
		r.logger.Info("replication pull", "imported", imported)
	}
	return nil
}

// ensureManifest registers this host in the shared manifest. Best effort:
// a lost race or remote failure is retried on the next push.
func (r *Replicator) ensureManifest(ctx context.Context) {
	m := manifest{Version: 1, Machines: make(map[string]manifestMachine)}
	version := ""
	if obj, err := r.blob.Get(ctx, manifestKey); err == nil {
		version = obj.Version
		if err := json.Unmarshal(obj.Data, &m); err != nil {
			m = manifest{Version: 1, Machines: make(map[string]manifestMachine)}
		}
		if m.Machines == nil {
			m.Machines = make(map[string]manifestMachine)
		}
	}
	if existing, ok := m.Machines[r.cfg.MachineID]; ok && existing.Name == r.cfg.MachineName {
		return
	}
	m.Machines[r.cfg.MachineID] = manifestMachine{Name: r.cfg.MachineName}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return
	}
	if _, err := r.blob.Put(ctx, manifestKey, data, version); err != nil {
		r.logger.Warn("replication: manifest update failed", "error", err)
	}
}

// filterSince keeps non-archived entries whose local (date, time) is after
// the last push. An unset lastPush keeps everything.
func filterSince(entries []domain.Entry, lastPush string) []domain.Entry {
	if lastPush == "" {
		return entries
	}
	cutoff, err := time.Parse(time.RFC3339, lastPush)
	if err != nil {
		return entries
	}
	var out []domain.Entry
	for _, e := range entries {
		ts, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.Time, time.Local)
		if err != nil {
			continue
		}
		if ts.After(cutoff.In(time.Local)) {
			out = append(out, e)
		}
	}
	return out
}

// idsInLog collects entry ids already present in a JSONL log.
func idsInLog(data []byte) map[string]bool {
	ids := make(map[string]bool)
	for _, line := range splitLines(data) {
		var w struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(line), &w); err == nil && w.ID != "" {
			ids[w.ID] = true
		}
	}
	return ids
}

func splitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
