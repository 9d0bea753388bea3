// Command hookd is the lifecycle adapter the process supervisor execs at
// session events. stdout is reserved for injected context text; diagnostics
// go to stderr. Hook subcommands always exit 0 so the supervisor is never
// blocked by engine trouble.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hindsight/internal/adapter/embedding"
	"hindsight/internal/adapter/objectstore"
	"hindsight/internal/adapter/store/sqlite"
	"hindsight/internal/domain"
	"hindsight/internal/infra/clock"
	"hindsight/internal/infra/config"
	"hindsight/internal/infra/logger"
	"hindsight/internal/infra/tracer"
	"hindsight/internal/usecase/dayfile"
	"hindsight/internal/usecase/engine"
	"hindsight/internal/usecase/maintenance"
	"hindsight/internal/usecase/patterns"
	"hindsight/internal/usecase/ranker"
	"hindsight/internal/usecase/replication"
	"hindsight/internal/usecase/scheduling"
	"hindsight/internal/usecase/transcript"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hookd: %v\n", err)
		// Hook paths must not block the supervisor even when the engine
		// cannot start.
		if isHookCommand(cmd) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.run(ctx, cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "hookd %s: %v\n", cmd, err)
		if isHookCommand(cmd) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func isHookCommand(cmd string) bool {
	switch cmd {
	case "session-start", "stop", "pre-compact":
		return true
	}
	return false
}

// app holds the wired engine and its teardown hooks.
type app struct {
	cfg     *config.Config
	eng     *engine.Engine
	store   *sqlite.Store
	rep     *replication.Replicator
	log     *slog.Logger
	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(os.Getenv("HINDSIGHT_CONFIG"))
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, err
	}

	for _, dir := range []string{
		cfg.BaseDir,
		filepath.Join(cfg.BaseDir, "db"),
		filepath.Join(cfg.BaseDir, "context"),
		filepath.Join(cfg.BaseDir, "models"),
		filepath.Join(cfg.BaseDir, "sync"),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			closeLog()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	clk := clock.SystemClock{}
	store, err := sqlite.Open(cfg.Store.Path, clk, log)
	if err != nil {
		closeLog()
		return nil, err
	}

	backend, err := buildEmbeddingBackend(cfg, log)
	if err != nil {
		store.Close()
		closeLog()
		return nil, err
	}
	emb := embedding.New(backend, cfg.Embedding.CacheSize, log)

	eng := &engine.Engine{
		Store:    store,
		Embedder: emb,
		Ranker:   ranker.New(store, clk, log),
		Maint:    maintenance.New(store, clk, log),
		Patterns: patterns.New(store, clk, log),
		Scanner: transcript.New(cfg.Transcript.Dir,
			filepath.Join(cfg.BaseDir, "db", ".transcript-cursor"),
			store, emb, clk, log),
		DayLog:          dayfile.New(filepath.Join(cfg.BaseDir, "context")),
		Project:         os.Getenv("HINDSIGHT_PROJECT"),
		Clock:           clk,
		Logger:          log,
		LastHandoffPath: filepath.Join(cfg.BaseDir, "db", ".last-handoff"),
	}

	a := &app{cfg: cfg, eng: eng, store: store, log: log}
	a.closers = append(a.closers, store.Close, func() error {
		return shutdownTracer(context.Background())
	}, closeLog)

	if cfg.Replication.Enabled {
		blob, err := objectstore.New(context.Background(), objectstore.Options{
			Bucket:   cfg.Replication.Bucket,
			Prefix:   cfg.Replication.RepoOwner + "/" + cfg.Replication.RepoName + "/",
			Region:   cfg.Replication.Region,
			Endpoint: cfg.Replication.Endpoint,
		}, log)
		if err != nil {
			log.Warn("replication disabled: object store init failed", "error", err)
		} else {
			a.rep = replication.New(store, emb, objectstore.NewBreakerStore(blob, log),
				domain.ReplicationConfig{
					MachineID:   cfg.Replication.MachineID,
					MachineName: cfg.Replication.MachineName,
					RepoOwner:   cfg.Replication.RepoOwner,
					RepoName:    cfg.Replication.RepoName,
					Enabled:     true,
				},
				filepath.Join(cfg.BaseDir, "sync"),
				filepath.Join(cfg.BaseDir, "sync", "state.json"),
				clk, log)
		}
	}
	return a, nil
}

func buildEmbeddingBackend(cfg *config.Config, log *slog.Logger) (domain.EmbeddingProvider, error) {
	switch cfg.Embedding.Provider {
	case "bedrock":
		return embedding.NewBedrockProvider(cfg.Replication.Region, cfg.Embedding.BedrockModel, log)
	default:
		return embedding.NewWASMProvider(cfg.Embedding.ModelPath, log), nil
	}
}

func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "hookd: close: %v\n", err)
		}
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "session-start":
		var in engine.SessionStartInput
		decodeStdin(&in)
		packet, err := a.eng.SessionStart(ctx, in)
		if err != nil {
			return err
		}
		fmt.Print(packet)
		return nil

	case "stop":
		var in engine.StopInput
		decodeStdin(&in)
		return a.eng.Stop(ctx, in)

	case "pre-compact":
		var in engine.PreCompactInput
		decodeStdin(&in)
		return a.eng.PreCompact(ctx, in)

	case "save":
		return a.runSave(ctx, args)

	case "search":
		return a.runSearch(ctx, args)

	case "rule":
		return a.runRule(ctx, args)

	case "status":
		st, err := a.store.Status(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(st)

	case "maintain":
		rep, err := a.eng.Maint.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Println(rep.String())
		return nil

	case "sync":
		if a.rep == nil {
			return fmt.Errorf("replication is not enabled")
		}
		return a.rep.Cycle(ctx)

	case "serve":
		return a.runServe(ctx)

	default:
		showUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) runSave(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	typ := fs.String("type", "insight", "entry type")
	tags := fs.String("tags", "", "comma-separated tags")
	tier := fs.String("tier", "", "explicit tier override")
	pinned := fs.Bool("pinned", false, "pin the entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	content := strings.Join(fs.Args(), " ")
	if content == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		content = strings.TrimSpace(string(raw))
	}

	opts := engine.SaveOptions{Pinned: *pinned}
	if *tier != "" {
		t := domain.Tier(*tier)
		opts.Tier = &t
	}
	res, err := a.eng.Save(ctx, content, domain.EntryType(*typ), splitTags(*tags), opts)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(res)
}

func (a *app) runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	typ := fs.String("type", "", "entry type filter")
	days := fs.Int("days", 0, "day window")
	limit := fs.Int("limit", 10, "max results")
	mode := fs.String("mode", "", "fast|semantic|hybrid (auto when empty)")
	archived := fs.Bool("archived", false, "include archived entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")

	entries, err := a.eng.Search(ctx, query, engine.SearchOptions{
		Type:            domain.EntryType(*typ),
		Days:            *days,
		Limit:           *limit,
		IncludeArchived: *archived,
		Mode:            ranker.Mode(*mode),
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %s [%s] %s\n", e.Date, e.Time, e.Type, e.Content)
	}
	return nil
}

func (a *app) runRule(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hookd rule <save|delete|list> [label] [content]")
	}
	switch args[0] {
	case "save":
		if len(args) < 3 {
			return fmt.Errorf("usage: hookd rule save <label> <content>")
		}
		_, err := a.store.SaveRule(ctx, args[1], strings.Join(args[2:], " "))
		return err
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: hookd rule delete <label>")
		}
		ok, err := a.store.DeleteRule(ctx, args[1])
		if err == nil && !ok {
			return fmt.Errorf("no rule %q", args[1])
		}
		return err
	case "list":
		rules, err := a.store.ListRules(ctx)
		if err != nil {
			return err
		}
		for _, r := range rules {
			fmt.Printf("[%s] %s\n", r.Label, r.Content)
		}
		return nil
	default:
		return fmt.Errorf("unknown rule subcommand %q", args[0])
	}
}

// runServe keeps a long-lived process around for scheduled replication and
// maintenance; hooks remain short-lived separate invocations.
func (a *app) runServe(ctx context.Context) error {
	sched := scheduling.NewScheduler(a.log)

	sched.RegisterAction(scheduling.ActionMaintenance, func(ctx context.Context) error {
		_, err := a.eng.Maint.Run(ctx)
		return err
	})
	if err := sched.AddTask(scheduling.ScheduledTask{
		Name:     "maintenance",
		Schedule: "@hourly",
		Action:   scheduling.ActionMaintenance,
	}); err != nil {
		return err
	}

	if a.rep != nil {
		tick := time.Duration(a.cfg.Replication.TickSeconds) * time.Second
		if err := a.rep.Schedule(sched, tick); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

func decodeStdin(v any) {
	dec := json.NewDecoder(os.Stdin)
	if err := dec.Decode(v); err != nil {
		// An empty or malformed payload falls back to zero values; hooks
		// never fail on input shape.
		return
	}
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func showUsage() {
	fmt.Fprint(os.Stderr, `usage: hookd <command> [flags]

Session hooks (read JSON on stdin, always exit 0):
  session-start   print the context packet for a fresh session
  stop            scan the transcript and emit a handoff when due
  pre-compact     scan the transcript and snapshot progress

Direct commands:
  save [flags] <content>     store one entry (or content on stdin)
  search [flags] <query>     retrieve entries
  rule save|delete|list      manage persistent rules
  status                     print store statistics as JSON
  maintain                   run the maintenance passes once
  sync                       run one replication cycle
  serve                      run the replication/maintenance scheduler
`)
}
