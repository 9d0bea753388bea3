// Package scheduling runs the engine's two recurring jobs — the replication
// cycle and the maintenance pass — on cron expressions or fixed delays.
// Ticks of one task are serialized: a still-running invocation makes the
// next tick a no-op rather than a concurrent run.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionReplicationCycle ScheduledAction = "replication_cycle"
	ActionMaintenance      ScheduledAction = "maintenance"
)

// taskTimeout bounds a single invocation of a scheduled action.
const taskTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "120s"
	Action   ScheduledAction
	OneShot  bool
}

// Scheduler runs registered actions on recurring schedules.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Every job is wrapped with
// SkipIfStillRunning, so a tick that fires while the previous invocation of
// the same task is still executing is dropped.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a
// duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.runTask(task, fn)
		if task.OneShot {
			s.cron.Remove(entryID)
		}
	}))

	s.logger.Info("task added to scheduler",
		"name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// runTask invokes one action with the scheduler's context and the per-task
// timeout. A stopped scheduler drops the tick.
func (s *Scheduler) runTask(task ScheduledTask, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(taskCtx); err != nil {
		s.logger.Warn("scheduled task failed",
			"task", task.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled task completed",
		"task", task.Name, "duration", time.Since(start))
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false
	return nil
}

// parseSchedule tries a cron expression first, then time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// cronLogger adapts slog to the cron.Logger interface so skipped overlapping
// ticks are visible in the engine's own log.
type cronLogger struct {
	inner *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.inner.Warn("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
