package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "test-task", Schedule: "50ms", Action: ActionReplicationCycle,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	// A slow action straddling several ticks must never run concurrently
	// with itself: overlapping fires are skipped, not stacked.
	var inFlight, maxInFlight atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		cur := inFlight.Add(1)
		for {
			seen := maxInFlight.Load()
			if cur <= seen || maxInFlight.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "slow-cycle", Schedule: "30ms", Action: ActionReplicationCycle,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(400 * time.Millisecond)
	s.Stop()

	if m := maxInFlight.Load(); m > 1 {
		t.Errorf("%d concurrent invocations observed, want at most 1", m)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{
		Name: "unknown", Schedule: "100ms", Action: "does_not_exist",
	})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{
		Name: "ctx-task", Schedule: "50ms", Action: ActionReplicationCycle,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	countAfterCancel := count.Load()
	time.Sleep(100 * time.Millisecond)

	if count.Load() != countAfterCancel {
		t.Error("task continued after context cancellation")
	}
}

func TestSchedulerMultipleTasks(t *testing.T) {
	var cycleCount, maintCount atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		cycleCount.Add(1)
		return nil
	})
	s.RegisterAction(ActionMaintenance, func(ctx context.Context) error {
		maintCount.Add(1)
		return nil
	})

	s.AddTask(ScheduledTask{Name: "cycle", Schedule: "50ms", Action: ActionReplicationCycle})
	s.AddTask(ScheduledTask{Name: "maintain", Schedule: "50ms", Action: ActionMaintenance})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if cycleCount.Load() < 1 {
		t.Error("replication action never fired")
	}
	if maintCount.Load() < 1 {
		t.Error("maintenance action never fired")
	}
}

func TestSchedulerActionError(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		return fmt.Errorf("simulated error")
	})
	s.AddTask(ScheduledTask{Name: "failing", Schedule: "50ms", Action: ActionReplicationCycle})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "one-shot", Schedule: "50ms", Action: ActionReplicationCycle, OneShot: true,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Wait for first fire + extra cycles.
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, expected exactly 1", c)
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionReplicationCycle, func(ctx context.Context) error { return nil })

	err := s.AddTask(ScheduledTask{Name: "bad", Schedule: "not-valid", Action: ActionReplicationCycle})
	if err == nil {
		t.Error("expected error for invalid schedule string")
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@every 30m", "@hourly", "30m", "100ms"}
	for _, in := range valid {
		t.Run(in, func(t *testing.T) {
			sched, err := parseSchedule(in)
			if err != nil {
				t.Fatalf("parseSchedule(%q): %v", in, err)
			}
			if sched == nil {
				t.Fatal("expected non-nil schedule")
			}
		})
	}

	invalid := []string{"", "not-a-schedule", "-5m", "0s"}
	for _, in := range invalid {
		t.Run("invalid_"+in, func(t *testing.T) {
			if _, err := parseSchedule(in); err == nil {
				t.Errorf("parseSchedule(%q) accepted", in)
			}
		})
	}
}
