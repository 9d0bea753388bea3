package replication

import (
	"context"
	"fmt"
	"time"

	"hindsight/internal/usecase/scheduling"
)

// DefaultTick is the replication cycle interval.
const DefaultTick = 120 * time.Second

// Schedule registers the replication cycle on a scheduler at the given tick
// (DefaultTick when zero). The scheduler's skip-if-still-running chain and
// Cycle's own single-flight guard together ensure a long cycle makes the
// next tick a no-op; the timer does not keep the process alive and stops
// with the scheduler.
func (r *Replicator) Schedule(s *scheduling.Scheduler, tick time.Duration) error {
	if !r.cfg.Enabled {
		return nil
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	s.RegisterAction(scheduling.ActionReplicationCycle, func(ctx context.Context) error {
		return r.Cycle(ctx)
	})
	return s.AddTask(scheduling.ScheduledTask{
		Name:     "replication-cycle",
		Schedule: fmt.Sprintf("%ds", int(tick.Seconds())),
		Action:   scheduling.ActionReplicationCycle,
	})
}
