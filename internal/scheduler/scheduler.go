// Package scheduler turns due monitor rows into queued jobs. It is
// leader-less: any number of replicas may tick concurrently, and the
// per-row lease claim decides who dispatches each monitor.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"linkwatch/internal/observability"
	"linkwatch/internal/queue"
	"linkwatch/internal/store"

	"go.uber.org/zap"
)

// Store is the slice of the monitor store the scheduler needs.
type Store interface {
	SelectDueMonitors(ctx context.Context, now time.Time, limit int) ([]*store.Monitor, error)
	ClaimMonitor(ctx context.Context, id string, nextCheckAt, lockedUntil time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string, nextCheckAt time.Time) error
}

// Enqueuer appends jobs to the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.HealthCheckJob, critical bool) error
}

// Config holds the scheduling knobs.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	LockDuration time.Duration
}

// Scheduler runs the periodic select-claim-enqueue cycle.
type Scheduler struct {
	store   Store
	enq     Enqueuer
	cfg     Config
	logger  *zap.SugaredLogger
	ticking atomic.Bool
}

// New builds a Scheduler.
func New(st Store, enq Enqueuer, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:  st,
		enq:    enq,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
	}
}

// Run ticks until ctx is cancelled. An in-flight tick completes before Run
// returns; errors never escape a tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Infow("scheduler started",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
		"lock_duration", s.cfg.LockDuration,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one cycle. The guard serializes within the process; across
// processes the row lease serializes instead.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		observability.SchedulerTicksSkipped.Inc()
		s.logger.Warn("previous tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	start := time.Now()
	queued := s.dispatchDue(ctx, start)

	elapsed := time.Since(start)
	observability.SchedulerTicks.Inc()
	observability.SchedulerTickDuration.Observe(elapsed.Seconds())

	if queued > 0 {
		s.logger.Infow("tick completed", "queued", queued, "duration", elapsed)
	} else {
		s.logger.Debugw("tick completed, nothing due", "duration", elapsed)
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) int {
	monitors, err := s.store.SelectDueMonitors(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Errorw("due-monitor select failed", "error", err)
		return 0
	}

	queued := 0
	for _, m := range monitors {
		next := now.Add(time.Duration(m.IntervalMS) * time.Millisecond)
		until := now.Add(s.cfg.LockDuration)

		claimed, err := s.store.ClaimMonitor(ctx, m.ID, next, until)
		if err != nil {
			// A claim error means the store is unhealthy; the rest of the
			// batch would fail the same way. Next tick retries.
			s.logger.Errorw("claim failed, abandoning batch", "link_id", m.ID, "error", err)
			break
		}
		if !claimed {
			// Another replica got there first, or the monitor was
			// deactivated between select and claim.
			observability.SchedulerClaimsLost.Inc()
			s.logger.Debugw("claim lost", "link_id", m.ID)
			continue
		}

		job := queue.HealthCheckJob{
			LinkID:       m.ID,
			ConvexURLID:  m.ConvexURLID,
			ConvexUserID: m.ConvexUserID,
			LongURL:      m.LongURL,
			ShortURL:     m.ShortURL,
			Environment:  m.Environment,
		}
		if err := s.enq.Enqueue(ctx, job, false); err != nil {
			s.logger.Errorw("enqueue failed, abandoning batch", "link_id", m.ID, "error", err)
			if rerr := s.store.ReleaseClaim(ctx, m.ID, now); rerr != nil {
				// Lease expiry recovers this monitor either way.
				s.logger.Warnw("claim release failed", "link_id", m.ID, "error", rerr)
			}
			break
		}

		queued++
		observability.SchedulerJobsQueued.Inc()
	}
	return queued
}
