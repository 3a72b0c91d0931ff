// Package scheduler wraps robfig/cron/v3 to drive the three pipeline ticks
// (pre-calculation, enqueue, recovery sweep), guarding each tick with both an
// in-process flag and a Redis-backed distributed lease so that only one
// replica executes a given tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/telemetry"
)

// Lease is the narrow distributed-locking surface the scheduler depends on.
// RedisLease implements it with SET NX PX; tests can substitute a fake.
type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Job is one unit of scheduled work: a name (used as the lease key and the
// scheduler_last_run_timestamp_seconds label), a cron schedule string, the
// function to run, and the lease TTL (slightly longer than the expected tick
// duration, per spec).
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
	LeaseTTL time.Duration
}

// Scheduler owns the cron.Cron instance and the per-job in-process guards.
type Scheduler struct {
	cron    *cron.Cron
	lease   Lease
	metrics *telemetry.Metrics
	jobs    map[string]Job
	guards  map[string]*atomic.Bool
}

// New constructs a Scheduler backed by lease for distributed coordination.
func New(lease Lease, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		lease:   lease,
		metrics: metrics,
		jobs:    make(map[string]Job),
		guards:  make(map[string]*atomic.Bool),
	}
}

// Register adds j to the cron schedule. It returns an error if j.Schedule
// fails to parse, mirroring cron.Cron.AddFunc's own validation.
func (s *Scheduler) Register(j Job) error {
	guard := &atomic.Bool{}
	s.jobs[j.Name] = j
	s.guards[j.Name] = guard

	_, err := s.cron.AddFunc(j.Schedule, func() {
		s.runGuarded(j, guard)
	})
	return err
}

// runNamed invokes the guarded run for an already-registered job outside of
// cron's own ticking, used by tests to avoid waiting on real schedules.
func (s *Scheduler) runNamed(name string) {
	s.runGuarded(s.jobs[name], s.guards[name])
}

// Start begins running registered jobs on their schedules. Non-blocking;
// cron.Cron runs its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job invocation to
// return (cron.Cron.Stop's documented behavior).
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// runGuarded enforces the two-layer guard described in the package doc:
// an in-process atomic flag (cheap, avoids even attempting the lease when
// the previous tick overran), then the distributed Redis lease. Losing
// either race is a skip, not an error — the same "absorb, don't raise"
// posture InsertIfAbsent's unique-violation handling takes.
func (s *Scheduler) runGuarded(j Job, guard *atomic.Bool) {
	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompScheduler),
		slog.String(config.LogKeyJob, j.Name),
	)

	if !guard.CompareAndSwap(false, true) {
		log.Debug("previous tick still running in this process, skipping")
		return
	}
	defer guard.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), j.LeaseTTL)
	defer cancel()

	acquired, err := s.lease.TryAcquire(ctx, "scheduler:"+j.Name, j.LeaseTTL)
	if err != nil {
		log.Error("failed to acquire distributed lease", slog.String(config.LogKeyError, err.Error()))
		return
	}
	if !acquired {
		log.Info(config.MsgLockNotAcquired)
		return
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		log.Error("job run failed", slog.String(config.LogKeyError, err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.SchedulerLastRunSecs.WithLabelValues(j.Name).Set(float64(start.Unix()))
	}
}
