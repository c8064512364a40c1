// Package scheduler drives the server's two background ticks: dispatching
// pending runs to the executor (the picker, spec 4.E) and sweeping the
// Stream Bus for locks whose executor died without releasing them
// (a supplemented feature grounded on the reference pack's expired-lease
// recovery). Both ticks are driven by robfig/cron/v3 schedules rather than a
// bare time.Ticker, so an operator can tune cadence with ordinary cron
// syntax including "@every" specs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/executor"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/telemetry"
)

// cronParser accepts the standard 5-field form and robfig's "@every"/"@hourly"
// descriptors.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

const (
	// DefaultDispatchSpec ticks the picker five times a second.
	DefaultDispatchSpec = "@every 200ms"
	// DefaultLeaseSweepSpec checks for abandoned locks twice a minute.
	DefaultLeaseSweepSpec = "@every 30s"
	// DefaultLeaseGrace is how long a Stream Bus lock may be held with its
	// run stuck outside "running" before the sweep reclaims it, and how long
	// it may be held with the run "running" but the executor goroutine
	// apparently gone (best-effort; a slow graph legitimately holding the
	// lock for longer than this will be requeued and get a fresh attempt).
	DefaultLeaseGrace = 2 * time.Minute
)

// Config wires the Scheduler's dependencies and tuning.
type Config struct {
	Store    *store.Store
	Bus      *bus.Bus
	Executor *executor.Executor
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	DispatchSpec   string
	LeaseSweepSpec string
	LeaseGrace     time.Duration
}

// Scheduler runs the dispatch loop and the lease-sweep loop as two
// independently-scheduled background goroutines.
type Scheduler struct {
	store    *store.Store
	bus      *bus.Bus
	executor *executor.Executor
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	dispatchSchedule cronlib.Schedule
	leaseSchedule    cronlib.Schedule
	leaseGrace       time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the cron specs and constructs a Scheduler. An invalid spec
// falls back to the corresponding default rather than failing startup over a
// tuning typo.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatchSpec := cfg.DispatchSpec
	if dispatchSpec == "" {
		dispatchSpec = DefaultDispatchSpec
	}
	dispatchSchedule, err := cronParser.Parse(dispatchSpec)
	if err != nil {
		logger.Warn("scheduler: invalid dispatch spec, using default", "spec", dispatchSpec, "error", err)
		dispatchSchedule, _ = cronParser.Parse(DefaultDispatchSpec)
	}

	leaseSpec := cfg.LeaseSweepSpec
	if leaseSpec == "" {
		leaseSpec = DefaultLeaseSweepSpec
	}
	leaseSchedule, err := cronParser.Parse(leaseSpec)
	if err != nil {
		logger.Warn("scheduler: invalid lease-sweep spec, using default", "spec", leaseSpec, "error", err)
		leaseSchedule, _ = cronParser.Parse(DefaultLeaseSweepSpec)
	}

	leaseGrace := cfg.LeaseGrace
	if leaseGrace <= 0 {
		leaseGrace = DefaultLeaseGrace
	}

	return &Scheduler{
		store:            cfg.Store,
		bus:              cfg.Bus,
		executor:         cfg.Executor,
		logger:           logger,
		metrics:          cfg.Metrics,
		dispatchSchedule: dispatchSchedule,
		leaseSchedule:    leaseSchedule,
		leaseGrace:       leaseGrace,
	}
}

// Start launches both loops in the background and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.runSchedule(ctx, s.dispatchSchedule, s.dispatchTick)
	go s.runSchedule(ctx, s.leaseSchedule, s.leaseSweepTick)
	s.logger.Info("scheduler started")
}

// Stop cancels both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// runSchedule sleeps until sched's next fire time, invokes tick, and
// repeats, rather than ticking on a fixed interval, so a 5-field cron spec
// (not only "@every") drives the loop correctly.
func (s *Scheduler) runSchedule(ctx context.Context, sched cronlib.Schedule, tick func(context.Context)) {
	defer s.wg.Done()
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			tick(ctx)
		}
	}
}

// dispatchTick picks eligible pending runs and hands each to the executor on
// its own goroutine.
func (s *Scheduler) dispatchTick(ctx context.Context) {
	pending, err := s.store.SearchRuns(ctx, store.SearchRunsInput{Status: model.RunPending})
	if err != nil {
		s.logger.Error("scheduler: pending count query failed", "error", err)
	} else {
		s.metrics.SetPendingRuns(len(pending))
	}

	picked, err := s.store.PickPending(ctx, s.bus)
	if err != nil {
		s.logger.Error("scheduler: pick pending failed", "error", err)
		return
	}
	for _, p := range picked {
		go s.executor.Execute(context.Background(), p)
	}
	s.metrics.SetRunningRuns(len(s.bus.LockedRunIDs()))
}

// leaseSweepTick reclaims Stream Bus locks whose holder has exceeded
// leaseGrace: it force-unlocks the run and, if the run is still marked
// running in Persistence, reschedules it to pending so the next dispatch
// tick gives it a fresh attempt. This recovers from an executor goroutine
// that panicked or was killed without reaching its deferred Unlock.
func (s *Scheduler) leaseSweepTick(ctx context.Context) {
	for _, runID := range s.bus.LockedRunIDs() {
		since, ok := s.bus.LockedSince(runID)
		if !ok || time.Since(since) < s.leaseGrace {
			continue
		}

		run, err := s.store.GetRun(ctx, runID, "")
		if err != nil {
			s.logger.Warn("scheduler: lease sweep dropping lock for unknown run", "run_id", runID, "error", err)
			s.bus.Unlock(runID)
			continue
		}
		if run.Status != model.RunRunning {
			s.bus.Unlock(runID)
			continue
		}

		s.logger.Warn("scheduler: reclaiming expired lock", "run_id", runID, "held_for", time.Since(since))
		s.bus.Unlock(runID)
		if _, err := s.store.RescheduleRun(ctx, runID, 0); err != nil {
			s.logger.Error("scheduler: reschedule after lease reclaim failed", "run_id", runID, "error", err)
		}
	}
}
