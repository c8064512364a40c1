// Package executor implements the Run Executor (spec 4.G): it drives a
// graph invocation for each run the picker hands it, publishes stream
// events to the Stream Bus, reads the thread's latest checkpoint, and sets
// terminal thread status.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/graphrun/internal/audit"
	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/checkpoint"
	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/basket/graphrun/internal/telemetry"
)

// GraceTimeout bounds how long a cancelled run's executor goroutine may
// take to wind down before it is abandoned.
const GraceTimeout = 30 * time.Second

// Executor drives runs handed to it by the picker.
type Executor struct {
	store       *store.Store
	bus         *bus.Bus
	checkpoints *checkpoint.Proxy
	registry    *graphs.Registry
	logger      *slog.Logger
	maxAttempts int
	audit       *audit.Log
	metrics     *telemetry.Metrics
	telemetry   *telemetry.Provider

	poisonMu sync.Mutex
	poison   map[string]poisonState
}

type poisonState struct {
	fingerprint string
	count       int
}

// New wires an Executor. maxAttempts <= 0 uses DefaultMaxAttempts. A nil
// auditLog discards lifecycle records; a nil metrics discards counters; a
// nil provider traces nothing.
func New(s *store.Store, b *bus.Bus, checkpoints *checkpoint.Proxy, registry *graphs.Registry, logger *slog.Logger, maxAttempts int, auditLog *audit.Log, metrics *telemetry.Metrics, provider *telemetry.Provider) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = telemetry.NoopProvider()
	}
	return &Executor{
		store:       s,
		bus:         b,
		checkpoints: checkpoints,
		registry:    registry,
		logger:      logger,
		maxAttempts: maxAttempts,
		audit:       auditLog,
		metrics:     metrics,
		telemetry:   provider,
		poison:      make(map[string]poisonState),
	}
}

// Execute runs one picked run to completion or suspension, always unlocking
// it in the Stream Bus on the way out (step 8).
func (e *Executor) Execute(ctx context.Context, picked store.PickedRun) {
	run := picked.Run
	defer e.bus.Unlock(run.RunID)

	ctx, span := e.telemetry.StartRunSpan(ctx, run.RunID)
	defer span.End()

	if _, err := e.store.SetRunStatus(ctx, run.RunID, model.RunRunning); err != nil {
		e.logger.Error("executor: transition to running failed", "run_id", run.RunID, "error", err)
		return
	}
	e.bus.Publish(run.RunID, "metadata", map[string]any{"run_id": run.RunID, "attempt": picked.Attempt})
	e.audit.Record("run.started", run.RunID, run.ThreadID, map[string]any{"attempt": picked.Attempt})
	e.metrics.RecordStarted()

	assistant, err := e.store.GetAssistant(ctx, run.AssistantID)
	if err != nil {
		e.fail(ctx, run, err)
		return
	}

	g, err := e.registry.New(assistant.GraphID)
	if err != nil {
		e.fail(ctx, run, err)
		return
	}

	input := run.Kwargs.Input
	if run.Kwargs.Command != nil {
		input = run.Kwargs.Command
	}

	chunks, err := g.Stream(ctx, input, run.Kwargs.Config, run.Kwargs.StreamModes)
	if err != nil {
		e.classifyAndHandle(ctx, run, picked.Attempt, err)
		return
	}

	for {
		select {
		case <-picked.Cancel.Done():
			reason, _ := picked.Cancel.Reason()
			e.handleCancel(ctx, run, reason)
			return

		case chunk, ok := <-chunks:
			if !ok {
				e.complete(ctx, run)
				return
			}
			e.bus.Publish(run.RunID, chunk.Mode, chunk.Data)
		}
	}
}

func (e *Executor) complete(ctx context.Context, run *model.Run) {
	payload, err := e.checkpoints.GetTuple(ctx, model.CheckpointRef{ThreadID: run.ThreadID})
	if err != nil && storeerr.KindOf(err) != storeerr.KindNotFound {
		e.fail(ctx, run, err)
		return
	}
	if _, err := e.store.SetThreadStatus(ctx, run.ThreadID, payload, nil); err != nil {
		e.logger.Error("executor: setStatus on completion failed", "run_id", run.RunID, "error", err)
	}
	if _, err := e.store.SetRunStatus(ctx, run.RunID, model.RunSuccess); err != nil {
		e.logger.Error("executor: set run success failed", "run_id", run.RunID, "error", err)
	}
	e.bus.PublishDone(run.RunID)
	e.audit.Record("run.succeeded", run.RunID, run.ThreadID, nil)
	e.metrics.RecordSucceeded()
	e.forgetPoison(run.RunID)
	e.bus.Forget(run.RunID)
}

func (e *Executor) handleCancel(ctx context.Context, run *model.Run, reason bus.Reason) {
	gctx, cancel := context.WithTimeout(context.Background(), GraceTimeout)
	defer cancel()

	switch reason {
	case bus.ReasonInterrupt:
		payload, _ := e.checkpoints.GetTuple(gctx, model.CheckpointRef{ThreadID: run.ThreadID})
		if _, err := e.store.SetThreadStatus(gctx, run.ThreadID, payload, nil); err != nil {
			e.logger.Error("executor: setStatus on interrupt failed", "run_id", run.RunID, "error", err)
		}
		if _, err := e.store.SetRunStatus(gctx, run.RunID, model.RunInterrupted); err != nil {
			e.logger.Error("executor: set run interrupted failed", "run_id", run.RunID, "error", err)
		}
		e.bus.PublishDone(run.RunID)
		e.audit.Record("run.interrupted", run.RunID, run.ThreadID, nil)

	case bus.ReasonRollback:
		if err := e.checkpoints.Delete(gctx, run.ThreadID); err != nil {
			e.logger.Warn("executor: rollback checkpoint delete failed", "run_id", run.RunID, "error", err)
		}
		if err := e.store.DeleteRun(gctx, run.RunID); err != nil {
			e.logger.Error("executor: rollback delete run failed", "run_id", run.RunID, "error", err)
		}
		previous, err := e.checkpoints.GetTuple(gctx, model.CheckpointRef{ThreadID: run.ThreadID})
		if err != nil && storeerr.KindOf(err) != storeerr.KindNotFound {
			e.logger.Error("executor: rollback lookup previous checkpoint failed", "run_id", run.RunID, "error", err)
		}
		if _, err := e.store.SetThreadStatus(gctx, run.ThreadID, previous, nil); err != nil {
			e.logger.Error("executor: setStatus on rollback failed", "run_id", run.RunID, "error", err)
		}
		e.audit.Record("run.rolled_back", run.RunID, run.ThreadID, nil)
	}

	e.forgetPoison(run.RunID)
	e.bus.Forget(run.RunID)
}

func (e *Executor) classifyAndHandle(ctx context.Context, run *model.Run, attempt int, err error) {
	if isTransient(err) && attempt <= e.maxAttempts && !e.isPoisoned(run.RunID, err) {
		delay := backoffDelay(run.RunID, attempt)
		if _, rerr := e.store.RescheduleRun(ctx, run.RunID, delay); rerr != nil {
			e.logger.Error("executor: reschedule after transient error failed", "run_id", run.RunID, "error", rerr)
		}
		e.logger.Warn("executor: transient error, retrying", "run_id", run.RunID, "attempt", attempt, "delay", delay, "error", err)
		e.audit.Record("run.retrying", run.RunID, run.ThreadID, map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
		e.metrics.RecordRetry(attempt)
		return
	}
	e.fail(ctx, run, err)
}

func (e *Executor) fail(ctx context.Context, run *model.Run, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	data, merr := json.Marshal(map[string]any{"error": err.Error()})
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	e.bus.Publish(run.RunID, "error", json.RawMessage(data))

	if _, serr := e.store.SetThreadStatus(ctx, run.ThreadID, nil, err); serr != nil {
		e.logger.Error("executor: setStatus on fatal error failed", "run_id", run.RunID, "error", serr)
	}
	if _, serr := e.store.SetRunStatus(ctx, run.RunID, model.RunError); serr != nil {
		e.logger.Error("executor: set run error failed", "run_id", run.RunID, "error", serr)
	}
	e.bus.PublishDone(run.RunID)
	e.audit.Record("run.failed", run.RunID, run.ThreadID, map[string]any{"error": err.Error()})
	e.metrics.RecordFailed()
	e.forgetPoison(run.RunID)
	e.bus.Forget(run.RunID)
}

// isPoisoned reports whether err's fingerprint has repeated poisonThreshold
// times for run_id, in which case the executor fails fast instead of
// spending remaining attempts on an error that clearly will not resolve.
func (e *Executor) isPoisoned(runID string, err error) bool {
	fp := errorFingerprint(err.Error())

	e.poisonMu.Lock()
	defer e.poisonMu.Unlock()

	st := e.poison[runID]
	if st.fingerprint == fp {
		st.count++
	} else {
		st = poisonState{fingerprint: fp, count: 1}
	}
	e.poison[runID] = st
	return st.count >= poisonThreshold
}

func (e *Executor) forgetPoison(runID string) {
	e.poisonMu.Lock()
	defer e.poisonMu.Unlock()
	delete(e.poison, runID)
}
