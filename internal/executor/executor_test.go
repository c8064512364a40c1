package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/checkpoint"
	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

// fakeGraph lets each test control Stream's outcome directly.
type fakeGraph struct {
	streamErr error
	chunks    <-chan graphs.StreamChunk
}

func (g *fakeGraph) Invoke(ctx context.Context, input map[string]any, cfg model.Config) (map[string]any, error) {
	return input, nil
}
func (g *fakeGraph) Stream(ctx context.Context, inputOrCommand map[string]any, cfg model.Config, streamModes []string) (<-chan graphs.StreamChunk, error) {
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	return g.chunks, nil
}
func (g *fakeGraph) GetState(ctx context.Context, cfg model.Config, opts graphs.StateOptions) (graphs.StateSnapshot, error) {
	return graphs.StateSnapshot{}, nil
}
func (g *fakeGraph) UpdateState(ctx context.Context, cfg model.Config, values map[string]any, asNode string) (model.CheckpointRef, error) {
	return model.CheckpointRef{}, nil
}
func (g *fakeGraph) BulkUpdateState(ctx context.Context, cfg model.Config, supersteps []graphs.Superstep) (graphs.StateSnapshot, error) {
	return graphs.StateSnapshot{}, nil
}
func (g *fakeGraph) GetStateHistory(ctx context.Context, cfg model.Config, opts graphs.HistoryOptions) ([]graphs.StateSnapshot, error) {
	return nil, nil
}

type testEnv struct {
	store *store.Store
	bus   *bus.Bus
	exec  *Executor
}

func newTestEnv(t *testing.T, g graphs.Graph) testEnv {
	t.Helper()
	s, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	b := bus.New(nil)
	registry := graphs.NewRegistry()
	registry.Register("fake", func() graphs.Graph { return g })
	checkpoints := checkpoint.NewProxy(checkpoint.NewMemStore())
	exec := New(s, b, checkpoints, registry, nil, DefaultMaxAttempts, nil, nil, nil)
	return testEnv{store: s, bus: b, exec: exec}
}

func (env testEnv) createRun(t *testing.T) *model.Run {
	t.Helper()
	ctx := context.Background()
	a, err := env.store.PutAssistant(ctx, store.PutAssistantInput{GraphID: "fake"})
	if err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}
	th, err := env.store.PutThread(ctx, store.PutThreadInput{})
	if err != nil {
		t.Fatalf("PutThread: %v", err)
	}
	result, err := env.store.CreateRun(ctx, store.CreateRunInput{AssistantID: a.AssistantID, ThreadID: th.ThreadID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return result.NewRun
}

func TestExecute_CompletesSuccessfully(t *testing.T) {
	chunks := make(chan graphs.StreamChunk, 1)
	chunks <- graphs.StreamChunk{Mode: "values", Data: map[string]any{"a": 1}}
	close(chunks)

	env := newTestEnv(t, &fakeGraph{chunks: chunks})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: 1, Cancel: handle})

	got, err := env.store.GetRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunSuccess {
		t.Fatalf("Status = %v, want RunSuccess", got.Status)
	}
	if env.bus.IsLocked(run.RunID) {
		t.Fatal("Execute did not unlock the run on completion")
	}
}

func TestExecute_FailsOnNonTransientStreamError(t *testing.T) {
	env := newTestEnv(t, &fakeGraph{streamErr: storeerr.NewBadRequest("bad input")})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: 1, Cancel: handle})

	got, err := env.store.GetRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunError {
		t.Fatalf("Status = %v, want RunError", got.Status)
	}
}

func TestExecute_RetriesTransientStreamError(t *testing.T) {
	env := newTestEnv(t, &fakeGraph{streamErr: storeerr.WrapTransient(errors.New("connection reset"))})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: 1, Cancel: handle})

	got, err := env.store.GetRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunPending {
		t.Fatalf("Status = %v, want RunPending (rescheduled for retry)", got.Status)
	}
}

func TestExecute_ExhaustsAttemptsThenFails(t *testing.T) {
	env := newTestEnv(t, &fakeGraph{streamErr: storeerr.WrapTransient(errors.New("connection reset"))})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: DefaultMaxAttempts + 1, Cancel: handle})

	got, err := env.store.GetRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunError {
		t.Fatalf("Status = %v, want RunError once attempts are exhausted", got.Status)
	}
}

func TestExecute_InterruptCancellationSetsInterruptedStatus(t *testing.T) {
	chunks := make(chan graphs.StreamChunk)
	env := newTestEnv(t, &fakeGraph{chunks: chunks})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	done := make(chan struct{})
	go func() {
		env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: 1, Cancel: handle})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	handle.Fire(bus.ReasonInterrupt)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation was fired")
	}

	got, err := env.store.GetRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunInterrupted {
		t.Fatalf("Status = %v, want RunInterrupted", got.Status)
	}
}

func TestExecute_RollbackCancellationDeletesRun(t *testing.T) {
	chunks := make(chan graphs.StreamChunk)
	env := newTestEnv(t, &fakeGraph{chunks: chunks})
	run := env.createRun(t)
	handle := env.bus.Lock(run.RunID)

	done := make(chan struct{})
	go func() {
		env.exec.Execute(context.Background(), store.PickedRun{Run: run, Attempt: 1, Cancel: handle})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	handle.Fire(bus.ReasonRollback)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation was fired")
	}

	if _, err := env.store.GetRun(context.Background(), run.RunID, ""); storeerr.KindOf(err) != storeerr.KindNotFound {
		t.Fatal("rollback cancellation should have deleted the run")
	}
}
