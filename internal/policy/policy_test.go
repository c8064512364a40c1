package policy

import (
	"context"
	"testing"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

func setup(t *testing.T) (*store.Store, *bus.Bus, *Applier, string, string) {
	t.Helper()
	s, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	b := bus.New(nil)
	ctx := context.Background()

	a, err := s.PutAssistant(ctx, store.PutAssistantInput{GraphID: "echo"})
	if err != nil {
		t.Fatalf("PutAssistant: %v", err)
	}
	th, err := s.PutThread(ctx, store.PutThreadInput{})
	if err != nil {
		t.Fatalf("PutThread: %v", err)
	}
	return s, b, NewApplier(s, b), a.AssistantID, th.ThreadID
}

func TestPreventInsert_OnlyRejectRequiresIt(t *testing.T) {
	cases := map[model.MultitaskStrategy]bool{
		model.StrategyReject:    true,
		model.StrategyEnqueue:   false,
		model.StrategyInterrupt: false,
		model.StrategyRollback:  false,
	}
	for strategy, want := range cases {
		if got := PreventInsert(strategy); got != want {
			t.Errorf("PreventInsert(%v) = %v, want %v", strategy, got, want)
		}
	}
}

func TestApply_RejectConflictsWhenInflightExists(t *testing.T) {
	s, _, applier, assistantID, threadID := setup(t)
	ctx := context.Background()

	s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})

	result, err := s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID, PreventInsertInInflight: PreventInsert(model.StrategyReject)})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	_, err = applier.Apply(ctx, result, model.StrategyReject)
	if storeerr.KindOf(err) != storeerr.KindConflict {
		t.Fatalf("KindOf(err) = %v, want KindConflict", storeerr.KindOf(err))
	}
}

func TestApply_EnqueueAlwaysReturnsNewRun(t *testing.T) {
	s, _, applier, assistantID, threadID := setup(t)
	ctx := context.Background()

	s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})
	result, err := s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := applier.Apply(ctx, result, model.StrategyEnqueue)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.RunID != result.NewRun.RunID {
		t.Fatalf("got.RunID = %q, want %q", got.RunID, result.NewRun.RunID)
	}
}

func TestApply_InterruptCancelsInflightRuns(t *testing.T) {
	s, _, applier, assistantID, threadID := setup(t)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})
	if err != nil {
		t.Fatalf("CreateRun (first): %v", err)
	}
	result, err := s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})
	if err != nil {
		t.Fatalf("CreateRun (second): %v", err)
	}

	got, err := applier.Apply(ctx, result, model.StrategyInterrupt)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.RunID != result.NewRun.RunID {
		t.Fatalf("got.RunID = %q, want the new run", got.RunID)
	}

	interrupted, err := s.GetRun(ctx, first.NewRun.RunID, "")
	if err != nil {
		t.Fatalf("GetRun(first): %v", err)
	}
	if interrupted.Status != model.RunInterrupted {
		t.Fatalf("first.Status = %v, want RunInterrupted", interrupted.Status)
	}
}

func TestApply_RollbackWithNoInflightIsANoop(t *testing.T) {
	s, _, applier, assistantID, threadID := setup(t)
	ctx := context.Background()

	result, err := s.CreateRun(ctx, store.CreateRunInput{AssistantID: assistantID, ThreadID: threadID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := applier.Apply(ctx, result, model.StrategyRollback)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.RunID != result.NewRun.RunID {
		t.Fatalf("got.RunID = %q, want the new (only) run", got.RunID)
	}
}
