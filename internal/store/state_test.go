package store

import (
	"context"
	"testing"

	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/graphs/echo"
	"github.com/basket/graphrun/internal/storeerr"
)

func newTestRegistry() *graphs.Registry {
	r := graphs.NewRegistry()
	r.Register("echo", echo.New)
	return r
}

func newGraphThread(t *testing.T, s *Store) string {
	t.Helper()
	th, err := s.PutThread(context.Background(), PutThreadInput{Metadata: map[string]any{"graph_id": "echo"}})
	if err != nil {
		t.Fatalf("PutThread: %v", err)
	}
	return th.ThreadID
}

func TestStateGet_NoGraphIDIsBadRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th, _ := s.PutThread(ctx, PutThreadInput{})

	_, err := s.StateGet(ctx, newTestRegistry(), th.ThreadID, false)
	if storeerr.KindOf(err) != storeerr.KindBadRequest {
		t.Fatalf("KindOf(err) = %v, want KindBadRequest", storeerr.KindOf(err))
	}
}

func TestStatePost_WritesBackIntoThreadValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registry := newTestRegistry()
	threadID := newGraphThread(t, s)

	if _, err := s.StatePost(ctx, registry, threadID, map[string]any{"x": 1}, ""); err != nil {
		t.Fatalf("StatePost: %v", err)
	}

	th, err := s.GetThread(ctx, threadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.Values["x"] != 1 {
		t.Fatalf("Values = %+v, want x=1 written back from StatePost", th.Values)
	}
}

func TestStateBatch_AppliesAllSuperstepsAndWritesBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registry := newTestRegistry()
	threadID := newGraphThread(t, s)

	got, err := s.StateBatch(ctx, registry, threadID, []graphs.Superstep{
		{Values: map[string]any{"a": 1}},
		{Values: map[string]any{"b": 2}},
	})
	if err != nil {
		t.Fatalf("StateBatch: %v", err)
	}
	if got.Values["a"] != 1 || got.Values["b"] != 2 {
		t.Fatalf("thread.Values = %+v, want both a and b", got.Values)
	}
}

func TestStateList_NoGraphIDReturnsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th, _ := s.PutThread(ctx, PutThreadInput{})

	got, err := s.StateList(ctx, newTestRegistry(), th.ThreadID, graphs.HistoryOptions{})
	if err != nil {
		t.Fatalf("StateList: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got = %+v, want empty slice for a thread with no graph_id", got)
	}
}

func TestStateList_ReturnsHistoryForGraphThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registry := newTestRegistry()
	threadID := newGraphThread(t, s)
	s.StatePost(ctx, registry, threadID, map[string]any{"x": 1}, "")

	got, err := s.StateList(ctx, registry, threadID, graphs.HistoryOptions{})
	if err != nil {
		t.Fatalf("StateList: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got = %+v, want one history entry", got)
	}
}
