package bus

import (
	"context"
	"testing"
	"time"
)

func TestBus_LockUnlockIsLocked(t *testing.T) {
	b := New(nil)
	const runID = "run-1"

	if b.IsLocked(runID) {
		t.Fatal("new bus reports run locked")
	}

	h := b.Lock(runID)
	if !b.IsLocked(runID) {
		t.Fatal("Lock did not mark run locked")
	}
	got, ok := b.GetControl(runID)
	if !ok || got != h {
		t.Fatalf("GetControl = %v, %v, want %v, true", got, ok, h)
	}

	b.Unlock(runID)
	if b.IsLocked(runID) {
		t.Fatal("Unlock did not release lock")
	}
	if _, ok := b.GetControl(runID); ok {
		t.Fatal("GetControl found a handle after Unlock")
	}
}

func TestBus_LockOverwriteWarns(t *testing.T) {
	b := New(nil)
	const runID = "run-1"

	first := b.Lock(runID)
	second := b.Lock(runID)

	if first == second {
		t.Fatal("second Lock returned the same handle")
	}
	got, _ := b.GetControl(runID)
	if got != second {
		t.Fatal("GetControl did not return the overwriting handle")
	}
}

func TestBus_LockedSinceAndRunIDs(t *testing.T) {
	b := New(nil)
	before := time.Now()
	b.Lock("run-a")
	b.Lock("run-b")

	since, ok := b.LockedSince("run-a")
	if !ok {
		t.Fatal("LockedSince reported not locked for a held lock")
	}
	if since.Before(before) {
		t.Fatal("LockedSince returned a time before Lock was called")
	}

	ids := b.LockedRunIDs()
	if len(ids) != 2 {
		t.Fatalf("LockedRunIDs returned %d ids, want 2", len(ids))
	}
}

func TestBus_PublishAndQueueGet(t *testing.T) {
	b := New(nil)
	const runID = "run-1"

	b.Publish(runID, "values", map[string]any{"x": 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Queue(runID).Get(ctx, nil, 0)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if msg.Topic != StreamTopic(runID, "values") {
		t.Fatalf("Topic = %q, want %q", msg.Topic, StreamTopic(runID, "values"))
	}
}

func TestBus_PublishDoneTerminatesWithControlTopic(t *testing.T) {
	b := New(nil)
	const runID = "run-1"

	b.PublishDone(runID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Queue(runID).Get(ctx, nil, 0)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if msg.Topic != ControlTopic(runID) {
		t.Fatalf("Topic = %q, want %q", msg.Topic, ControlTopic(runID))
	}
	if msg.Data != ControlDone {
		t.Fatalf("Data = %v, want %q", msg.Data, ControlDone)
	}
}

func TestBus_Forget(t *testing.T) {
	b := New(nil)
	const runID = "run-1"

	b.Publish(runID, "values", 1)
	b.Forget(runID)

	// A fresh Queue() call after Forget creates a new, empty queue.
	if n := b.Queue(runID).Len(); n != 0 {
		t.Fatalf("queue length after Forget = %d, want 0", n)
	}
}
