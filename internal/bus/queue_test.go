package bus

import (
	"context"
	"testing"
	"time"

	"github.com/basket/graphrun/internal/storeerr"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Message{Topic: "a", Data: 1})
	q.Push(Message{Topic: "b", Data: 2})
	q.Push(Message{Topic: "c", Data: 3})

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.Get(ctx, nil, 0)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if msg.Topic != want {
			t.Fatalf("Topic = %q, want %q", msg.Topic, want)
		}
	}
}

func TestQueue_GetBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	done := make(chan Message, 1)
	go func() {
		msg, err := q.Get(context.Background(), nil, time.Second)
		if err != nil {
			t.Error(err)
			return
		}
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Message{Topic: "late", Data: nil})

	select {
	case msg := <-done:
		if msg.Topic != "late" {
			t.Fatalf("Topic = %q, want %q", msg.Topic, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Push")
	}
}

func TestQueue_GetTimesOut(t *testing.T) {
	q := NewQueue()
	_, err := q.Get(context.Background(), nil, 10*time.Millisecond)
	if storeerr.KindOf(err) != storeerr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout", storeerr.KindOf(err))
	}
}

func TestQueue_GetCancelled(t *testing.T) {
	q := NewQueue()
	cancel := make(chan struct{})
	close(cancel)

	_, err := q.Get(context.Background(), cancel, 0)
	if storeerr.KindOf(err) != storeerr.KindCancelled {
		t.Fatalf("KindOf(err) = %v, want KindCancelled", storeerr.KindOf(err))
	}
}

func TestQueue_GetContextDone(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Get(ctx, nil, 0)
	if storeerr.KindOf(err) != storeerr.KindCancelled {
		t.Fatalf("KindOf(err) = %v, want KindCancelled", storeerr.KindOf(err))
	}
}

func TestQueue_Len(t *testing.T) {
	q := NewQueue()
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
	q.Push(Message{Topic: "a"})
	q.Push(Message{Topic: "b"})
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	if _, err := q.Get(context.Background(), nil, 0); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len after one Get = %d, want 1", q.Len())
	}
}
