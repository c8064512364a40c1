// Package waiter implements Join/Wait (spec 4.E): subscribing to a run's
// Stream Bus queue and consuming it until completion, disconnect, or
// cancellation. Grounded on the same check-terminal-then-wait idiom used
// elsewhere in the reference pack for joining on background work.
package waiter

import (
	"context"
	"time"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

// pollCycle bounds how long Join blocks on an empty queue before
// re-checking whether the run has left a non-terminal state.
const pollCycle = 2 * time.Second

// Event is one message yielded by Join.
type Event struct {
	Topic string
	Data  any
	Err   error
}

// JoinOptions configures Join.
type JoinOptions struct {
	Ignore404         bool
	CancelOnDisconnect <-chan struct{}
}

// Waiter subscribes callers to a run's stream and, on disconnect, cancels
// the run when the thread id is known.
type Waiter struct {
	bus   *bus.Bus
	store *store.Store
}

// New wires a Waiter.
func New(b *bus.Bus, s *store.Store) *Waiter {
	return &Waiter{bus: b, store: s}
}

// Join subscribes to run_id's queue (creating it if absent) and returns a
// channel yielding events until a control:done message, the run leaves a
// non-terminal state with an otherwise silent queue, or the cancel token
// fires. The returned channel is closed when Join is done producing.
func (w *Waiter) Join(ctx context.Context, runID, threadID string, opts JoinOptions) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		if threadID != "" {
			if _, err := w.store.GetRun(ctx, runID, threadID); err != nil {
				if opts.Ignore404 && storeerr.KindOf(err) == storeerr.KindNotFound {
					return
				}
				out <- Event{Err: err}
				return
			}
		}

		q := w.bus.Queue(runID)
		cancelCh := opts.CancelOnDisconnect
		if cancelCh == nil {
			cancelCh = make(chan struct{})
		}

		for {
			msg, err := q.Get(ctx, cancelCh, pollCycle)
			if err != nil {
				switch storeerr.KindOf(err) {
				case storeerr.KindCancelled:
					if ctx.Err() != nil {
						return
					}
					// Subscriber disconnected: cancel the run with
					// interrupt when we know which thread it lives on.
					if threadID != "" {
						_ = w.store.CancelRuns(context.Background(), w.bus, threadID, []string{runID}, model.CancelInterrupt)
					}
					return
				case storeerr.KindTimeout:
					if w.runLeftNonTerminal(ctx, runID) {
						return
					}
					continue
				default:
					out <- Event{Err: err}
					return
				}
			}

			out <- Event{Topic: msg.Topic, Data: msg.Data}

			if msg.Topic == bus.ControlTopic(runID) && msg.Data == bus.ControlDone {
				return
			}
		}
	}()

	return out
}

// runLeftNonTerminal reports whether run_id now sits in a terminal status
// with nothing left on its queue — the safety valve for a run that exited
// without publishing control:done.
func (w *Waiter) runLeftNonTerminal(ctx context.Context, runID string) bool {
	run, err := w.store.GetRun(ctx, runID, "")
	if err != nil {
		return true
	}
	switch run.Status {
	case model.RunSuccess, model.RunError, model.RunTimeout, model.RunInterrupted:
		return true
	default:
		return false
	}
}

// Wait consumes the Join stream, keeping the last values event and
// rewriting error events to {__error__: <serialised>}, returning that
// final value.
func Wait(ctx context.Context, w *Waiter, runID, threadID string) (map[string]any, error) {
	errTopic := bus.StreamTopic(runID, "error")
	controlTopic := bus.ControlTopic(runID)

	var last map[string]any
	for ev := range w.Join(ctx, runID, threadID, JoinOptions{}) {
		if ev.Err != nil {
			return nil, ev.Err
		}
		switch ev.Topic {
		case controlTopic:
			continue
		case errTopic:
			last = map[string]any{"__error__": ev.Data}
		default:
			if values, ok := ev.Data.(map[string]any); ok {
				last = values
			}
		}
	}
	return last, nil
}

// JoinOrCurrentValues first ensures the thread exists, then returns Wait's
// result, or, if nil, the thread's current values (spec: "join(run_id,
// thread_id) first ensures thread exists, then returns wait(...) or, if
// null, the thread's current values").
func JoinOrCurrentValues(ctx context.Context, w *Waiter, runID, threadID string) (map[string]any, error) {
	thread, err := w.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	values, err := Wait(ctx, w, runID, threadID)
	if err != nil {
		return nil, err
	}
	if values != nil {
		return values, nil
	}
	return thread.Values, nil
}
