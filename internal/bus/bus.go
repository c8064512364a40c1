// Package bus implements the per-run Stream Bus: a FIFO queue of stream
// events plus a cancellation handle per run, connecting the Run Executor's
// output to HTTP subscribers.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// lockEntry pairs a cancellation handle with the time it was acquired, so
// the scheduler's lease sweep can detect an executor that died without
// unlocking.
type lockEntry struct {
	handle     *CancellationHandle
	acquiredAt time.Time
}

// Bus holds one Queue and at most one CancellationHandle per run.
type Bus struct {
	mu      sync.Mutex
	queues  map[string]*Queue
	handles map[string]lockEntry
	logger  *slog.Logger
}

// New creates an empty Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queues:  make(map[string]*Queue),
		handles: make(map[string]lockEntry),
		logger:  logger,
	}
}

// Queue returns the run's queue, creating it on first access.
func (b *Bus) Queue(runID string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(runID)
}

func (b *Bus) queueLocked(runID string) *Queue {
	q, ok := b.queues[runID]
	if !ok {
		q = NewQueue()
		b.queues[runID] = q
	}
	return q
}

// Lock creates a cancellation handle for run_id. If one already exists it
// is overwritten and a warning logged — the caller (the picker) must never
// observe two in-flight executors for the same run, so an overwrite here
// means a previous executor failed to Unlock and is a bug worth surfacing.
func (b *Bus) Lock(runID string) *CancellationHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handles[runID]; exists {
		b.logger.Warn("bus: overwriting existing cancellation handle", "run_id", runID)
	}
	h := NewCancellationHandle()
	b.handles[runID] = lockEntry{handle: h, acquiredAt: time.Now()}
	return h
}

// Unlock removes run_id's cancellation handle.
func (b *Bus) Unlock(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, runID)
}

// IsLocked reports whether run_id currently has an active handle.
func (b *Bus) IsLocked(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handles[runID]
	return ok
}

// GetControl returns run_id's cancellation handle, if any.
func (b *Bus) GetControl(runID string) (*CancellationHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.handles[runID]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// LockedSince reports when run_id's lock was acquired, if it is currently
// held. The scheduler's lease sweep uses this to find an executor that died
// without calling Unlock.
func (b *Bus) LockedSince(runID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.handles[runID]
	if !ok {
		return time.Time{}, false
	}
	return entry.acquiredAt, true
}

// LockedRunIDs returns the run ids currently holding a lock, for the
// scheduler's lease sweep to iterate without reaching into Bus internals.
func (b *Bus) LockedRunIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.handles))
	for id := range b.handles {
		ids = append(ids, id)
	}
	return ids
}

// Publish pushes a payload event onto run_id's queue under subtopic.
func (b *Bus) Publish(runID, subtopic string, data any) {
	b.Queue(runID).Push(Message{Topic: StreamTopic(runID, subtopic), Data: data})
}

// PublishControl pushes a control message onto run_id's queue.
func (b *Bus) PublishControl(runID string, data any) {
	b.Queue(runID).Push(Message{Topic: ControlTopic(runID), Data: data})
}

// PublishDone pushes the control:done sentinel that terminates subscribers.
func (b *Bus) PublishDone(runID string) {
	b.PublishControl(runID, ControlDone)
}

// Forget drops the bus's map entry for a run's queue (called by the
// executor after a run reaches a terminal status and control:done has been
// published). A *Queue already held by a subscriber keeps working; a later
// Queue call for the same run creates a new, empty queue.
func (b *Bus) Forget(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, runID)
}
