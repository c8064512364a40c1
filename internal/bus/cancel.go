package bus

import "sync/atomic"

// Reason names why a CancellationHandle fired.
type Reason string

const (
	ReasonInterrupt Reason = "interrupt"
	ReasonRollback  Reason = "rollback"
)

// CancellationHandle is a single-shot signal carrying a reason. Fire is
// idempotent: only the first call sets the reason, matching the spec's
// "single-shot signal" wording.
type CancellationHandle struct {
	ch     chan struct{}
	fired  atomic.Bool
	reason atomic.Value // Reason
}

// NewCancellationHandle creates an unfired handle.
func NewCancellationHandle() *CancellationHandle {
	return &CancellationHandle{ch: make(chan struct{})}
}

// Fire signals cancellation with reason. Only the first call has effect.
func (h *CancellationHandle) Fire(reason Reason) {
	if h.fired.CompareAndSwap(false, true) {
		h.reason.Store(reason)
		close(h.ch)
	}
}

// Done returns a channel that is closed once Fire has been called.
func (h *CancellationHandle) Done() <-chan struct{} {
	return h.ch
}

// Fired reports whether Fire has already been called.
func (h *CancellationHandle) Fired() bool {
	return h.fired.Load()
}

// Reason returns the fired reason, or ok=false if not yet fired.
func (h *CancellationHandle) Reason() (reason Reason, ok bool) {
	v := h.reason.Load()
	if v == nil {
		return "", false
	}
	return v.(Reason), true
}
