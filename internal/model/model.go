// Package model defines the aggregate types persisted by the store:
// assistants, assistant versions, threads, and runs. Retry counters are
// kept as a plain map in store.Document and have no type here.
package model

import (
	"encoding/json"
	"time"
)

// ThreadStatus is the derived status of a Thread.
type ThreadStatus string

const (
	ThreadIdle        ThreadStatus = "idle"
	ThreadBusy        ThreadStatus = "busy"
	ThreadInterrupted ThreadStatus = "interrupted"
	ThreadError       ThreadStatus = "error"
)

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunError       RunStatus = "error"
	RunSuccess     RunStatus = "success"
	RunTimeout     RunStatus = "timeout"
	RunInterrupted RunStatus = "interrupted"
)

// MultitaskStrategy governs how a new run is admitted against a busy thread.
type MultitaskStrategy string

const (
	StrategyReject    MultitaskStrategy = "reject"
	StrategyRollback  MultitaskStrategy = "rollback"
	StrategyInterrupt MultitaskStrategy = "interrupt"
	StrategyEnqueue   MultitaskStrategy = "enqueue"
)

// IfExists governs put() behavior when a resource with the same id exists.
type IfExists string

const (
	IfExistsRaise    IfExists = "raise"
	IfExistsDoNothing IfExists = "do_nothing"
)

// IfNotExists governs run creation when the named thread is absent.
type IfNotExists string

const (
	IfNotExistsReject IfNotExists = "reject"
	IfNotExistsCreate IfNotExists = "create"
)

// CancelAction names why a run is being cancelled.
type CancelAction string

const (
	CancelInterrupt CancelAction = "interrupt"
	CancelRollback  CancelAction = "rollback"
)

// Config is the arbitrary structured configuration carried by assistants,
// threads, and runs, with a reserved "configurable" sub-mapping that the
// run-creation algorithm deep-merges layer over layer. Any other top-level
// key (recursion_limit, tags, run_name, ...) is preserved verbatim in Extra
// so it round-trips through decode/merge/encode instead of being dropped.
type Config struct {
	Configurable map[string]any `json:"configurable,omitempty"`
	Extra        map[string]any `json:"-"`
}

// MarshalJSON flattens Extra back alongside configurable, so arbitrary
// caller-supplied top-level keys survive a store round-trip.
func (c Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+1)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Configurable != nil {
		out["configurable"] = c.Configurable
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the reserved configurable sub-mapping from every
// other top-level key, which is captured into Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if cfgRaw, ok := raw["configurable"]; ok {
		if err := json.Unmarshal(cfgRaw, &c.Configurable); err != nil {
			return err
		}
		delete(raw, "configurable")
	}
	if len(raw) == 0 {
		c.Extra = nil
		return nil
	}
	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}
	c.Extra = extra
	return nil
}

// Assistant is a named, versioned binding of a graph to a default
// configuration.
type Assistant struct {
	AssistantID string         `json:"assistant_id"`
	GraphID     string         `json:"graph_id"`
	Version     int            `json:"version"`
	Config      Config         `json:"config"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Name        string         `json:"name"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AssistantVersion is an immutable snapshot of an Assistant at a point in
// time; a new one is created on every mutating patch.
type AssistantVersion struct {
	AssistantID string         `json:"assistant_id"`
	Version     int            `json:"version"`
	GraphID     string         `json:"graph_id"`
	Config      Config         `json:"config"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Name        string         `json:"name"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Thread is a durable conversation-style state container whose status is a
// derived projection over its latest checkpoint and pending runs.
type Thread struct {
	ThreadID   string              `json:"thread_id"`
	Status     ThreadStatus        `json:"status"`
	Config     Config              `json:"config"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	Values     map[string]any      `json:"values,omitempty"`
	Interrupts map[string]any      `json:"interrupts,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// RunKwargs carries the execution arguments for a run. Modeled as a typed
// struct rather than an untyped map, while remaining JSON-serializable for
// persistence and for the HTTP boundary.
type RunKwargs struct {
	Input            map[string]any `json:"input,omitempty"`
	Command          map[string]any `json:"command,omitempty"`
	StreamModes      []string       `json:"stream_modes,omitempty"`
	InterruptBefore  []string       `json:"interrupt_before,omitempty"`
	InterruptAfter   []string       `json:"interrupt_after,omitempty"`
	Config           Config         `json:"config"`
}

// Run is one execution of an assistant against a thread.
type Run struct {
	RunID              string            `json:"run_id"`
	ThreadID           string            `json:"thread_id"`
	AssistantID        string            `json:"assistant_id"`
	Status             RunStatus         `json:"status"`
	Kwargs             RunKwargs         `json:"kwargs"`
	MultitaskStrategy  MultitaskStrategy `json:"multitask_strategy"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// CheckpointRef addresses a persisted checkpoint. Storage is owned entirely
// by the injected checkpointer; the core never inspects the payload.
type CheckpointRef struct {
	ThreadID      string `json:"thread_id"`
	CheckpointNS  string `json:"checkpoint_ns"`
	CheckpointID  string `json:"checkpoint_id"`
}

// CheckpointPayload is the subset of a checkpoint the core reads: values for
// thread-state projection, outstanding tasks for interrupt derivation, and
// a non-empty Next to signal the run is interrupted awaiting input.
type CheckpointPayload struct {
	Ref    CheckpointRef  `json:"ref"`
	Values map[string]any `json:"values,omitempty"`
	Next   []string       `json:"next,omitempty"`
	Tasks  []TaskInterrupt `json:"tasks,omitempty"`
}

// TaskInterrupt is one outstanding interrupt keyed by task id, folded into
// Thread.Interrupts by setStatus.
type TaskInterrupt struct {
	TaskID      string `json:"task_id"`
	Interrupts  any    `json:"interrupts"`
}
