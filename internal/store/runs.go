package store

import (
	"context"
	"sort"
	"time"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/google/uuid"
)

// CreateRunInput is the input to CreateRun (spec 4.E Creation, steps 1-8).
type CreateRunInput struct {
	RunID                   string
	AssistantID             string
	ThreadID                string
	Kwargs                  model.RunKwargs
	MultitaskStrategy       model.MultitaskStrategy
	IfNotExists             model.IfNotExists
	PreventInsertInInflight bool
	AfterSeconds            int
	Metadata                map[string]any
	UserID                  string
}

// CreateRunResult is [new_run, ...inflight] per spec step 8, with NewRun nil
// when step 5 short-circuits insertion.
type CreateRunResult struct {
	NewRun   *model.Run
	Inflight []*model.Run
}

// CreateRun implements the run-creation algorithm. It does not itself apply
// the multitask strategy to the returned inflight list — that is the HTTP
// boundary's job, per spec 4.E.
func (s *Store) CreateRun(ctx context.Context, in CreateRunInput) (*CreateRunResult, error) {
	return Apply(s, func(doc *Document) (*CreateRunResult, error) {
		assistant, ok := doc.Assistants[in.AssistantID]
		if !ok {
			return nil, storeerr.NewNotFound("assistant", in.AssistantID)
		}

		thread, err := resolveRunThread(doc, in, assistant)
		if err != nil {
			return nil, err
		}

		inflight := inflightRuns(doc, thread.ThreadID)

		if in.PreventInsertInInflight && len(inflight) > 0 {
			return &CreateRunResult{Inflight: inflight}, nil
		}

		configurable := deepMergeConfigurable(
			assistant.Config.Configurable,
			thread.Config.Configurable,
			in.Kwargs.Config.Configurable,
			map[string]any{
				"run_id":       "", // filled in after id allocation below
				"thread_id":    thread.ThreadID,
				"graph_id":     assistant.GraphID,
				"assistant_id": assistant.AssistantID,
				"user_id":      in.UserID,
			},
		)
		extra := deepMergeConfigurable(assistant.Config.Extra, thread.Config.Extra, in.Kwargs.Config.Extra)

		runID := in.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		configurable["run_id"] = runID

		kwargs := in.Kwargs
		kwargs.Config.Configurable = configurable
		kwargs.Config.Extra = extra

		now := time.Now().UTC().Add(time.Duration(in.AfterSeconds) * time.Second)
		run := &model.Run{
			RunID:             runID,
			ThreadID:          thread.ThreadID,
			AssistantID:       assistant.AssistantID,
			Status:            model.RunPending,
			Kwargs:            kwargs,
			MultitaskStrategy: in.MultitaskStrategy,
			Metadata:          in.Metadata,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		doc.Runs[runID] = run

		return &CreateRunResult{NewRun: run, Inflight: inflight}, nil
	})
}

func resolveRunThread(doc *Document, in CreateRunInput, assistant *model.Assistant) (*model.Thread, error) {
	if in.ThreadID != "" {
		if t, ok := doc.Threads[in.ThreadID]; ok {
			if t.Status != model.ThreadBusy {
				t.Status = model.ThreadBusy
				t.Config.Configurable = deepMergeConfigurable(t.Config.Configurable, assistant.Config.Configurable, in.Kwargs.Config.Configurable)
				t.Config.Extra = deepMergeConfigurable(t.Config.Extra, assistant.Config.Extra, in.Kwargs.Config.Extra)
				t.UpdatedAt = time.Now().UTC()
			}
			return t, nil
		}
	}

	ifNotExists := in.IfNotExists
	if ifNotExists == "" {
		ifNotExists = model.IfNotExistsReject
	}
	if ifNotExists == model.IfNotExistsReject {
		return nil, storeerr.NewNotFound("thread", in.ThreadID)
	}

	id := in.ThreadID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	t := &model.Thread{
		ThreadID: id,
		Status:   model.ThreadBusy,
		Metadata: map[string]any{
			"graph_id":     assistant.GraphID,
			"assistant_id": assistant.AssistantID,
		},
		Config: model.Config{
			Configurable: deepMergeConfigurable(assistant.Config.Configurable, in.Kwargs.Config.Configurable),
			Extra:        deepMergeConfigurable(assistant.Config.Extra, in.Kwargs.Config.Extra),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Threads[id] = t
	return t, nil
}

func inflightRuns(doc *Document, threadID string) []*model.Run {
	var out []*model.Run
	for _, r := range doc.Runs {
		if r.ThreadID == threadID && r.Status == model.RunPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// deepMergeConfigurable merges maps left-to-right; later maps override
// earlier ones, recursing into nested map[string]any values. Used for both
// Config.Configurable and Config.Extra, which share the same merge rule.
func deepMergeConfigurable(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			if existing, ok := out[k]; ok {
				em, eok := existing.(map[string]any)
				nm, nok := v.(map[string]any)
				if eok && nok {
					out[k] = deepMergeConfigurable(em, nm)
					continue
				}
			}
			out[k] = v
		}
	}
	return out
}

// GetRun returns run_id. A non-empty threadID additionally requires the run
// to belong to that thread; a mismatch is reported as NotFound.
func (s *Store) GetRun(ctx context.Context, runID string, threadID string) (*model.Run, error) {
	return Apply(s, func(doc *Document) (*model.Run, error) {
		return lookupRun(doc, runID, threadID)
	})
}

func lookupRun(doc *Document, runID, threadID string) (*model.Run, error) {
	r, ok := doc.Runs[runID]
	if !ok {
		return nil, storeerr.NewNotFound("run", runID)
	}
	if threadID != "" && r.ThreadID != threadID {
		return nil, storeerr.NewNotFound("run", runID)
	}
	return r, nil
}

// DeleteRun removes the run; checkpoint cascade is the caller's
// responsibility via the injected Checkpointer.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := Apply(s, func(doc *Document) (struct{}, error) {
		if _, ok := doc.Runs[runID]; !ok {
			return struct{}{}, storeerr.NewNotFound("run", runID)
		}
		delete(doc.Runs, runID)
		delete(doc.RetryCounters, runID)
		return struct{}{}, nil
	})
	return err
}

// SetRunStatus updates a run's status and updated_at.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) (*model.Run, error) {
	return Apply(s, func(doc *Document) (*model.Run, error) {
		r, ok := doc.Runs[runID]
		if !ok {
			return nil, storeerr.NewNotFound("run", runID)
		}
		r.Status = status
		r.UpdatedAt = time.Now().UTC()
		return r, nil
	})
}

// RescheduleRun sets a run back to pending with created_at pushed out by
// delay, used by the executor's retry path.
func (s *Store) RescheduleRun(ctx context.Context, runID string, delay time.Duration) (*model.Run, error) {
	return Apply(s, func(doc *Document) (*model.Run, error) {
		r, ok := doc.Runs[runID]
		if !ok {
			return nil, storeerr.NewNotFound("run", runID)
		}
		r.Status = model.RunPending
		r.CreatedAt = time.Now().UTC().Add(delay)
		r.UpdatedAt = time.Now().UTC()
		return r, nil
	})
}

// SearchRunsInput filters SearchRuns.
type SearchRunsInput struct {
	ThreadID string
	Status   model.RunStatus
	Limit    int
	Offset   int
}

// SearchRuns returns runs on a thread matching status, newest-first.
func (s *Store) SearchRuns(ctx context.Context, in SearchRunsInput) ([]*model.Run, error) {
	return Apply(s, func(doc *Document) ([]*model.Run, error) {
		matches := make([]*model.Run, 0)
		for _, r := range doc.Runs {
			if in.ThreadID != "" && r.ThreadID != in.ThreadID {
				continue
			}
			if in.Status != "" && r.Status != in.Status {
				continue
			}
			matches = append(matches, r)
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
		return paginate(matches, in.Limit, in.Offset), nil
	})
}

// PickedRun is one item yielded by PickPending: a run ready to execute, its
// attempt count after incrementing the retry counter, and its newly
// acquired cancellation handle.
type PickedRun struct {
	Run     *model.Run
	Attempt int
	Cancel  *bus.CancellationHandle
}

// PickPending implements the picker (spec 4.E): under the persistence
// lock, collects eligible pending runs sorted by created_at (ties by
// run_id), and for each not already locked in the Stream Bus, acquires its
// cancellation handle and increments its retry counter.
//
// The spec models this as an async generator that yields one run at a time
// while holding the lock for the generator's lifetime; that pattern has no
// clean Go equivalent that does not block all other Persistence access for
// the duration of dispatch. This implementation instead performs the full
// selection atomically in one Apply call and returns the batch, preserving
// FIFO order, single-acquisition-of-lock-per-run, and retry-counter
// semantics; the caller dispatches each PickedRun to the executor
// independently.
func (s *Store) PickPending(ctx context.Context, b *bus.Bus) ([]PickedRun, error) {
	return Apply(s, func(doc *Document) ([]PickedRun, error) {
		now := time.Now().UTC()
		var eligible []*model.Run
		for _, r := range doc.Runs {
			if r.Status == model.RunPending && !r.CreatedAt.After(now) {
				eligible = append(eligible, r)
			}
		}
		sort.Slice(eligible, func(i, j int) bool {
			if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
				return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
			}
			return eligible[i].RunID < eligible[j].RunID
		})

		picked := make([]PickedRun, 0, len(eligible))
		for _, r := range eligible {
			if b.IsLocked(r.RunID) {
				continue
			}
			handle := b.Lock(r.RunID)
			doc.RetryCounters[r.RunID]++
			picked = append(picked, PickedRun{Run: r, Attempt: doc.RetryCounters[r.RunID], Cancel: handle})
		}
		return picked, nil
	})
}

// CancelRuns implements the cancellation algorithm (spec 4.E). It returns
// NotFound if fewer runs were found than requested.
func (s *Store) CancelRuns(ctx context.Context, b *bus.Bus, threadID string, runIDs []string, action model.CancelAction) error {
	_, err := Apply(s, func(doc *Document) (struct{}, error) {
		found := 0
		for _, runID := range runIDs {
			r, ok := doc.Runs[runID]
			if !ok || (threadID != "" && r.ThreadID != threadID) {
				continue
			}
			found++

			handle, hadHandle := b.GetControl(runID)
			if hadHandle {
				handle.Fire(bus.Reason(action))
			}

			if r.Status != model.RunPending {
				continue
			}

			switch {
			case hadHandle || action != model.CancelRollback:
				r.Status = model.RunInterrupted
				r.UpdatedAt = time.Now().UTC()
			default:
				delete(doc.Runs, runID)
				delete(doc.RetryCounters, runID)
			}
		}
		if found < len(runIDs) {
			return struct{}{}, storeerr.NewNotFound("run", "one or more of the requested ids")
		}
		return struct{}{}, nil
	})
	return err
}
