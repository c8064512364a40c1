package store

import (
	"sort"
	"time"

	"context"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/google/uuid"
)

// PutThreadInput is the input to PutThread.
type PutThreadInput struct {
	ThreadID string
	Metadata map[string]any
	Config   model.Config
	IfExists model.IfExists
}

// PutThread creates a thread with status idle, or returns the existing one
// when if_exists=do_nothing.
func (s *Store) PutThread(ctx context.Context, in PutThreadInput) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		id := in.ThreadID
		if id == "" {
			id = uuid.NewString()
		}
		if existing, ok := doc.Threads[id]; ok {
			if in.IfExists == model.IfExistsRaise {
				return nil, storeerr.NewConflict("thread " + id + " already exists")
			}
			return existing, nil
		}
		now := time.Now().UTC()
		t := &model.Thread{
			ThreadID:  id,
			Status:    model.ThreadIdle,
			Config:    in.Config,
			Metadata:  in.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.Threads[id] = t
		return t, nil
	})
}

// GetThread returns the thread by id.
func (s *Store) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		return lookupThread(doc, threadID)
	})
}

func lookupThread(doc *Document, threadID string) (*model.Thread, error) {
	t, ok := doc.Threads[threadID]
	if !ok {
		return nil, storeerr.NewNotFound("thread", threadID)
	}
	return t, nil
}

// PatchThread shallow-merges metadata into the thread.
func (s *Store) PatchThread(ctx context.Context, threadID string, metadata map[string]any) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		t, err := lookupThread(doc, threadID)
		if err != nil {
			return nil, err
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			t.Metadata[k] = v
		}
		t.UpdatedAt = time.Now().UTC()
		return t, nil
	})
}

// DeleteThread removes the thread and cascades to its runs; checkpoint
// deletion is the caller's responsibility (the Checkpointer is external to
// this aggregate).
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	_, err := Apply(s, func(doc *Document) (struct{}, error) {
		if _, ok := doc.Threads[threadID]; !ok {
			return struct{}{}, storeerr.NewNotFound("thread", threadID)
		}
		delete(doc.Threads, threadID)
		for id, r := range doc.Runs {
			if r.ThreadID == threadID {
				delete(doc.Runs, id)
				delete(doc.RetryCounters, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// CopyThreadData creates a new thread inheriting srcThreadID's metadata and
// config. Checkpoint duplication is the caller's responsibility via the
// injected Checkpointer's Copy operation.
func (s *Store) CopyThreadData(ctx context.Context, srcThreadID string) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		src, err := lookupThread(doc, srcThreadID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		dst := &model.Thread{
			ThreadID:  uuid.NewString(),
			Status:    src.Status,
			Config:    src.Config,
			Metadata:  cloneMetadata(src.Metadata),
			Values:    cloneAnyMap(src.Values),
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.Threads[dst.ThreadID] = dst
		return dst, nil
	})
}

// SetThreadStatus applies the status derivation rule from checkpoint/err
// and advances updated_at.
func (s *Store) SetThreadStatus(ctx context.Context, threadID string, checkpoint *model.CheckpointPayload, runErr error) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		t, err := lookupThread(doc, threadID)
		if err != nil {
			return nil, err
		}
		applyStatusDerivation(doc, t, checkpoint, runErr)
		return t, nil
	})
}

// applyStatusDerivation implements spec 4.D's setStatus rule. Callers must
// hold the Store's lock (called only from within Apply).
func applyStatusDerivation(doc *Document, t *model.Thread, checkpoint *model.CheckpointPayload, runErr error) {
	switch {
	case runErr != nil:
		t.Status = model.ThreadError
	case checkpoint != nil && len(checkpoint.Next) > 0:
		t.Status = model.ThreadInterrupted
	case threadHasPendingRun(doc, t.ThreadID):
		t.Status = model.ThreadBusy
	default:
		t.Status = model.ThreadIdle
	}

	if checkpoint != nil {
		t.Values = checkpoint.Values
		interrupts := make(map[string]any, len(checkpoint.Tasks))
		for _, task := range checkpoint.Tasks {
			interrupts[task.TaskID] = task.Interrupts
		}
		t.Interrupts = interrupts
	} else {
		t.Values = nil
		t.Interrupts = nil
	}
	t.UpdatedAt = time.Now().UTC()
}

func threadHasPendingRun(doc *Document, threadID string) bool {
	for _, r := range doc.Runs {
		if r.ThreadID == threadID && r.Status == model.RunPending {
			return true
		}
	}
	return false
}

// SearchThreadsInput filters SearchThreads.
type SearchThreadsInput struct {
	Status   model.ThreadStatus
	Metadata map[string]any
	Limit    int
	Offset   int
}

// SearchThreads returns threads matching status/metadata, newest-first.
func (s *Store) SearchThreads(ctx context.Context, in SearchThreadsInput) ([]*model.Thread, error) {
	return Apply(s, func(doc *Document) ([]*model.Thread, error) {
		matches := make([]*model.Thread, 0, len(doc.Threads))
		for _, t := range doc.Threads {
			if in.Status != "" && t.Status != in.Status {
				continue
			}
			if !metadataContains(t.Metadata, in.Metadata) {
				continue
			}
			matches = append(matches, t)
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
		return paginate(matches, in.Limit, in.Offset), nil
	})
}

func cloneMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneAnyMap(src map[string]any) map[string]any {
	return cloneMetadata(src)
}
