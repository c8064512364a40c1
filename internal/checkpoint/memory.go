package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
)

// MemStore is the default in-memory Checkpointer, keyed by thread id with
// checkpoints ordered oldest-first. Modeled after the mutex-guarded,
// JSON-(de)serializable in-memory store pattern used elsewhere in the
// reference pack for aggregate in-process stores.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]*model.CheckpointPayload
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{checkpoints: make(map[string][]*model.CheckpointPayload)}
}

func (m *MemStore) GetTuple(ctx context.Context, ref model.CheckpointRef) (*model.CheckpointPayload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[ref.ThreadID]
	if ref.CheckpointID == "" {
		if len(list) == 0 {
			return nil, storeerr.NewNotFound("checkpoint", ref.ThreadID)
		}
		return list[len(list)-1], nil
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Ref.CheckpointID == ref.CheckpointID && list[i].Ref.CheckpointNS == ref.CheckpointNS {
			return list[i], nil
		}
	}
	return nil, storeerr.NewNotFound("checkpoint", ref.CheckpointID)
}

func (m *MemStore) List(ctx context.Context, threadID string, opts ListOptions) ([]*model.CheckpointPayload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[threadID]
	out := make([]*model.CheckpointPayload, 0, len(list))
	seenBefore := opts.Before == ""
	for i := len(list) - 1; i >= 0; i-- {
		cp := list[i]
		if !seenBefore {
			if cp.Ref.CheckpointID == opts.Before {
				seenBefore = true
			}
			continue
		}
		out = append(out, cp)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) Put(ctx context.Context, payload *model.CheckpointPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[payload.Ref.ThreadID] = append(m.checkpoints[payload.Ref.ThreadID], payload)
	return nil
}

// PutWrites records pending writes against the latest checkpoint's values.
// The reference implementation applies writes eagerly rather than holding a
// separate write-ahead buffer, since it has no external durability to race
// against.
func (m *MemStore) PutWrites(ctx context.Context, ref model.CheckpointRef, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.checkpoints[ref.ThreadID]
	if len(list) == 0 {
		return storeerr.NewNotFound("checkpoint", ref.ThreadID)
	}
	latest := list[len(list)-1]
	if latest.Values == nil {
		latest.Values = make(map[string]any)
	}
	for _, w := range writes {
		latest.Values[w.Channel] = w.Value
	}
	return nil
}

func (m *MemStore) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}

// Copy duplicates srcThreadID's checkpoint history under dstThreadID, used
// by Thread Store's copy operation.
func (m *MemStore) Copy(ctx context.Context, srcThreadID, dstThreadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.checkpoints[srcThreadID]
	dst := make([]*model.CheckpointPayload, len(src))
	for i, cp := range src {
		clone := *cp
		clone.Ref.ThreadID = dstThreadID
		clone.Values = cloneAny(cp.Values)
		dst[i] = &clone
	}
	m.checkpoints[dstThreadID] = dst
	return nil
}

func (m *MemStore) Clear(ctx context.Context, threadID string) error {
	return m.Delete(ctx, threadID)
}

// MarshalJSON snapshots the store for inclusion in a broader persisted
// document, should a deployment choose to flush checkpoints alongside the
// aggregate document rather than keep them purely in memory.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.checkpoints)
}

// UnmarshalJSON restores a previously marshaled snapshot.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := make(map[string][]*model.CheckpointPayload)
	if err := json.Unmarshal(data, &restored); err != nil {
		return err
	}
	m.checkpoints = restored
	return nil
}

func cloneAny(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
