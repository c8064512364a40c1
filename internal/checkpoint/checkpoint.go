// Package checkpoint defines the narrow facade the core uses to delegate
// persistent checkpoint storage to an injected implementation. The core
// never inspects checkpoint payloads beyond the fields modeled in
// model.CheckpointPayload.
package checkpoint

import (
	"context"

	"github.com/basket/graphrun/internal/model"
)

// Write is one pending write recorded against a checkpoint before it is
// finalized (putWrites), mirroring the checkpointer's own write-ahead step.
type Write struct {
	TaskID  string
	Channel string
	Value   any
}

// ListOptions configures List.
type ListOptions struct {
	Limit    int
	Before   string
	Metadata map[string]any
}

// Checkpointer is the injected implementation behind the Proxy facade.
type Checkpointer interface {
	GetTuple(ctx context.Context, ref model.CheckpointRef) (*model.CheckpointPayload, error)
	List(ctx context.Context, threadID string, opts ListOptions) ([]*model.CheckpointPayload, error)
	Put(ctx context.Context, payload *model.CheckpointPayload) error
	PutWrites(ctx context.Context, ref model.CheckpointRef, writes []Write) error
	Delete(ctx context.Context, threadID string) error
	Copy(ctx context.Context, srcThreadID, dstThreadID string) error
	Clear(ctx context.Context, threadID string) error
}

// Proxy is a thin facade delegating to an injected Checkpointer. It exists
// so callers depend on a stable local type rather than wiring the
// injected implementation directly, and so a future caching or metrics
// layer has one seam to attach to.
type Proxy struct {
	impl Checkpointer
}

// NewProxy wraps impl.
func NewProxy(impl Checkpointer) *Proxy {
	return &Proxy{impl: impl}
}

func (p *Proxy) GetTuple(ctx context.Context, ref model.CheckpointRef) (*model.CheckpointPayload, error) {
	return p.impl.GetTuple(ctx, ref)
}

func (p *Proxy) List(ctx context.Context, threadID string, opts ListOptions) ([]*model.CheckpointPayload, error) {
	return p.impl.List(ctx, threadID, opts)
}

func (p *Proxy) Put(ctx context.Context, payload *model.CheckpointPayload) error {
	return p.impl.Put(ctx, payload)
}

func (p *Proxy) PutWrites(ctx context.Context, ref model.CheckpointRef, writes []Write) error {
	return p.impl.PutWrites(ctx, ref, writes)
}

func (p *Proxy) Delete(ctx context.Context, threadID string) error {
	return p.impl.Delete(ctx, threadID)
}

func (p *Proxy) Copy(ctx context.Context, srcThreadID, dstThreadID string) error {
	return p.impl.Copy(ctx, srcThreadID, dstThreadID)
}

func (p *Proxy) Clear(ctx context.Context, threadID string) error {
	return p.impl.Clear(ctx, threadID)
}
