// Package graphs models the external graph execution library as a narrow
// six-operation interface. The core never inspects a graph's internals and
// is portable across any implementation satisfying Graph.
package graphs

import (
	"context"
	"fmt"
	"sync"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
)

// StreamChunk is one incrementally yielded item from Stream, tagged with
// the stream mode under which it should be published.
type StreamChunk struct {
	Mode string
	Data any
}

// StateSnapshot is the result of GetState/BulkUpdateState/one entry of
// GetStateHistory.
type StateSnapshot struct {
	Values     map[string]any        `json:"values"`
	Next       []string              `json:"next"`
	Checkpoint model.CheckpointRef   `json:"checkpoint"`
	Tasks      []model.TaskInterrupt `json:"tasks"`
}

// StateOptions configures GetState.
type StateOptions struct {
	Subgraphs bool
}

// HistoryOptions configures GetStateHistory.
type HistoryOptions struct {
	Limit    int
	Before   string
	Metadata map[string]any
}

// Superstep is one batch of state updates applied as a single logical step,
// as accepted by BulkUpdateState.
type Superstep struct {
	Values map[string]any
	AsNode string
}

// Graph is the opaque external dependency this core drives. Implementations
// own their own checkpointing wiring; the core supplies only input/command
// and configuration.
type Graph interface {
	Invoke(ctx context.Context, input map[string]any, cfg model.Config) (map[string]any, error)
	Stream(ctx context.Context, inputOrCommand map[string]any, cfg model.Config, streamModes []string) (<-chan StreamChunk, error)
	GetState(ctx context.Context, cfg model.Config, opts StateOptions) (StateSnapshot, error)
	UpdateState(ctx context.Context, cfg model.Config, values map[string]any, asNode string) (model.CheckpointRef, error)
	BulkUpdateState(ctx context.Context, cfg model.Config, supersteps []Superstep) (StateSnapshot, error)
	GetStateHistory(ctx context.Context, cfg model.Config, opts HistoryOptions) ([]StateSnapshot, error)
}

// Factory constructs a fresh Graph bound to one assistant's graph_id.
type Factory func() Graph

// Registry resolves a graph_id to a Factory, populated at startup from
// configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under graph_id, overwriting any previous
// registration.
func (r *Registry) Register(graphID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[graphID] = f
}

// New resolves graph_id and constructs a fresh Graph instance. Absence of a
// requested graph_id fails the invocation with BadRequest per the external
// interface contract.
func (r *Registry) New(graphID string) (Graph, error) {
	r.mu.RLock()
	f, ok := r.factories[graphID]
	r.mu.RUnlock()
	if !ok {
		return nil, storeerr.NewBadRequest(fmt.Sprintf("graph %q is not registered", graphID))
	}
	return f(), nil
}

// Has reports whether graph_id is registered.
func (r *Registry) Has(graphID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[graphID]
	return ok
}
