// Package echo is a minimal reference Graph: it copies its input into
// thread values and completes in a single step, with no interrupts. It
// exists only so the server is runnable end to end and so tests don't
// require an external graph implementation.
package echo

import (
	"context"
	"sync"

	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/model"
)

// Graph is the echo Graph implementation.
type Graph struct {
	mu     sync.Mutex
	values map[string]any
}

// New constructs a fresh echo graph with empty state.
func New() graphs.Graph {
	return &Graph{values: make(map[string]any)}
}

func (g *Graph) Invoke(ctx context.Context, input map[string]any, cfg model.Config) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = mergeValues(g.values, input)
	return cloneValues(g.values), nil
}

func (g *Graph) Stream(ctx context.Context, inputOrCommand map[string]any, cfg model.Config, streamModes []string) (<-chan graphs.StreamChunk, error) {
	g.mu.Lock()
	g.values = mergeValues(g.values, inputOrCommand)
	snapshot := cloneValues(g.values)
	g.mu.Unlock()

	mode := "values"
	if len(streamModes) > 0 {
		mode = streamModes[0]
	}

	out := make(chan graphs.StreamChunk, 1)
	out <- graphs.StreamChunk{Mode: mode, Data: snapshot}
	close(out)
	return out, nil
}

func (g *Graph) GetState(ctx context.Context, cfg model.Config, opts graphs.StateOptions) (graphs.StateSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return graphs.StateSnapshot{Values: cloneValues(g.values)}, nil
}

func (g *Graph) UpdateState(ctx context.Context, cfg model.Config, values map[string]any, asNode string) (model.CheckpointRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = mergeValues(g.values, values)
	return model.CheckpointRef{}, nil
}

func (g *Graph) BulkUpdateState(ctx context.Context, cfg model.Config, supersteps []graphs.Superstep) (graphs.StateSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, step := range supersteps {
		g.values = mergeValues(g.values, step.Values)
	}
	return graphs.StateSnapshot{Values: cloneValues(g.values)}, nil
}

func (g *Graph) GetStateHistory(ctx context.Context, cfg model.Config, opts graphs.HistoryOptions) ([]graphs.StateSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return []graphs.StateSnapshot{{Values: cloneValues(g.values)}}, nil
}

func mergeValues(dst, src map[string]any) map[string]any {
	out := cloneValues(dst)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneValues(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
