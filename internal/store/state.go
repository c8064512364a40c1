package store

import (
	"context"
	"time"

	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/storeerr"
)

// threadGraphConfig resolves a thread's graph_id (from its metadata) and
// its model.Config, failing with BadRequest if no graph_id is set.
func (s *Store) threadGraphConfig(ctx context.Context, threadID string) (string, model.Config, error) {
	type result struct {
		graphID string
		cfg     model.Config
	}
	r, err := Apply(s, func(doc *Document) (result, error) {
		t, err := lookupThread(doc, threadID)
		if err != nil {
			return result{}, err
		}
		graphID, _ := t.Metadata["graph_id"].(string)
		if graphID == "" {
			return result{}, storeerr.NewBadRequest("thread has no graph_id")
		}
		return result{graphID: graphID, cfg: t.Config}, nil
	})
	return r.graphID, r.cfg, err
}

// StateGet implements State.get(config, {subgraphs}).
func (s *Store) StateGet(ctx context.Context, registry *graphs.Registry, threadID string, subgraphs bool) (graphs.StateSnapshot, error) {
	graphID, cfg, err := s.threadGraphConfig(ctx, threadID)
	if err != nil {
		return graphs.StateSnapshot{}, err
	}
	g, err := registry.New(graphID)
	if err != nil {
		return graphs.StateSnapshot{}, err
	}
	return g.GetState(ctx, cfg, graphs.StateOptions{Subgraphs: subgraphs})
}

// StatePost implements State.post(config, values, asNode): a single update,
// re-reading state and writing the resulting values back into the thread.
func (s *Store) StatePost(ctx context.Context, registry *graphs.Registry, threadID string, values map[string]any, asNode string) (model.CheckpointRef, error) {
	graphID, cfg, err := s.threadGraphConfig(ctx, threadID)
	if err != nil {
		return model.CheckpointRef{}, err
	}
	g, err := registry.New(graphID)
	if err != nil {
		return model.CheckpointRef{}, err
	}
	ref, err := g.UpdateState(ctx, cfg, values, asNode)
	if err != nil {
		return model.CheckpointRef{}, err
	}
	snapshot, err := g.GetState(ctx, cfg, graphs.StateOptions{})
	if err != nil {
		return ref, err
	}
	if _, err := s.writeBackValues(ctx, threadID, snapshot.Values); err != nil {
		return ref, err
	}
	return ref, nil
}

// StateBatch implements State.batch(config, writes): bulk-apply a sequence
// of supersteps as one logical step.
func (s *Store) StateBatch(ctx context.Context, registry *graphs.Registry, threadID string, supersteps []graphs.Superstep) (*model.Thread, error) {
	graphID, cfg, err := s.threadGraphConfig(ctx, threadID)
	if err != nil {
		return nil, err
	}
	g, err := registry.New(graphID)
	if err != nil {
		return nil, err
	}
	snapshot, err := g.BulkUpdateState(ctx, cfg, supersteps)
	if err != nil {
		return nil, err
	}
	return s.writeBackValues(ctx, threadID, snapshot.Values)
}

// StateList implements State.list(config, {limit, before, metadata}). A
// thread with no graph_id returns empty rather than BadRequest, per spec.
func (s *Store) StateList(ctx context.Context, registry *graphs.Registry, threadID string, opts graphs.HistoryOptions) ([]graphs.StateSnapshot, error) {
	graphID, cfg, err := s.threadGraphConfig(ctx, threadID)
	if err != nil {
		if storeerr.KindOf(err) == storeerr.KindBadRequest {
			return []graphs.StateSnapshot{}, nil
		}
		return nil, err
	}
	g, err := registry.New(graphID)
	if err != nil {
		return nil, err
	}
	return g.GetStateHistory(ctx, cfg, opts)
}

func (s *Store) writeBackValues(ctx context.Context, threadID string, values map[string]any) (*model.Thread, error) {
	return Apply(s, func(doc *Document) (*model.Thread, error) {
		t, err := lookupThread(doc, threadID)
		if err != nil {
			return nil, err
		}
		t.Values = values
		t.UpdatedAt = time.Now().UTC()
		return t, nil
	})
}
