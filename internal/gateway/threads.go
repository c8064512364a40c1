package gateway

import (
	"net/http"
	"strconv"

	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

type createThreadRequest struct {
	ThreadID string         `json:"thread_id"`
	Metadata map[string]any `json:"metadata"`
	Config   model.Config   `json:"config"`
	IfExists model.IfExists `json:"if_exists"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	t, err := s.cfg.Store.PutThread(r.Context(), store.PutThreadInput{
		ThreadID: req.ThreadID,
		Metadata: req.Metadata,
		Config:   req.Config,
		IfExists: req.IfExists,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type searchThreadsRequest struct {
	Status   model.ThreadStatus `json:"status"`
	Metadata map[string]any     `json:"metadata"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	var req searchThreadsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	threads, err := s.cfg.Store.SearchThreads(r.Context(), store.SearchThreadsInput{
		Status:   req.Status,
		Metadata: req.Metadata,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.cfg.Store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type patchThreadRequest struct {
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handlePatchThread(w http.ResponseWriter, r *http.Request) {
	var req patchThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	t, err := s.cfg.Store.PatchThread(r.Context(), r.PathValue("id"), req.Metadata)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := s.cfg.Checkpoints.Delete(r.Context(), threadID); err != nil && storeerr.KindOf(err) != storeerr.KindNotFound {
		writeError(w, s.logger, err)
		return
	}
	if err := s.cfg.Store.DeleteThread(r.Context(), threadID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCopyThread(w http.ResponseWriter, r *http.Request) {
	srcID := r.PathValue("id")
	dst, err := s.cfg.Store.CopyThreadData(r.Context(), srcID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.cfg.Checkpoints.Copy(r.Context(), srcID, dst.ThreadID); err != nil && storeerr.KindOf(err) != storeerr.KindNotFound {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dst)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	subgraphs := r.URL.Query().Get("subgraphs") == "true"
	snapshot, err := s.cfg.Store.StateGet(r.Context(), s.cfg.Graphs, r.PathValue("id"), subgraphs)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleGetStateAt implements GET /threads/:id/state/:cp_id: the state as
// of a specific checkpoint, selected via the graph's own
// config.configurable.checkpoint_id convention (the six-operation Graph
// interface has no dedicated by-checkpoint accessor).
func (s *Server) handleGetStateAt(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	cpID := r.PathValue("cp_id")
	subgraphs := r.URL.Query().Get("subgraphs") == "true"

	g, cfg, err := s.resolveThreadGraph(r, threadID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	cfg.Configurable = mergeConfigurable(cfg.Configurable, map[string]any{"checkpoint_id": cpID})
	snapshot, err := g.GetState(r.Context(), cfg, graphs.StateOptions{Subgraphs: subgraphs})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type postStateRequest struct {
	Values       map[string]any `json:"values"`
	AsNode       string         `json:"as_node"`
	CheckpointID string         `json:"checkpoint_id"`
}

func (s *Server) handlePostState(w http.ResponseWriter, r *http.Request) {
	var req postStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	ref, err := s.cfg.Store.StatePost(r.Context(), s.cfg.Graphs, r.PathValue("id"), req.Values, req.AsNode)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": ref})
}

type getStateCheckpointRequest struct {
	Checkpoint model.CheckpointRef `json:"checkpoint"`
	Subgraphs  bool                `json:"subgraphs"`
}

// handleGetStateCheckpoint implements POST /threads/:id/state/checkpoint:
// the state as of an explicit checkpoint reference in the body, again via
// the checkpoint_id configurable convention.
func (s *Server) handleGetStateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req getStateCheckpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	threadID := r.PathValue("id")
	g, cfg, err := s.resolveThreadGraph(r, threadID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Checkpoint.CheckpointID != "" {
		cfg.Configurable = mergeConfigurable(cfg.Configurable, map[string]any{"checkpoint_id": req.Checkpoint.CheckpointID})
	}
	snapshot, err := g.GetState(r.Context(), cfg, graphs.StateOptions{Subgraphs: req.Subgraphs})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type historyRequest struct {
	Limit    int            `json:"limit"`
	Before   string         `json:"before"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
	} else {
		q := r.URL.Query()
		if v := q.Get("limit"); v != "" {
			req.Limit, _ = strconv.Atoi(v)
		}
		req.Before = q.Get("before")
	}
	history, err := s.cfg.Store.StateList(r.Context(), s.cfg.Graphs, r.PathValue("id"), graphs.HistoryOptions{
		Limit:    req.Limit,
		Before:   req.Before,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type stateBatchRequest struct {
	ThreadID   string              `json:"thread_id"`
	Supersteps []graphs.Superstep  `json:"supersteps"`
	Metadata   map[string]any      `json:"metadata"`
	IfExists   model.IfExists      `json:"if_exists"`
}

// handleStateBatch implements POST /threads/state/batch: ensures the
// target thread exists per if_exists, then applies the supersteps as one
// logical step.
func (s *Server) handleStateBatch(w http.ResponseWriter, r *http.Request) {
	var req stateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	t, err := s.cfg.Store.PutThread(r.Context(), store.PutThreadInput{
		ThreadID: req.ThreadID,
		Metadata: req.Metadata,
		IfExists: req.IfExists,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	t, err = s.cfg.Store.StateBatch(r.Context(), s.cfg.Graphs, t.ThreadID, req.Supersteps)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// resolveThreadGraph looks up threadID's graph_id and config and
// constructs a fresh Graph instance, for handlers that need direct graph
// access beyond what store.Store's State* methods expose.
func (s *Server) resolveThreadGraph(r *http.Request, threadID string) (graphs.Graph, model.Config, error) {
	t, err := s.cfg.Store.GetThread(r.Context(), threadID)
	if err != nil {
		return nil, model.Config{}, err
	}
	graphID, _ := t.Metadata["graph_id"].(string)
	if graphID == "" {
		return nil, model.Config{}, storeerr.NewBadRequest("thread has no graph_id")
	}
	g, err := s.cfg.Graphs.New(graphID)
	if err != nil {
		return nil, model.Config{}, err
	}
	return g, t.Config, nil
}

func mergeConfigurable(base map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
