package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/policy"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/basket/graphrun/internal/waiter"
)

type createRunRequest struct {
	RunID                   string                  `json:"run_id"`
	AssistantID             string                  `json:"assistant_id"`
	Kwargs                  model.RunKwargs         `json:"kwargs"`
	Input                   map[string]any          `json:"input"`
	Command                 map[string]any          `json:"command"`
	Config                  model.Config            `json:"config"`
	StreamModes             []string                `json:"stream_modes"`
	MultitaskStrategy       model.MultitaskStrategy `json:"multitask_strategy"`
	IfNotExists             model.IfNotExists       `json:"if_not_exists"`
	AfterSeconds            int                     `json:"after_seconds"`
	Metadata                map[string]any          `json:"metadata"`
	UserID                  string                  `json:"user_id"`
}

// handleCreateRun implements POST /threads/:id/runs (spec 4.E creation plus
// the HTTP-boundary-applied multitask strategy table).
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.AssistantID == "" {
		writeError(w, s.logger, storeerr.NewValidation("assistant_id", "assistant_id is required"))
		return
	}

	kwargs := req.Kwargs
	if req.Input != nil {
		kwargs.Input = req.Input
	}
	if req.Command != nil {
		kwargs.Command = req.Command
	}
	if req.StreamModes != nil {
		kwargs.StreamModes = req.StreamModes
	}
	if req.Config.Configurable != nil {
		kwargs.Config = req.Config
	}

	strategy := req.MultitaskStrategy
	if strategy == "" {
		strategy = model.StrategyReject
	}

	result, err := s.cfg.Store.CreateRun(r.Context(), store.CreateRunInput{
		RunID:                   req.RunID,
		AssistantID:             req.AssistantID,
		ThreadID:                r.PathValue("id"),
		Kwargs:                  kwargs,
		MultitaskStrategy:       strategy,
		IfNotExists:             req.IfNotExists,
		PreventInsertInInflight: policy.PreventInsert(strategy),
		AfterSeconds:            req.AfterSeconds,
		Metadata:                req.Metadata,
		UserID:                  req.UserID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	run, err := s.cfg.Policy.Apply(r.Context(), result, strategy)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Store.GetRun(r.Context(), r.PathValue("rid"), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("rid")
	if err := s.cfg.Checkpoints.Clear(r.Context(), r.PathValue("id")); err != nil && storeerr.KindOf(err) != storeerr.KindNotFound {
		writeError(w, s.logger, err)
		return
	}
	if err := s.cfg.Store.DeleteRun(r.Context(), runID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type searchRunsRequest struct {
	Status model.RunStatus `json:"status"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *Server) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	var req searchRunsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	runs, err := s.cfg.Store.SearchRuns(r.Context(), store.SearchRunsInput{
		ThreadID: r.PathValue("id"),
		Status:   req.Status,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type cancelRunRequest struct {
	Action model.CancelAction `json:"action"`
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	var req cancelRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	action := req.Action
	if action == "" {
		action = model.CancelInterrupt
	}
	threadID := r.PathValue("id")
	runID := r.PathValue("rid")
	if err := s.cfg.Store.CancelRuns(r.Context(), s.cfg.Bus, threadID, []string{runID}, action); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleJoinRun implements a non-streaming counterpart to stream: it blocks
// until the run reaches control:done and returns the final values, per
// Stream.join's fallback-to-thread-values rule.
func (s *Server) handleJoinRun(w http.ResponseWriter, r *http.Request) {
	values, err := waiter.JoinOrCurrentValues(r.Context(), s.cfg.Waiter, r.PathValue("rid"), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleStreamRun implements GET /threads/:id/runs/:rid/stream: SSE framing
// "event: <topic>\ndata: <json>\n\n", terminator is server-side close
// following control:done (spec §6).
//
// The Join call is split into two distinct signals, matching the waiter's
// own ctx-vs-cancel-token distinction: a background context so ordinary
// request-context teardown does not look like subscriber cancellation, and
// a dedicated disconnect channel (closed when the HTTP request context
// ends) that the waiter treats as "subscriber cancelled the join", which
// per spec cancels the run with interrupt when the thread id is known.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	runID := r.PathValue("rid")

	if _, err := s.cfg.Store.GetRun(r.Context(), runID, threadID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	events := s.cfg.Waiter.Join(context.Background(), runID, threadID, waiter.JoinOptions{
		CancelOnDisconnect: r.Context().Done(),
	})

	for ev := range events {
		if ev.Err != nil {
			data, _ := json.Marshal(map[string]any{"error": ev.Err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			flusher.Flush()
			return
		}

		data, err := json.Marshal(ev.Data)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventName(runID, ev.Topic), data); err != nil {
			return
		}
		flusher.Flush()

		if ev.Topic == bus.ControlTopic(runID) {
			return
		}
	}
}

// sseEventName derives the SSE event name from a Stream Bus topic: the
// stream mode for payload events, or "control" for control:done.
func sseEventName(runID, topic string) string {
	if topic == bus.ControlTopic(runID) {
		return "control"
	}
	prefix := fmt.Sprintf("run:%s:stream:", runID)
	if strings.HasPrefix(topic, prefix) {
		return strings.TrimPrefix(topic, prefix)
	}
	return topic
}
