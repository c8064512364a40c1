package gateway

import (
	"net/http"

	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

type createAssistantRequest struct {
	AssistantID string          `json:"assistant_id"`
	GraphID     string          `json:"graph_id"`
	Config      model.Config    `json:"config"`
	Metadata    map[string]any  `json:"metadata"`
	Name        string          `json:"name"`
	IfExists    model.IfExists  `json:"if_exists"`
}

func (s *Server) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	var req createAssistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.GraphID == "" {
		writeError(w, s.logger, storeerr.NewValidation("graph_id", "graph_id is required"))
		return
	}
	a, err := s.cfg.Store.PutAssistant(r.Context(), store.PutAssistantInput{
		AssistantID: req.AssistantID,
		GraphID:     req.GraphID,
		Config:      req.Config,
		Metadata:    req.Metadata,
		Name:        req.Name,
		IfExists:    req.IfExists,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	a, err := s.cfg.Store.GetAssistant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type patchAssistantRequest struct {
	GraphID  *string        `json:"graph_id"`
	Config   *model.Config  `json:"config"`
	Metadata map[string]any `json:"metadata"`
	Name     *string        `json:"name"`
}

func (s *Server) handlePatchAssistant(w http.ResponseWriter, r *http.Request) {
	var req patchAssistantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	a, err := s.cfg.Store.PatchAssistant(r.Context(), store.PatchAssistantInput{
		AssistantID: r.PathValue("id"),
		GraphID:     req.GraphID,
		Config:      req.Config,
		Metadata:    req.Metadata,
		Name:        req.Name,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAssistant(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteAssistant(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAssistantVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.cfg.Store.GetAssistantVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type setLatestRequest struct {
	Version int `json:"version"`
}

func (s *Server) handleSetLatestAssistant(w http.ResponseWriter, r *http.Request) {
	var req setLatestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	a, err := s.cfg.Store.SetLatestAssistantVersion(r.Context(), r.PathValue("id"), req.Version)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type searchAssistantsRequest struct {
	GraphID  string         `json:"graph_id"`
	Metadata map[string]any `json:"metadata"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

func (s *Server) handleSearchAssistants(w http.ResponseWriter, r *http.Request) {
	var req searchAssistantsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	assistants, err := s.cfg.Store.SearchAssistants(r.Context(), store.SearchAssistantsInput{
		GraphID:  req.GraphID,
		Metadata: req.Metadata,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assistants)
}
