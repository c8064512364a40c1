// Package gateway implements the HTTP Boundary (spec 4.H, §6): the JSON/SSE
// surface over assistants, threads, and runs, built on the standard
// library's method-and-pattern ServeMux with auth/CORS middleware adapted
// from the reference pack's gateway package.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/checkpoint"
	"github.com/basket/graphrun/internal/config"
	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/policy"
	"github.com/basket/graphrun/internal/storeerr"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/telemetry"
	"github.com/basket/graphrun/internal/waiter"
)

// Config wires a Server's dependencies.
type Config struct {
	Store       *store.Store
	Bus         *bus.Bus
	Waiter      *waiter.Waiter
	Policy      *policy.Applier
	Graphs      *graphs.Registry
	Checkpoints *checkpoint.Proxy
	Telemetry   *telemetry.Provider
	Logger      *slog.Logger

	Auth config.AuthConfig
	CORS config.CORSConfig
}

// Server holds the wired dependencies behind the HTTP surface.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New wires a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler builds the full route table wrapped in CORS then auth middleware,
// matching the reference pack's outer-to-inner middleware order.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /assistants", s.handleCreateAssistant)
	mux.HandleFunc("POST /assistants/search", s.handleSearchAssistants)
	mux.HandleFunc("GET /assistants/{id}", s.handleGetAssistant)
	mux.HandleFunc("PATCH /assistants/{id}", s.handlePatchAssistant)
	mux.HandleFunc("DELETE /assistants/{id}", s.handleDeleteAssistant)
	mux.HandleFunc("GET /assistants/{id}/versions", s.handleAssistantVersions)
	mux.HandleFunc("POST /assistants/{id}/latest", s.handleSetLatestAssistant)

	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("POST /threads/search", s.handleSearchThreads)
	mux.HandleFunc("POST /threads/state/batch", s.handleStateBatch)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("PATCH /threads/{id}", s.handlePatchThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("POST /threads/{id}/copy", s.handleCopyThread)
	mux.HandleFunc("GET /threads/{id}/state", s.handleGetState)
	mux.HandleFunc("POST /threads/{id}/state", s.handlePostState)
	mux.HandleFunc("GET /threads/{id}/state/{cp_id}", s.handleGetStateAt)
	mux.HandleFunc("POST /threads/{id}/state/checkpoint", s.handleGetStateCheckpoint)
	mux.HandleFunc("GET /threads/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /threads/{id}/history", s.handleHistory)

	mux.HandleFunc("POST /threads/{id}/runs", s.handleCreateRun)
	mux.HandleFunc("POST /threads/{id}/runs/search", s.handleSearchRuns)
	mux.HandleFunc("GET /threads/{id}/runs/{rid}/stream", s.handleStreamRun)
	mux.HandleFunc("GET /threads/{id}/runs/{rid}", s.handleGetRun)
	mux.HandleFunc("DELETE /threads/{id}/runs/{rid}", s.handleDeleteRun)
	mux.HandleFunc("POST /threads/{id}/runs/{rid}/cancel", s.handleCancelRun)
	mux.HandleFunc("POST /threads/{id}/runs/{rid}/join", s.handleJoinRun)

	var handler http.Handler = mux
	handler = NewAuthMiddleware(s.cfg.Auth).Wrap(handler)
	handler = NewCORSMiddleware(s.cfg.CORS)(handler)
	handler = s.tracingMiddleware(handler)
	return handler
}

// tracingMiddleware starts one span per request, named "http.request" and
// tagged with the method and raw URL path, grounded on the reference pack's outermost-middleware
// placement for cross-cutting instrumentation. A nil Telemetry provider
// traces nothing.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	if s.cfg.Telemetry == nil {
		return next
	}
	tracer := s.cfg.Telemetry.Tracer
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request", trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
}

// writeJSON encodes v as the response body with status, matching the
// reference pack's json.NewEncoder(w).Encode idiom.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON parses r's body into v, treating an empty body as a zero
// value rather than an error so callers with no required fields (e.g.
// POST /threads) can omit the body entirely.
func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return storeerr.NewBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// writeError maps err's storeerr.Kind to an HTTP status (spec §7) and
// writes it as {"message": ...}, including the offending field for
// validation errors.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var se *storeerr.Error
	status := http.StatusInternalServerError
	body := map[string]any{"message": err.Error()}

	if errors.As(err, &se) {
		body["message"] = se.Message
		if se.Field != "" {
			body["field"] = se.Field
		}
		switch se.Kind {
		case storeerr.KindNotFound:
			status = http.StatusNotFound
		case storeerr.KindConflict:
			status = http.StatusConflict
		case storeerr.KindBadRequest:
			status = http.StatusBadRequest
		case storeerr.KindValidation:
			status = http.StatusUnprocessableEntity
		case storeerr.KindTimeout:
			status = http.StatusGatewayTimeout
		case storeerr.KindCancelled:
			status = http.StatusRequestTimeout
		case storeerr.KindTransient, storeerr.KindFatal:
			status = http.StatusInternalServerError
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error("gateway: request failed", "error", err)
	}
	writeJSON(w, status, body)
}
