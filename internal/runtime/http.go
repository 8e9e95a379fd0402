package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-asr/internal/asr"
	"github.com/loqalabs/loqa-asr/internal/eventstore"
)

type sessionSource interface {
	Sessions() []asr.SessionInfo
	PooledWorkers() int
}

type eventSource interface {
	ListEvents(ctx context.Context, f eventstore.Filter) ([]eventstore.Event, error)
}

type statusResponse struct {
	Enabled       bool              `json:"enabled"`
	Sessions      []asr.SessionInfo `json:"sessions"`
	PooledWorkers int               `json:"pooled_workers"`
}

func (r *Runtime) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)

	router.Route("/v1", func(api chi.Router) {
		api.Get("/status", r.handleStatus)
		api.Get("/sessions", r.handleSessions)
		api.Get("/events", r.handleEvents)
	})
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) healthy() bool {
	if r.busClient != nil && !r.busClient.Healthy() {
		return false
	}
	if r.svc != nil && !r.svc.Healthy() {
		return false
	}
	if r.hub != nil && !r.hub.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if r.sessions == nil {
		http.Error(w, "asr service not running", http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{
		Sessions:      r.sessions.Sessions(),
		PooledWorkers: r.sessions.PooledWorkers(),
	}
	if r.svc != nil {
		resp.Enabled = r.svc.Enabled()
	}
	r.writeJSON(w, resp)
}

func (r *Runtime) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if r.sessions == nil {
		http.Error(w, "asr service not running", http.StatusServiceUnavailable)
		return
	}
	r.writeJSON(w, r.sessions.Sessions())
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.events == nil {
		http.Error(w, "event store not available", http.StatusServiceUnavailable)
		return
	}
	q := req.URL.Query()
	filter := eventstore.Filter{
		SiteID:    q.Get("site"),
		SessionID: q.Get("session"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	events, err := r.events.ListEvents(req.Context(), filter)
	if err != nil {
		r.logger.Error("list events failed", slog.String("error", err.Error()))
		http.Error(w, "list events failed", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	r.writeJSON(w, events)
}

func (r *Runtime) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("write response failed", slog.String("error", err.Error()))
	}
}
