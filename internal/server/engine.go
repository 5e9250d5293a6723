package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/questforge/encounterd/internal/event"
	"github.com/questforge/encounterd/internal/metrics"
	"github.com/questforge/encounterd/internal/session"
	"github.com/questforge/encounterd/internal/validation"
	"github.com/questforge/encounterd/pkg/types"
)

// Engine serves the session lifecycle API.
type Engine struct {
	*Server
	sessions *session.Service
	bus      *event.Bus
}

// NewEngine creates the session engine server. bus may be nil, which
// disables the event stream.
func NewEngine(cfg *Config, sessions *session.Service, bus *event.Bus) *Engine {
	e := &Engine{Server: newServer("engine", cfg), sessions: sessions, bus: bus}
	r := e.router

	r.Get("/health", e.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/session", func(r chi.Router) {
		r.Get("/", e.listSessions)
		r.Post("/start", e.startSession)
		r.Get("/events", e.sessionEvents)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", e.getSession)
			r.Patch("/objective/{objectiveID}", e.updateObjective)
			r.Post("/npc/{npcID}/interact", e.recordInteraction)
			r.Post("/complete", e.completeSession)
		})
	})

	return e
}

func (e *Engine) startSession(w http.ResponseWriter, r *http.Request) {
	var req types.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		writeAppError(w, r, err)
		return
	}

	sess, err := e.sessions.Start(r.Context(), &req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *Engine) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := e.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *Engine) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := e.sessions.List(r.Context(), r.URL.Query().Get("playerId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (e *Engine) updateObjective(w http.ResponseWriter, r *http.Request) {
	sess, err := e.sessions.UpdateObjective(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "objectiveID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *Engine) recordInteraction(w http.ResponseWriter, r *http.Request) {
	sess, err := e.sessions.RecordInteraction(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "npcID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *Engine) completeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := e.sessions.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
