// Package web serves the browser and REST surfaces of the agent.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/sessions"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

// Options configures the HTTP surface.
type Options struct {
	// AppURL is the web app that navigation links point into.
	AppURL string
	// AllowedOrigins applies to CORS and WebSocket upgrades. "*" allows all.
	AllowedOrigins []string
	Version        string
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	sessions *sessions.Manager
	registry *tools.Registry
	opts     Options
	upgrader websocket.Upgrader

	mu        sync.Mutex
	recorders map[types.SessionID]*tools.Recorder
}

// New creates a Server.
func New(mgr *sessions.Manager, registry *tools.Registry, opts Options) *Server {
	s := &Server{
		sessions:  mgr,
		registry:  registry,
		opts:      opts,
		recorders: make(map[types.SessionID]*tools.Recorder),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tools", s.listTools)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Post("/messages", s.postMessage)
				r.Post("/cancel", s.cancelTurn)
			})
		})
	})

	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "weatheragent",
		"version":  s.opts.Version,
		"sessions": len(s.sessions.List()),
	})
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Describe())
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// submitStatus maps a submission rejection to an HTTP status.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, runtime.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, runtime.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, runtime.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, runtime.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
