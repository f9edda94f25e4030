// Package api exposes sessions and the query catalog over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"queryflow/internal/export"
	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/pkg/interfaces"
)

// Registry is the part of the websocket registry the API reads.
type Registry interface {
	Subscribers(sessionID string) []interfaces.Connection
	GetStats() map[string]int
}

// HealthChecker reports whether the catalog store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports notification hub counters.
type StatsProvider interface {
	GetStats() map[string]int64
}

// Routable registers extra routes on the server's router.
type Routable interface {
	Routes(r chi.Router)
}

// Deps are the components the server serves. Database, Registry, Hub,
// WebSocket and UI are optional.
type Deps struct {
	Sessions  *session.Manager
	Catalog   *router.Catalog
	Database  HealthChecker
	Registry  Registry
	Hub       StatsProvider
	WebSocket http.Handler
	UI        Routable
	Logger    *slog.Logger
}

// Options tune the HTTP surface.
type Options struct {
	CORSOrigins []string
	// Ingress enables per-client throttling of /api routes when non-nil.
	Ingress *IngressConfig
}

// Server is the HTTP front of the application. It holds no query logic of
// its own: every request maps onto a session operation.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	router  chi.Router
	started time.Time
}

// NewServer builds the router for deps.
func NewServer(deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  logger,
		router:  chi.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.router
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID", "Content-Disposition"},
		MaxAge:         86400,
	}))

	r.With(jsonMiddleware).Get("/health", s.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonMiddleware)
		if opts.Ingress != nil {
			r.Use(Ingress(*opts.Ingress))
		}

		r.Get("/queries", s.listQueries)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.endSession)
				r.Post("/run", s.runQuery)
				r.Post("/select", s.selectQuery)
				r.Post("/clear", s.clearInput)
				r.Get("/history", s.getHistory)
				r.Get("/result", s.getResult)
				r.Get("/export.csv", s.exportCSV)
			})
		})
	})

	if s.deps.WebSocket != nil {
		r.Get("/ws", s.deps.WebSocket.ServeHTTP)
	}
	if s.deps.UI != nil {
		s.deps.UI.Routes(r)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Database    string           `json:"database"`
	Catalog     int              `json:"catalog_queries"`
	Sessions    map[string]any   `json:"sessions"`
	Connections map[string]int   `json:"connections,omitempty"`
	Hub         map[string]int64 `json:"hub,omitempty"`
	System      map[string]any   `json:"system"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	} else {
		dbStatus = "not configured"
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Catalog:   s.deps.Catalog.Len(),
		Sessions:  s.deps.Sessions.GetStats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}
	if s.deps.Registry != nil {
		resp.Connections = s.deps.Registry.GetStats()
	}
	if s.deps.Hub != nil {
		resp.Hub = s.deps.Hub.GetStats()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendSessionError maps session, router and export errors onto status codes.
func (s *Server) sendSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, router.ErrEmptyQuery):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, router.ErrQueryNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrQueryInFlight):
		code = http.StatusConflict
	case errors.Is(err, export.ErrNoRows):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, session.ErrTooManySessions),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	sendError(w, messageFor(err), code)
}

// messageFor returns the user-facing text for err.
func messageFor(err error) string {
	switch {
	case errors.Is(err, router.ErrEmptyQuery):
		return session.MsgEmptyQuery
	case errors.Is(err, export.ErrNoRows):
		return session.MsgExportFailed
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionEnded):
		return "Session not found"
	default:
		return err.Error()
	}
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
