// Package server exposes a Registration over HTTP: the cached app itself,
// the control endpoints used by the page, and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/offline"
)

// ControlPrefix is where the control endpoints are mounted. Requests under
// it never reach the app.
const ControlPrefix = "/__offline"

const maxMessageBytes = 4 << 10

// Server routes requests to the control API or the cached app.
type Server struct {
	reg      *offline.Registration
	app      *offline.Handler
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves the gatherer's metrics at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a Server fronting the app at origin.
func New(reg *offline.Registration, origin string, opts ...Option) (*Server, error) {
	s := &Server{
		reg:    reg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	app, err := offline.NewHandler(origin, reg, offline.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.app = app
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route(ControlPrefix, func(cr chi.Router) {
		cr.Post("/message", s.handleMessage)
		cr.Get("/status", s.handleStatus)
		cr.Post("/clients", s.handleConnect)
		cr.Delete("/clients/{id}", s.handleDisconnect)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle("/*", s.app)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("source", ww.Header().Get(offline.HeaderSource)),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// handleMessage accepts {"type": "..."}. A GET_CACHE_STATUS reply is the
// response body; other messages answer 204.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg offline.Message
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	var reply any
	msg.Port = offline.PortFunc(func(v any) error {
		reply = v
		return nil
	})
	if err := s.reg.HandleMessage(r.Context(), msg); err != nil {
		if errors.Is(err, offline.ErrUnknownMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("handle message", slog.String("type", string(msg.Type)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// WorkerInfo describes one manager in a status report.
type WorkerInfo struct {
	ID        string `json:"id"`
	CacheName string `json:"cache_name"`
	State     string `json:"state"`
}

// Status is the body of GET /__offline/status.
type Status struct {
	Active  *WorkerInfo          `json:"active,omitempty"`
	Waiting *WorkerInfo          `json:"waiting,omitempty"`
	Clients int                  `json:"clients"`
	Cache   *offline.CacheStatus `json:"cache,omitempty"`
}

func workerInfo(m *offline.Manager) *WorkerInfo {
	if m == nil {
		return nil
	}
	return &WorkerInfo{ID: m.ID(), CacheName: m.Config().CacheName, State: m.State().String()}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active := s.reg.Active()
	status := Status{
		Active:  workerInfo(active),
		Waiting: workerInfo(s.reg.Waiting()),
		Clients: s.reg.Clients(),
	}
	if active != nil {
		cs, err := active.CacheStatus(r.Context())
		if err != nil {
			s.logger.Warn("cache status", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status.Cache = &cs
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConnect(w http.ResponseWriter, _ *http.Request) {
	c := s.reg.Connect()
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := s.reg.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown client")
		return
	}
	s.reg.Disconnect(r.Context(), c)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
