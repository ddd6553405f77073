// Package server exposes the session controller over a local HTTP API and
// streams job transitions to websocket subscribers.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/metrics"
	"github.com/teranos/recwake/pulse/schedule"
)

// Controller is the part of *session.Controller the API drives.
type Controller interface {
	Schedule(ctx context.Context, start time.Time, durationSeconds int) (*schedule.Job, error)
	Cancel(ctx context.Context) (*schedule.Job, error)
	Stop(ctx context.Context) (*schedule.Job, error)
	Status(ctx context.Context) (*schedule.Job, error)
	Fire(jobID string)
	OnChange(fn func(*schedule.Job))
}

// RecordingLister lists finished recordings, newest first.
// *schedule.RecordingStore implements it.
type RecordingLister interface {
	List(ctx context.Context, limit int) ([]schedule.Recording, error)
}

// Config wires a Server.
type Config struct {
	Address        string
	AllowedOrigins []string
	Controller     Controller
	Recordings     RecordingLister    // optional
	Metrics        *metrics.Collector // optional; enables /metrics
}

// Server is the control API.
type Server struct {
	ctrl       Controller
	recordings RecordingLister
	metrics    *metrics.Collector
	address    string
	origins    atomic.Pointer[[]string]
	handler    http.Handler

	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	clients  map[*wsClient]bool
	shutdown bool

	logger *zap.SugaredLogger
}

// New creates a server and subscribes it to controller transitions.
func New(cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.Logger
	}
	s := &Server{
		ctrl:       cfg.Controller,
		recordings: cfg.Recordings,
		metrics:    cfg.Metrics,
		address:    cfg.Address,
		clients:    make(map[*wsClient]bool),
		logger:     log.Named("server"),
	}
	s.SetAllowedOrigins(cfg.AllowedOrigins)
	s.handler = s.routes()
	s.ctrl.OnChange(s.broadcastJob)
	return s
}

// Handler returns the API handler with CORS and request IDs applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/job", s.handleSchedule)
	mux.HandleFunc("GET /api/job", s.handleStatus)
	mux.HandleFunc("DELETE /api/job", s.handleCancel)
	mux.HandleFunc("POST /api/job/stop", s.handleStop)
	mux.HandleFunc("POST /api/wake/{jobID}", s.handleWake)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.requestIDMiddleware(s.corsMiddleware(mux))
}

// SetAllowedOrigins replaces the CORS and websocket origin allow-list.
// Entries are matched as prefixes so any port is accepted.
func (s *Server) SetAllowedOrigins(origins []string) {
	cp := append([]string(nil), origins...)
	s.origins.Store(&cp)
}

// checkOrigin validates a browser origin against the allow-list. Requests
// without an Origin header (CLI, curl) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range *s.origins.Load() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags the request context with an ID, taken from
// X-Request-ID when the caller sent one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)
		s.logger.Debugw("Request",
			append(logger.FieldsFromContext(ctx), "method", r.Method, logger.FieldPath, r.URL.Path)...)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to listen on %s", s.address),
			"is another recwake daemon running? change server.address in am.toml")
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Infow("Control API listening", logger.FieldAddress, ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "control API stopped")
	}
	return nil
}

// Addr returns the bound address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes websocket subscribers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	srv := s.httpServer
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down control API")
	}
	return nil
}
