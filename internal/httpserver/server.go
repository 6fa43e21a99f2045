// internal/httpserver/server.go
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/mw"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/routes"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// defaultRequestTimeout bounds every non-streaming request.
const defaultRequestTimeout = 15 * time.Second

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http    *http.Server
	logger  logger.Logger
	started time.Time
}

// NewRouter builds the router (middlewares, route registration).
func NewRouter(loggerClient logger.Logger, d deps.Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()

	// --- Global middlewares (safe defaults)
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID) // X-Request-ID on each request
	r.Use(middleware.Recoverer) // never crash the process on panic
	r.Use(mw.Log(loggerClient, d.TrustProxy))

	routes.RegisterAll(r, d)
	return r
}

// New builds the HTTP server.
func New(cfg config.ServerConfig, loggerClient logger.Logger, d deps.Deps) *Server {
	log := loggerClient.Named("http")
	d.Logger = log

	// No WriteTimeout: the snapshot stream is long-lived. Other routes are
	// bounded by the request timeout middleware.
	s := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(log, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{
		http:    s,
		logger:  log,
		started: d.StartTime,
	}
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the HTTP server on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infof("HTTP server listening on %s", ln.Addr())
	err := s.http.Serve(ln)
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...")
	return s.http.Shutdown(ctx)
}
