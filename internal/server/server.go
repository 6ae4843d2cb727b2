// Package server runs the HTTP listener that hosts the contact form endpoints.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Route mounts one form handler at a path prefix.
type Route struct {
	Name    string
	Path    string
	Handler http.Handler
}

// Config holds the configuration for a Server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	Routes []Route

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	// Gatherer, when non-nil, is exposed at /metrics.
	Gatherer prometheus.Gatherer

	// MetricsAuth guards /metrics. Nil or disabled leaves it open.
	MetricsAuth *Authenticator

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the configured form routes plus health and metrics endpoints.
type Server struct {
	config Config
	router *mux.Router

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server and builds its router.
func New(cfg Config) *Server {
	s := &Server{config: cfg, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", healthz).Methods(http.MethodGet, http.MethodHead)

	if cfg.Gatherer != nil {
		auth := cfg.MetricsAuth
		if auth == nil {
			auth = NewAuthenticator("", "")
		}
		metrics := promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
		s.router.Handle("/metrics", auth.Wrap(metrics)).Methods(http.MethodGet)
	}

	for _, r := range cfg.Routes {
		path := NormalizePath(r.Path)
		s.router.Handle(path, r.Handler).Methods(http.MethodPost)
		if path != "/" {
			s.router.Handle(path+"/", r.Handler).Methods(http.MethodPost)
		}
	}

	return s
}

// NormalizePath gives a mount path a leading slash and no trailing slash.
func NormalizePath(p string) string {
	p = "/" + strings.Trim(p, "/")
	return p
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation it
// stops accepting new connections and waits up to 30 seconds for in-flight
// requests to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}

	routes := make([]string, 0, len(s.config.Routes))
	for _, r := range s.config.Routes {
		routes = append(routes, r.Name+"="+NormalizePath(r.Path))
	}
	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"forms", routes,
		"tls_enabled", s.config.TLSConfig != nil,
		"metrics_enabled", s.config.Gatherer != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
		return nil
	}
	slog.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
