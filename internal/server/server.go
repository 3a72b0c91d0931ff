// Package server exposes the pipeline's health, readiness, and metrics
// surface over HTTP, adapted from the teacher's CalendarServer: the same
// graceful-shutdown shape (http.Server run in a goroutine, select on
// ctx.Done() vs. a buffered error channel, bounded Shutdown), generalized
// from serving a single cached ICS payload to routing three small endpoints
// via chi.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tartampluch/greeter-service/internal/config"
)

// Checker is a dependency the readiness endpoint pings before reporting 200.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server serves /healthz, /readyz, and /metrics.
type Server struct {
	Port   string
	Checks map[string]Checker
}

// New builds a Server. checks is a name->Checker map (e.g. "database",
// "broker"); each is pinged on every /readyz call.
func New(port string, checks map[string]Checker) *Server {
	return &Server{Port: port, Checks: checks}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	// Permissive CORS on the metrics/health surface only: these endpoints
	// carry no credentials and are routinely polled from browser-based
	// dashboards (Grafana's JSON datasource, internal status pages).
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// within config.DefaultShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	if s.Port == "" {
		return fmt.Errorf(config.ErrPortRequired)
	}

	srv := &http.Server{
		Addr:         ":" + s.Port,
		Handler:      s.router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info(config.MsgServerListen, slog.String(config.LogKeyComponent, config.CompServer), slog.String(config.LogKeyPort, s.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info(config.MsgServerStop, slog.String(config.LogKeyComponent, config.CompServer))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", config.ErrServerShutdown, err)
		}
		return nil
	case err := <-serverErr:
		return fmt.Errorf("%s: %w", config.ErrServerStartup, err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for name, checker := range s.Checks {
		if err := checker.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed",
				slog.String(config.LogKeyComponent, config.CompServer),
				slog.String("check", name),
				slog.String(config.LogKeyError, err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
