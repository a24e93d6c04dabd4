// Package httpserver provides the shared HTTP scaffolding for the ranknet
// services: a chi router with the standard middleware, health and drain
// endpoints, and an optional Prometheus metrics listener.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/flashbots/ranknet/common"
	"github.com/flashbots/ranknet/metrics"
)

// RouteRegistrar is implemented by services that mount routes on the shared
// router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Config carries the HTTP server parameters.
type Config struct {
	// ListenAddr is the address the API server binds to. Ignored when
	// Listener is set.
	ListenAddr string

	// Listener, when non-nil, is used instead of ListenAddr. The in-process
	// orchestrator uses this to run services on ephemeral ports.
	Listener net.Listener

	// MetricsAddr is the bind address for the Prometheus endpoint. Empty
	// disables the metrics listener.
	MetricsAddr string

	// EnablePprof mounts the pprof handlers under /debug.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain waits before reporting the drain
	// complete, giving load balancers time to notice the readiness flip.
	DrainDuration time.Duration

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration

	// WriteTimeout bounds response writes. Negative disables the timeout,
	// which the rank services need: their transport routes hold responses
	// open until the peer arrives.
	WriteTimeout time.Duration
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.Log == nil {
		out.Log = slog.Default()
	}
	if out.GracefulShutdownDuration == 0 {
		out.GracefulShutdownDuration = 10 * time.Second
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 15 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 15 * time.Second
	}
	return &out
}

// Server wraps one service's HTTP listener together with the optional
// metrics listener.
type Server struct {
	cfg     *Config
	log     *slog.Logger
	isReady atomic.Bool

	srv        *http.Server
	listener   net.Listener
	metricsSrv *metrics.MetricsServer
}

// New builds a server and mounts each registrar's routes plus the standard
// health endpoints.
func New(cfg *Config, registrars ...RouteRegistrar) (*Server, error) {
	cfg = cfg.withDefaults()

	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		listener:   cfg.Listener,
		metricsSrv: metricsSrv,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.router(registrars),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

func (s *Server) router(registrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	for _, registrar := range registrars {
		registrar.RegisterRoutes(mux)
	}

	mux.With(s.logRequests).Get("/livez", s.handleLivez)
	mux.With(s.logRequests).Get("/readyz", s.handleReadyz)
	mux.With(s.logRequests).Get("/drain", s.handleDrain)
	mux.With(s.logRequests).Get("/undrain", s.handleUndrain)

	if s.cfg.EnablePprof {
		s.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Addr returns the bound address. It is only meaningful once the server is
// running on an explicit listener.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.ListenAddr
}

func writeJSONStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, "alive")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		writeJSONStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSONStatus(w, http.StatusOK, "ready")
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Swap(false) {
		writeJSONStatus(w, http.StatusOK, "already draining")
		return
	}
	s.log.Info("Server marked as not ready")

	go func() {
		time.Sleep(s.cfg.DrainDuration)
		s.log.Info("Drain period completed")
	}()

	writeJSONStatus(w, http.StatusOK, "draining")
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.isReady.Swap(true) {
		writeJSONStatus(w, http.StatusOK, "already ready")
		return
	}
	s.log.Info("Server marked as ready")
	writeJSONStatus(w, http.StatusOK, "ready")
}

// RunInBackground starts the API listener and, when configured, the metrics
// listener on their own goroutines.
func (s *Server) RunInBackground() {
	if s.cfg.MetricsAddr != "" {
		go func() {
			s.log.Info("Starting metrics server", "metricsAddress", s.cfg.MetricsAddr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		var err error
		if s.listener != nil {
			s.log.Info("Starting HTTP server", "listenAddress", s.listener.Addr().String())
			err = s.srv.Serve(s.listener)
		} else {
			s.log.Info("Starting HTTP server", "listenAddress", s.cfg.ListenAddr)
			err = s.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown stops both listeners, waiting up to the graceful shutdown
// duration for in-flight requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		s.log.Info("HTTP server gracefully stopped")
	}

	if s.cfg.MetricsAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			s.log.Info("Metrics server gracefully stopped")
		}
	}
}
