package common

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/ranknet/api/httpserver"
	"github.com/flashbots/ranknet/services"
)

// ProtocolService is the surface the coordinator and worker binaries drive.
type ProtocolService interface {
	httpserver.RouteRegistrar
	Start(ctx context.Context) error
	Status() services.StatusResponse
}

// RunProtocolService runs one protocol service to completion: it starts the
// HTTP server, launches the service, and blocks until the run finishes or a
// signal arrives. The return value is the process exit code: 0 for a clean
// run, 1 otherwise.
func RunProtocolService(cfg *Config, log *slog.Logger, service ProtocolService) int {
	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:   cfg.HTTPAddr,
		MetricsAddr:  cfg.MetricsAddr,
		EnablePprof:  cfg.Pprof,
		Log:          log,
		WriteTimeout: -1,
	}, service)
	if err != nil {
		log.Error("Could not create HTTP server", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.RunInBackground()
	defer srv.Shutdown()

	if err := service.Start(ctx); err != nil {
		log.Error("Could not start service", "err", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Info("Interrupted, shutting down")
			return 1
		case <-ticker.C:
			status := service.Status()
			if !status.Done {
				continue
			}
			if status.Error != "" {
				log.Error("Run failed", "rank", status.Rank, "err", status.Error)
				return 1
			}
			log.Info("Run completed", "rank", status.Rank)
			return 0
		}
	}
}
