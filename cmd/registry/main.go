// Command registry runs the rank-assignment and membership service.
//
// The registry assigns rank 0 to the coordinator and the remaining ranks to
// workers in arrival order, publishes the membership once the world is
// complete, and optionally persists completed runs to PostgreSQL.
//
// # Configuration File
//
//	http_addr: ":8080"
//	metrics_addr: ":9090"
//	world:
//	  size: 4
//	  halving_rounds: 0
//	  phase_deadline: 0s
//	postgres:
//	  host: ""          # Empty disables run persistence
//
// # Usage
//
//	go run ./cmd/registry --config=registry.yaml
//	go run ./cmd/registry --addr=:8080 --world-size=4
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flashbots/ranknet/api/httpserver"
	"github.com/flashbots/ranknet/cmd/common"
	"github.com/flashbots/ranknet/services"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		addr          = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr   = flag.String("metrics-addr", "", "Metrics listen address (empty disables)")
		worldSize     = flag.Int("world-size", 0, "Number of ranks in the world")
		halvingRounds = flag.Int("halving-rounds", 0, "Halving exchanges per worker before the halt")
		logJSON       = flag.Bool("log-json", false, "Log in JSON format")
		logDebug      = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := common.LoadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.HTTPAddr == "" || *addr != ":8080" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *worldSize > 0 {
		cfg.World.Size = *worldSize
	}
	if *halvingRounds > 0 {
		cfg.World.HalvingRounds = *halvingRounds
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	if *logDebug {
		cfg.LogDebug = true
	}

	log := common.SetupLogger(cfg, string(services.RegistryService))

	store, err := cfg.RunStore()
	if err != nil {
		log.Error("Could not open run store", "err", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	registry, err := services.NewRegistry(&services.RegistryConfig{
		WorldSize: cfg.World.Size,
		Protocol:  cfg.ProtocolConfig(),
		Store:     store,
	})
	if err != nil {
		log.Error("Could not create registry", "err", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:  cfg.HTTPAddr,
		MetricsAddr: cfg.MetricsAddr,
		EnablePprof: cfg.Pprof,
		Log:         log,
	}, registry)
	if err != nil {
		log.Error("Could not create HTTP server", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	log.Info("Registry running", "addr", cfg.HTTPAddr, "worldSize", cfg.World.Size)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down registry")
	srv.Shutdown()
}
