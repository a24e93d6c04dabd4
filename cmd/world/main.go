// Command world runs a complete protocol world in a single process.
//
// By default every rank runs on its own goroutine over the in-process
// channel transport. With --http the world is instead deployed as HTTP
// services on loopback ports through the orchestrator, exercising the same
// code paths the standalone binaries use.
//
// The process exits 0 when every rank completed its sequence cleanly and 1
// otherwise.
//
// # Usage
//
//	go run ./cmd/world --size=4
//	go run ./cmd/world --size=4 --halving-rounds=3 --http
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flashbots/ranknet/cmd/common"
	"github.com/flashbots/ranknet/protocol"
	"github.com/flashbots/ranknet/services"
	"github.com/flashbots/ranknet/transport"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		size          = flag.Int("size", 0, "Number of ranks in the world")
		halvingRounds = flag.Int("halving-rounds", 0, "Halving exchanges per worker before the halt")
		deadline      = flag.Duration("deadline", 0, "Phase deadline (0 blocks forever)")
		useHTTP       = flag.Bool("http", false, "Deploy as HTTP services on loopback ports")
		logJSON       = flag.Bool("log-json", false, "Log in JSON format")
		logDebug      = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := common.LoadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *size > 0 {
		cfg.World.Size = *size
	}
	if *halvingRounds > 0 {
		cfg.World.HalvingRounds = *halvingRounds
	}
	if *deadline > 0 {
		cfg.World.PhaseDeadline = *deadline
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	if *logDebug {
		cfg.LogDebug = true
	}

	log := common.SetupLogger(cfg, "world")

	if *useHTTP {
		os.Exit(runHTTPWorld(cfg, log))
	}
	os.Exit(runLocalWorld(cfg))
}

func runLocalWorld(cfg *common.Config) int {
	world, err := transport.NewWorld(cfg.World.Size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	protoCfg := cfg.ProtocolConfig()
	errs := make([]error, cfg.World.Size)
	var wg sync.WaitGroup
	for rank := 0; rank < cfg.World.Size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			endpoint, err := world.Transport(rank)
			if err != nil {
				errs[rank] = err
				return
			}
			role, err := protocol.NewRole(endpoint, protoCfg)
			if err != nil {
				errs[rank] = err
				return
			}
			errs[rank] = role.Run(context.Background())
		}(rank)
	}
	wg.Wait()

	code := 0
	for rank, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "rank %d: %v\n", rank, err)
			code = 1
		}
	}
	return code
}

func runHTTPWorld(cfg *common.Config, log *slog.Logger) int {
	store, err := cfg.RunStore()
	if err != nil {
		log.Error("Could not open run store", "err", err)
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	orchestrator, err := services.NewOrchestrator(&services.OrchestratorConfig{
		WorldSize: cfg.World.Size,
		Protocol:  cfg.ProtocolConfig(),
		Store:     store,
	})
	if err != nil {
		log.Error("Could not create orchestrator", "err", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := orchestrator.Deploy(ctx); err != nil {
		log.Error("Deployment failed", "err", err)
		return 1
	}
	defer orchestrator.Shutdown()

	if err := orchestrator.Wait(ctx); err != nil {
		log.Error("World run failed", "err", err)
		return 1
	}

	log.Info("World run completed")
	return 0
}
