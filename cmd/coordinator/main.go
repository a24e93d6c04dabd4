// Command coordinator runs the rank-0 protocol service.
//
// The coordinator joins the world through the registry, broadcasts the
// seed, validates the gathered worker reports, drives the halving exchange,
// and reports the completed run back to the registry. The process exits 0
// when the full sequence completed and 1 otherwise.
//
// # Usage
//
//	go run ./cmd/coordinator --registry=http://localhost:8080
//	go run ./cmd/coordinator --config=coordinator.yaml
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/flashbots/ranknet/cmd/common"
	"github.com/flashbots/ranknet/services"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", ":8081", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address (empty disables)")
		registryURL = flag.String("registry", "", "Registry URL")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := common.LoadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.HTTPAddr == "" || *addr != ":8081" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *registryURL != "" {
		cfg.RegistryURL = *registryURL
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	if *logDebug {
		cfg.LogDebug = true
	}

	if cfg.RegistryURL == "" {
		fmt.Fprintln(os.Stderr, "Error: registry_url is required (via --registry or config file)")
		os.Exit(1)
	}

	log := common.SetupLogger(cfg, string(services.CoordinatorService))

	coordinator, err := services.NewHTTPCoordinator(&services.ServiceConfig{
		HTTPAddr:    cfg.HTTPAddr,
		RegistryURL: cfg.RegistryURL,
		Protocol:    cfg.ProtocolConfig(),
	}, log)
	if err != nil {
		log.Error("Could not create coordinator", "err", err)
		os.Exit(1)
	}

	os.Exit(common.RunProtocolService(cfg, log, coordinator))
}
