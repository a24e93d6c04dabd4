// Command worker runs a non-zero-rank protocol service.
//
// The worker joins the world through the registry, receives the broadcast
// seed, reports seed plus its rank via gather, services the halving loop
// until halted, and joins the final barrier. The process exits 0 when the
// full sequence completed and 1 otherwise.
//
// # Usage
//
//	go run ./cmd/worker --registry=http://localhost:8080
//	go run ./cmd/worker --config=worker.yaml
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
		addr        = flag.String("addr", ":8082", "HTTP listen address")
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

	if cfg.HTTPAddr == "" || *addr != ":8082" {
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

	log := common.SetupLogger(cfg, string(services.WorkerService))

	worker, err := services.NewHTTPWorker(&services.ServiceConfig{
		HTTPAddr:    cfg.HTTPAddr,
		RegistryURL: cfg.RegistryURL,
		Protocol:    cfg.ProtocolConfig(),
	}, log)
	if err != nil {
		log.Error("Could not create worker", "err", err)
		os.Exit(1)
	}

	os.Exit(common.RunProtocolService(cfg, log, worker))
}
