package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/flashbots/ranknet/api/httpserver"
	"github.com/flashbots/ranknet/protocol"
)

// OrchestratorConfig describes a whole in-process deployment.
type OrchestratorConfig struct {
	// WorldSize is the total number of ranks: one coordinator plus
	// WorldSize-1 workers.
	WorldSize int

	// BasePort, when positive, binds the registry to it and the rank
	// services to the following ports. Zero binds everything to ephemeral
	// loopback ports, which is what the tests use.
	BasePort int

	// Protocol carries the role parameters; HalvingRounds and PhaseDeadline
	// apply to the whole world.
	Protocol *protocol.Config

	// Store, when non-nil, receives the coordinator's run record.
	Store RunStore

	// Out receives the coordinator's report lines. Defaults to os.Stdout.
	Out io.Writer

	Log *slog.Logger
}

// Orchestrator deploys a registry and one service per rank within a single
// process.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	registry    *Registry
	registrySrv *httpserver.Server
	registryURL string

	coordinator *HTTPCoordinator
	workers     []*HTTPWorker
	servers     []*httpserver.Server

	cancel context.CancelFunc
}

// NewOrchestrator validates the deployment configuration.
func NewOrchestrator(config *OrchestratorConfig) (*Orchestrator, error) {
	if config.WorldSize < protocol.MinWorldSize {
		return nil, fmt.Errorf("%w: size %d", protocol.ErrWorldTooSmall, config.WorldSize)
	}
	if config.Protocol == nil {
		config.Protocol = &protocol.Config{}
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	return &Orchestrator{config: config, log: config.Log}, nil
}

// Deploy starts the registry and every rank service and kicks off their
// protocol runs. Services assemble the world in the background; use Wait to
// block for completion.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if err := o.deployRegistry(); err != nil {
		return fmt.Errorf("deploying registry: %w", err)
	}
	o.log.Info("Registry deployed", "url", o.registryURL)

	if err := o.deployRanks(ctx); err != nil {
		return fmt.Errorf("deploying ranks: %w", err)
	}

	o.log.Info("Deployment complete", "worldSize", o.config.WorldSize)
	return nil
}

func (o *Orchestrator) listen(offset int) (net.Listener, error) {
	addr := "127.0.0.1:0"
	if o.config.BasePort > 0 {
		addr = fmt.Sprintf("127.0.0.1:%d", o.config.BasePort+offset)
	}
	return net.Listen("tcp", addr)
}

func (o *Orchestrator) deployRegistry() error {
	registry, err := NewRegistry(&RegistryConfig{
		WorldSize: o.config.WorldSize,
		Protocol:  o.config.Protocol,
		Store:     o.config.Store,
	})
	if err != nil {
		return err
	}

	listener, err := o.listen(0)
	if err != nil {
		return err
	}

	srv, err := httpserver.New(&httpserver.Config{
		Listener: listener,
		Log:      o.log.With("service", string(RegistryService)),
	}, registry)
	if err != nil {
		return err
	}
	srv.RunInBackground()

	o.registry = registry
	o.registrySrv = srv
	o.registryURL = "http://" + listener.Addr().String()
	return nil
}

func (o *Orchestrator) deployRanks(ctx context.Context) error {
	// Workers join first so the world is nearly assembled by the time the
	// coordinator starts its run.
	for i := 0; i < o.config.WorldSize-1; i++ {
		worker, err := o.deployWorker(ctx, i)
		if err != nil {
			return fmt.Errorf("deploying worker %d: %w", i, err)
		}
		o.workers = append(o.workers, worker)
	}

	coordinator, err := o.deployCoordinator(ctx)
	if err != nil {
		return fmt.Errorf("deploying coordinator: %w", err)
	}
	o.coordinator = coordinator
	return nil
}

func (o *Orchestrator) deployWorker(ctx context.Context, index int) (*HTTPWorker, error) {
	listener, err := o.listen(1 + index)
	if err != nil {
		return nil, err
	}

	cfg := *o.config.Protocol
	worker, err := NewHTTPWorker(&ServiceConfig{
		HTTPAddr:    listener.Addr().String(),
		RegistryURL: o.registryURL,
		Protocol:    &cfg,
	}, o.log.With("service", string(WorkerService), "index", index))
	if err != nil {
		return nil, err
	}

	srv, err := httpserver.New(&httpserver.Config{
		Listener:     listener,
		Log:          o.log.With("service", string(WorkerService), "index", index),
		WriteTimeout: -1,
	}, worker)
	if err != nil {
		return nil, err
	}
	srv.RunInBackground()
	o.servers = append(o.servers, srv)

	if err := worker.Start(ctx); err != nil {
		return nil, err
	}
	return worker, nil
}

func (o *Orchestrator) deployCoordinator(ctx context.Context) (*HTTPCoordinator, error) {
	listener, err := o.listen(o.config.WorldSize)
	if err != nil {
		return nil, err
	}

	cfg := *o.config.Protocol
	if o.config.Out != nil {
		cfg.Out = o.config.Out
	}
	coordinator, err := NewHTTPCoordinator(&ServiceConfig{
		HTTPAddr:    listener.Addr().String(),
		RegistryURL: o.registryURL,
		Protocol:    &cfg,
	}, o.log.With("service", string(CoordinatorService)))
	if err != nil {
		return nil, err
	}

	srv, err := httpserver.New(&httpserver.Config{
		Listener:     listener,
		Log:          o.log.With("service", string(CoordinatorService)),
		WriteTimeout: -1,
	}, coordinator)
	if err != nil {
		return nil, err
	}
	srv.RunInBackground()
	o.servers = append(o.servers, srv)

	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}
	return coordinator, nil
}

// Coordinator returns the deployed coordinator service.
func (o *Orchestrator) Coordinator() *HTTPCoordinator {
	return o.coordinator
}

// RegistryURL returns the deployed registry's base URL.
func (o *Orchestrator) RegistryURL() string {
	return o.registryURL
}

// Wait blocks until every rank's run has finished, then returns the first
// per-rank error, if any.
func (o *Orchestrator) Wait(ctx context.Context) error {
	services := make([]*baseProtocolService, 0, o.config.WorldSize)
	services = append(services, o.coordinator.baseProtocolService)
	for _, w := range o.workers {
		services = append(services, w.baseProtocolService)
	}

	for {
		done := 0
		for _, svc := range services {
			status := svc.Status()
			if !status.Done {
				continue
			}
			done++
			if status.Error != "" {
				return fmt.Errorf("rank %d failed: %s", status.Rank, status.Error)
			}
		}
		if done == len(services) {
			return nil
		}

		select {
		case <-time.After(25 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops every deployed server.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	for _, srv := range o.servers {
		srv.Shutdown()
	}
	if o.registrySrv != nil {
		o.registrySrv.Shutdown()
	}
}
