package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/flashbots/ranknet/metrics"
	"github.com/flashbots/ranknet/protocol"
)

// HTTPWorker runs the worker role as an HTTP service.
type HTTPWorker struct {
	*baseProtocolService
}

// NewHTTPWorker creates the worker service.
func NewHTTPWorker(config *ServiceConfig, log *slog.Logger) (*HTTPWorker, error) {
	config.ServiceType = WorkerService
	base, err := newBaseProtocolService(config, log)
	if err != nil {
		return nil, err
	}
	return &HTTPWorker{baseProtocolService: base}, nil
}

// Start launches the service lifecycle in the background: join the world,
// then run the worker role. Progress and failures surface through /status.
func (w *HTTPWorker) Start(ctx context.Context) error {
	go w.serve(ctx)
	return nil
}

func (w *HTTPWorker) serve(ctx context.Context) {
	if err := w.joinWorld(ctx); err != nil {
		w.log.Error("Could not join the world", "err", err)
		w.finish(err)
		return
	}

	worker, err := protocol.NewWorker(w.transport, w.config.Protocol)
	if err != nil {
		w.finish(err)
		return
	}
	w.setRole(worker)
	w.run(ctx, worker)
}

func (w *HTTPWorker) run(ctx context.Context, worker *protocol.Worker) {
	metrics.RecordRunStarted(string(WorkerService))
	started := time.Now()

	err := worker.Run(ctx)
	metrics.ObserveRunDuration(string(WorkerService), time.Since(started))
	metrics.RecordRunCompleted(string(WorkerService), err == nil)
	if err != nil {
		w.log.Error("Protocol run failed", "rank", w.transport.Rank(), "err", err)
	} else {
		w.log.Info("Protocol run completed", "rank", w.transport.Rank())
	}

	w.finish(err)
}
