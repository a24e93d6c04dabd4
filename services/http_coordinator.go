package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flashbots/ranknet/metrics"
	"github.com/flashbots/ranknet/protocol"
)

// HTTPCoordinator runs the coordinator role as an HTTP service: it joins
// the world through the registry, drives the protocol over the HTTP
// transport, and reports the completed run back to the registry.
type HTTPCoordinator struct {
	*baseProtocolService

	recordMu sync.Mutex
	record   *RunRecord
}

// NewHTTPCoordinator creates the coordinator service.
func NewHTTPCoordinator(config *ServiceConfig, log *slog.Logger) (*HTTPCoordinator, error) {
	config.ServiceType = CoordinatorService
	base, err := newBaseProtocolService(config, log)
	if err != nil {
		return nil, err
	}
	return &HTTPCoordinator{baseProtocolService: base}, nil
}

// Start launches the service lifecycle in the background: join the world,
// then drive the protocol. Progress and failures surface through /status.
func (c *HTTPCoordinator) Start(ctx context.Context) error {
	go c.serve(ctx)
	return nil
}

func (c *HTTPCoordinator) serve(ctx context.Context) {
	if err := c.joinWorld(ctx); err != nil {
		c.log.Error("Could not join the world", "err", err)
		c.finish(err)
		return
	}

	cfg := *c.config.Protocol
	userVerdict := cfg.OnVerdict
	cfg.OnVerdict = func(rank int, report *protocol.WorkerReport, verdict protocol.Verdict) {
		c.recordVerdict(rank, report, verdict)
		if userVerdict != nil {
			userVerdict(rank, report, verdict)
		}
	}

	coordinator, err := protocol.NewCoordinator(c.transport, &cfg)
	if err != nil {
		c.finish(err)
		return
	}
	c.setRole(coordinator)

	c.recordMu.Lock()
	c.record = &RunRecord{
		WorldSize: c.transport.Size(),
		StartedAt: time.Now().UTC(),
	}
	c.recordMu.Unlock()

	c.run(ctx, coordinator)
}

func (c *HTTPCoordinator) run(ctx context.Context, coordinator *protocol.Coordinator) {
	metrics.RecordRunStarted(string(CoordinatorService))
	started := time.Now()

	err := coordinator.Run(ctx)
	metrics.ObserveRunDuration(string(CoordinatorService), time.Since(started))
	metrics.RecordRunCompleted(string(CoordinatorService), err == nil)
	if err != nil {
		c.log.Error("Protocol run failed", "err", err)
	} else {
		c.log.Info("Protocol run completed", "seed", coordinator.Seed())
	}

	c.recordMu.Lock()
	c.record.Seed = coordinator.Seed()
	c.record.Success = err == nil && c.allPassed()
	record := c.record
	c.recordMu.Unlock()

	if saveErr := c.saveRun(ctx, record); saveErr != nil {
		c.log.Warn("Could not persist run record", "err", saveErr)
	}

	c.finish(err)
}

func (c *HTTPCoordinator) recordVerdict(rank int, report *protocol.WorkerReport, verdict protocol.Verdict) {
	metrics.RecordVerdict(string(verdict))

	c.recordMu.Lock()
	defer c.recordMu.Unlock()
	c.record.Verdicts = append(c.record.Verdicts, &RankVerdict{
		Rank:       rank,
		Identifier: report.Identifier,
		Value:      report.Value,
		Verdict:    string(verdict),
	})
}

// allPassed holds recordMu via its caller.
func (c *HTTPCoordinator) allPassed() bool {
	if len(c.record.Verdicts) != c.record.WorldSize-1 {
		return false
	}
	for _, v := range c.record.Verdicts {
		if v.Verdict != string(protocol.VerdictPass) {
			return false
		}
	}
	return true
}

func (c *HTTPCoordinator) saveRun(ctx context.Context, record *RunRecord) error {
	body, err := protocol.SerializeMessage(record)
	if err != nil {
		return err
	}

	_, err = c.postOnce(ctx, c.config.RegistryURL+"/runs", body)
	if err != nil {
		// The registry answers 501 when no store is configured; that is not
		// a failure of the run.
		return fmt.Errorf("posting run record: %w", err)
	}
	return nil
}

// Record returns a snapshot of the run record assembled so far.
func (c *HTTPCoordinator) Record() *RunRecord {
	c.recordMu.Lock()
	defer c.recordMu.Unlock()
	if c.record == nil {
		return nil
	}
	snapshot := *c.record
	snapshot.Verdicts = append([]*RankVerdict(nil), c.record.Verdicts...)
	return &snapshot
}
