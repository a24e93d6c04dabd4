package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Worker is the role for every non-zero rank: it receives the seed, reports
// its computed value via gather, services the halving loop until halted, and
// joins the final barrier.
type Worker struct {
	transport GroupTransport
	config    *Config
	world     WorldContext
	out       io.Writer

	phase atomic.Int32
}

// NewWorker creates the role for a non-coordinator rank. It fails on rank 0
// or when the world is too small.
func NewWorker(transport GroupTransport, config *Config) (*Worker, error) {
	world := NewWorldContext(transport)
	if world.IsCoordinator() {
		return nil, errors.New("worker cannot run on rank 0")
	}
	if err := world.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	return &Worker{
		transport: transport,
		config:    config,
		world:     world,
		out:       config.out(),
	}, nil
}

// Phase returns the worker's current protocol phase.
func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

func (w *Worker) setPhase(p Phase) {
	w.phase.Store(int32(p))
}

// Run executes the full worker sequence. On a fatal error after the seed has
// been received, the worker still attempts the barrier before returning, so
// the remaining ranks are not stranded waiting for it.
func (w *Worker) Run(ctx context.Context) error {
	w.setPhase(PhaseSeed)
	seed, err := w.receiveSeed(ctx)
	if err != nil {
		// No report was contributed, so the coordinator cannot complete its
		// gather either; joining the barrier is still the best effort.
		w.setPhase(PhaseBarrier)
		w.barrier(ctx)
		return err
	}

	w.setPhase(PhaseReport)
	if err := w.report(ctx, seed); err != nil {
		w.setPhase(PhaseBarrier)
		w.barrier(ctx)
		return err
	}

	w.setPhase(PhaseHalving)
	loopErr := w.halvingLoop(ctx)

	w.setPhase(PhaseBarrier)
	if err := w.barrier(ctx); err != nil && loopErr == nil {
		return err
	}
	if loopErr != nil {
		return loopErr
	}

	w.setPhase(PhaseDone)
	return nil
}

// receiveSeed blocks on the broadcast and validates the payload kind. A
// non-seed payload is fatal for this rank.
func (w *Worker) receiveSeed(ctx context.Context) (uint64, error) {
	pctx, cancel := w.config.phaseCtx(ctx)
	defer cancel()

	env, err := w.transport.Broadcast(pctx, nil)
	if err != nil {
		return 0, fmt.Errorf("receiving seed broadcast: %w", phaseErr(err))
	}

	seed, ok := env.AsSeed()
	if !ok {
		fmt.Fprintf(w.out, "ERROR: rank %d received a non-seed broadcast payload (%s)\n",
			w.world.Rank, env.Describe())
		return 0, fmt.Errorf("%w: rank %d got %s", ErrMalformedSeed, w.world.Rank, env.Describe())
	}
	return seed, nil
}

// report contributes (identity, seed + rank) via gather.
func (w *Worker) report(ctx context.Context, seed uint64) error {
	pctx, cancel := w.config.phaseCtx(ctx)
	defer cancel()

	contribution := ReportEnvelope(w.transport.LocalIdentity(), ExpectedValue(seed, w.world.Rank))
	if _, err := w.transport.Gather(pctx, contribution); err != nil {
		return fmt.Errorf("contributing report: %w", phaseErr(err))
	}
	return nil
}

// halvingLoop services control messages from the coordinator: every non-halt
// value v is answered with floor(v/2); the halt sentinel ends the loop
// cleanly; a non-control payload ends it fatally.
func (w *Worker) halvingLoop(ctx context.Context) error {
	for {
		pctx, cancel := w.config.phaseCtx(ctx)
		env, err := w.transport.Recv(pctx, 0, ControlChannel)
		cancel()
		if err != nil {
			return fmt.Errorf("receiving control message: %w", phaseErr(err))
		}

		value, ok := env.AsControl()
		if !ok {
			fmt.Fprintf(w.out, "ERROR: rank %d received a non-control message (%s) in the halving loop\n",
				w.world.Rank, env.Describe())
			return fmt.Errorf("%w: rank %d got %s", ErrMalformedControl, w.world.Rank, env.Describe())
		}
		if value == HaltValue {
			return nil
		}

		pctx, cancel = w.config.phaseCtx(ctx)
		err = w.transport.Send(pctx, ControlEnvelope(value/2), 0, ControlChannel)
		cancel()
		if err != nil {
			return fmt.Errorf("sending halving reply: %w", phaseErr(err))
		}
	}
}

func (w *Worker) barrier(ctx context.Context) error {
	pctx, cancel := w.config.phaseCtx(ctx)
	defer cancel()

	if err := w.transport.Barrier(pctx); err != nil {
		return fmt.Errorf("joining barrier: %w", phaseErr(err))
	}
	return nil
}
