package protocol

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"
)

// seedBound is the exclusive upper bound for generated seeds.
var seedBound = new(big.Int).Lsh(big.NewInt(1), 32)

// Coordinator drives the exchange from rank 0: it generates and broadcasts
// the seed, validates the gathered worker reports, runs the halving exchange
// with each structurally valid worker, and joins the final barrier.
type Coordinator struct {
	transport GroupTransport
	config    *Config
	world     WorldContext
	out       io.Writer

	phase atomic.Int32
	seed  atomic.Uint64
}

// NewCoordinator creates the rank-0 role. It fails if the transport is not
// rank 0 or the world is too small; the size check happens here, before any
// phase can execute.
func NewCoordinator(transport GroupTransport, config *Config) (*Coordinator, error) {
	world := NewWorldContext(transport)
	if !world.IsCoordinator() {
		return nil, fmt.Errorf("coordinator must run on rank 0, got rank %d", world.Rank)
	}
	if err := world.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	return &Coordinator{
		transport: transport,
		config:    config,
		world:     world,
		out:       config.out(),
	}, nil
}

// Phase returns the coordinator's current protocol phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Seed returns the seed chosen for this run. It is zero until the seed
// phase has executed.
func (c *Coordinator) Seed() uint64 {
	return c.seed.Load()
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// Run executes the full coordinator sequence. It returns nil unless a fatal
// condition occurred; validation FAIL verdicts and malformed gather entries
// are reported but do not fail the run.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.world.Size >= WideWorldSize {
		fmt.Fprint(c.out, FormatWideWorldLine(c.world.Size))
	}

	seed, err := drawSeed()
	if err != nil {
		return fmt.Errorf("drawing seed: %w", err)
	}
	c.seed.Store(seed)

	c.setPhase(PhaseSeed)
	if err := c.broadcastSeed(ctx, seed); err != nil {
		return err
	}
	fmt.Fprint(c.out, FormatSeedLine(seed))

	c.setPhase(PhaseReport)
	entries, err := c.gatherReports(ctx)
	if err != nil {
		return err
	}

	c.setPhase(PhaseHalving)
	if err := c.reviewAndHalt(ctx, seed, entries); err != nil {
		return err
	}

	c.setPhase(PhaseBarrier)
	if err := c.barrier(ctx); err != nil {
		return err
	}

	c.setPhase(PhaseDone)
	return nil
}

func (c *Coordinator) broadcastSeed(ctx context.Context, seed uint64) error {
	pctx, cancel := c.config.phaseCtx(ctx)
	defer cancel()

	if _, err := c.transport.Broadcast(pctx, SeedEnvelope(seed)); err != nil {
		return fmt.Errorf("broadcasting seed: %w", phaseErr(err))
	}
	return nil
}

func (c *Coordinator) gatherReports(ctx context.Context) ([]*Envelope, error) {
	pctx, cancel := c.config.phaseCtx(ctx)
	defer cancel()

	entries, err := c.transport.Gather(pctx, nil)
	if err != nil {
		return nil, fmt.Errorf("gathering reports: %w", phaseErr(err))
	}

	if len(entries) != c.world.Size {
		fmt.Fprint(c.out, FormatGatherMismatchLine(c.world.Size, len(entries)))
		return nil, fmt.Errorf("%w: world %d, gathered %d", ErrGatherSizeMismatch, c.world.Size, len(entries))
	}
	return entries, nil
}

// reviewAndHalt validates each worker's entry in rank order, prints its
// verdict, runs the configured halving rounds, and sends the halt signal.
// Ranks with a malformed entry are skipped entirely, halt signal included,
// and stay blocked in their halving loop.
func (c *Coordinator) reviewAndHalt(ctx context.Context, seed uint64, entries []*Envelope) error {
	for rank := 1; rank < c.world.Size; rank++ {
		report, ok := entries[rank].AsReport()
		if !ok {
			fmt.Fprint(c.out, FormatMalformedLine(rank, entries[rank]))
			continue
		}

		verdict := VerdictFor(seed, rank, report.Value)
		fmt.Fprint(c.out, FormatVerdictLine(rank, report, verdict))
		if c.config.OnVerdict != nil {
			c.config.OnVerdict(rank, report, verdict)
		}

		if err := c.halveWithWorker(ctx, rank, report.Value); err != nil {
			return err
		}

		if err := c.sendControl(ctx, rank, HaltValue); err != nil {
			return err
		}
	}
	return nil
}

// halveWithWorker drives HalvingRounds value/half exchanges with one worker,
// starting from the value it reported. The loop stops early once the value
// reaches the halt sentinel, which would otherwise terminate the worker
// prematurely.
func (c *Coordinator) halveWithWorker(ctx context.Context, rank int, value uint64) error {
	for round := 0; round < c.config.HalvingRounds && value != HaltValue; round++ {
		if err := c.sendControl(ctx, rank, value); err != nil {
			return err
		}

		pctx, cancel := c.config.phaseCtx(ctx)
		reply, err := c.transport.Recv(pctx, rank, ControlChannel)
		cancel()
		if err != nil {
			return fmt.Errorf("receiving halving reply from rank %d: %w", rank, phaseErr(err))
		}

		got, ok := reply.AsControl()
		if !ok {
			return fmt.Errorf("%w: rank %d replied with %s", ErrMalformedControl, rank, reply.Describe())
		}
		if want := value / 2; got != want {
			return fmt.Errorf("%w: rank %d replied %d to %d, want %d", ErrHalvingMismatch, rank, got, value, want)
		}
		value = got
	}
	return nil
}

func (c *Coordinator) sendControl(ctx context.Context, rank int, value uint64) error {
	pctx, cancel := c.config.phaseCtx(ctx)
	defer cancel()

	if err := c.transport.Send(pctx, ControlEnvelope(value), rank, ControlChannel); err != nil {
		return fmt.Errorf("sending control %d to rank %d: %w", value, rank, phaseErr(err))
	}
	return nil
}

func (c *Coordinator) barrier(ctx context.Context) error {
	pctx, cancel := c.config.phaseCtx(ctx)
	defer cancel()

	if err := c.transport.Barrier(pctx); err != nil {
		return fmt.Errorf("joining barrier: %w", phaseErr(err))
	}
	return nil
}

// drawSeed draws a seed uniformly at random from [0, 2^32).
func drawSeed() (uint64, error) {
	n, err := rand.Int(rand.Reader, seedBound)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}
