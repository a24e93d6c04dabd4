package protocol

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ChannelID identifies a point-to-point message channel between two ranks.
// Delivery is FIFO per matched (source, destination, channel) triple; no
// ordering holds across channels.
type ChannelID int

// ControlChannel carries the halving-loop traffic between the coordinator
// and each worker.
const ControlChannel ChannelID = 0

var (
	// ErrWorldTooSmall is returned when the world has fewer than two ranks.
	ErrWorldTooSmall = errors.New("world must have at least 2 ranks")

	// ErrGatherSizeMismatch is returned by the coordinator when the gather
	// result length differs from the world size. It indicates data loss in
	// the transport and aborts the run.
	ErrGatherSizeMismatch = errors.New("gather result length does not match world size")

	// ErrMalformedSeed is returned by a worker that received a non-seed
	// payload from the broadcast.
	ErrMalformedSeed = errors.New("broadcast payload is not a seed")

	// ErrMalformedControl is returned by a worker that received a
	// non-control payload in its halving loop.
	ErrMalformedControl = errors.New("halving-loop payload is not a control value")

	// ErrPeerUnresponsive wraps a blocking transport call that exceeded the
	// configured phase deadline.
	ErrPeerUnresponsive = errors.New("peer unresponsive within phase deadline")

	// ErrHalvingMismatch is returned by the coordinator when a worker's
	// halving reply is not the floor half of the value it was sent.
	ErrHalvingMismatch = errors.New("halving reply does not match expected value")
)

// GroupTransport is the process-group runtime the protocol runs over. The
// protocol only consumes this contract; implementations provide the four
// group primitives with the blocking semantics documented per method.
type GroupTransport interface {
	// Rank returns this process's unique identity within the world,
	// in [0, Size()).
	Rank() int

	// Size returns the total number of ranks in the world.
	Size() int

	// LocalIdentity returns an opaque per-host label for this rank,
	// typically derived from the hostname.
	LocalIdentity() string

	// Broadcast distributes the root's payload to every rank. Rank 0 calls
	// with the payload; all other ranks call with nil and block until the
	// root's payload arrives. The call blocks the caller but does not
	// synchronize the world: the root may return before any receiver has
	// received.
	Broadcast(ctx context.Context, payload *Envelope) (*Envelope, error)

	// Gather collects one contribution per rank at the root. Rank 0 calls
	// with a placeholder contribution (possibly nil) and blocks until every
	// other rank has contributed; it receives a slice of length Size()
	// indexed by rank, with its own slot holding the placeholder. All other
	// ranks contribute their envelope and receive nil.
	Gather(ctx context.Context, contribution *Envelope) ([]*Envelope, error)

	// Send delivers an envelope to the destination rank on the given
	// channel, blocking until the destination is ready to receive.
	Send(ctx context.Context, env *Envelope, dest int, channel ChannelID) error

	// Recv blocks until an envelope from the source rank arrives on the
	// given channel.
	Recv(ctx context.Context, source int, channel ChannelID) (*Envelope, error)

	// Barrier blocks until every rank in the world has called it.
	Barrier(ctx context.Context) error
}

// ReportFunc receives each worker verdict as the coordinator produces it.
type ReportFunc func(rank int, report *WorkerReport, verdict Verdict)

// Config carries the protocol parameters shared by both roles.
type Config struct {
	// PhaseDeadline bounds every blocking transport call. Zero means block
	// forever, matching classic collective semantics: a stuck peer then
	// stalls its partners indefinitely.
	PhaseDeadline time.Duration

	// HalvingRounds is the number of value/half exchanges the coordinator
	// drives with each structurally valid worker before sending the halt
	// signal. Zero sends the halt signal immediately.
	HalvingRounds int

	// Out receives the human-readable report lines. Defaults to os.Stdout.
	Out io.Writer

	// OnVerdict, if set, is invoked for every per-rank verdict in addition
	// to the report line.
	OnVerdict ReportFunc
}

func (c *Config) out() io.Writer {
	if c == nil || c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// phaseCtx derives the context for one blocking transport call.
func (c *Config) phaseCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.PhaseDeadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.PhaseDeadline)
}

// phaseErr maps a deadline expiry onto ErrPeerUnresponsive so callers can
// distinguish a silent peer from other transport failures.
func phaseErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrPeerUnresponsive, err)
	}
	return err
}
