package protocol

import (
	"context"
	"fmt"
)

const (
	// MinWorldSize is the smallest world the protocol runs in: one
	// coordinator and at least one worker.
	MinWorldSize = 2

	// WideWorldSize is the size at which the three-character rank field in
	// report lines stops aligning. Crossing it is reported but harmless.
	WideWorldSize = 1000
)

// WorldContext describes this process's place in the group. It is created
// once at startup from the transport and is immutable for the process
// lifetime.
type WorldContext struct {
	Rank int
	Size int
}

// NewWorldContext captures the rank and size of a transport.
func NewWorldContext(t GroupTransport) WorldContext {
	return WorldContext{Rank: t.Rank(), Size: t.Size()}
}

// IsCoordinator reports whether this rank drives the protocol.
func (w WorldContext) IsCoordinator() bool {
	return w.Rank == 0
}

// Validate rejects worlds the protocol cannot run in. It is called before
// any phase executes.
func (w WorldContext) Validate() error {
	if w.Size < MinWorldSize {
		return fmt.Errorf("%w: size %d", ErrWorldTooSmall, w.Size)
	}
	return nil
}

// Role is one participant's side of the exchange. Run executes the full
// phase sequence and returns nil only if every phase completed.
type Role interface {
	Run(ctx context.Context) error
	Phase() Phase
}

// NewRole selects the role for the transport's rank: the coordinator for
// rank 0, a worker otherwise. It fails if the world is too small.
func NewRole(transport GroupTransport, config *Config) (Role, error) {
	if NewWorldContext(transport).IsCoordinator() {
		return NewCoordinator(transport, config)
	}
	return NewWorker(transport, config)
}
