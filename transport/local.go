package transport

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/flashbots/ranknet/protocol"
)

// World connects size ranks within one process. Every rank obtains its
// endpoint from Transport and runs its role on its own goroutine; the World
// routes all traffic through channels, so the blocking behavior of each
// primitive follows directly from channel semantics.
type World struct {
	size     int
	hostname string

	// bcast[rank] is buffered so the root returns without waiting for the
	// receivers, matching broadcast's non-synchronizing contract.
	bcast []chan *protocol.Envelope

	// gather[rank] is unbuffered: a contributor blocks until the root
	// collects it.
	gather []chan *protocol.Envelope

	mu  sync.Mutex
	p2p map[p2pKey]chan *protocol.Envelope

	barrierMu      sync.Mutex
	barrierWaiting int
	barrierRelease chan struct{}
}

type p2pKey struct {
	src     int
	dst     int
	channel protocol.ChannelID
}

// NewWorld creates an in-process world of the given size.
func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("world size must be positive, got %d", size)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	w := &World{
		size:           size,
		hostname:       hostname,
		bcast:          make([]chan *protocol.Envelope, size),
		gather:         make([]chan *protocol.Envelope, size),
		p2p:            make(map[p2pKey]chan *protocol.Envelope),
		barrierRelease: make(chan struct{}),
	}
	for i := range w.bcast {
		w.bcast[i] = make(chan *protocol.Envelope, 1)
		w.gather[i] = make(chan *protocol.Envelope)
	}
	return w, nil
}

// Size returns the number of ranks in the world.
func (w *World) Size() int {
	return w.size
}

// Transport returns the endpoint for one rank.
func (w *World) Transport(rank int) (*LocalTransport, error) {
	if rank < 0 || rank >= w.size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, w.size)
	}
	return &LocalTransport{world: w, rank: rank}, nil
}

func (w *World) p2pChannel(key p2pKey) chan *protocol.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.p2p[key]
	if !ok {
		ch = make(chan *protocol.Envelope)
		w.p2p[key] = ch
	}
	return ch
}

// enterBarrier registers one rank and returns the channel that closes when
// the whole world has arrived. The last arrival releases the generation and
// resets for the next one.
func (w *World) enterBarrier() chan struct{} {
	w.barrierMu.Lock()
	defer w.barrierMu.Unlock()

	release := w.barrierRelease
	w.barrierWaiting++
	if w.barrierWaiting == w.size {
		close(release)
		w.barrierWaiting = 0
		w.barrierRelease = make(chan struct{})
	}
	return release
}

// leaveBarrier withdraws a rank that gave up waiting. It reports false when
// the generation was already released, meaning the caller passed the barrier
// after all.
func (w *World) leaveBarrier(release chan struct{}) bool {
	w.barrierMu.Lock()
	defer w.barrierMu.Unlock()

	if w.barrierRelease != release {
		return false
	}
	w.barrierWaiting--
	return true
}

// LocalTransport is one rank's endpoint into an in-process World. It
// implements the protocol.GroupTransport interface.
type LocalTransport struct {
	world *World
	rank  int
}

// Rank implements the protocol.GroupTransport interface.
func (t *LocalTransport) Rank() int { return t.rank }

// Size implements the protocol.GroupTransport interface.
func (t *LocalTransport) Size() int { return t.world.size }

// LocalIdentity implements the protocol.GroupTransport interface. All ranks
// of an in-process world share the host, so the rank disambiguates.
func (t *LocalTransport) LocalIdentity() string {
	return fmt.Sprintf("%s/%d", t.world.hostname, t.rank)
}

// Broadcast implements the protocol.GroupTransport interface. The root
// deposits into every receiver's buffered slot and returns immediately;
// receivers block until their slot fills.
func (t *LocalTransport) Broadcast(ctx context.Context, payload *protocol.Envelope) (*protocol.Envelope, error) {
	if t.rank == 0 {
		for rank := 1; rank < t.world.size; rank++ {
			select {
			case t.world.bcast[rank] <- payload:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return payload, nil
	}

	select {
	case env := <-t.world.bcast[t.rank]:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Gather implements the protocol.GroupTransport interface. The root blocks
// until every other rank has handed over its contribution.
func (t *LocalTransport) Gather(ctx context.Context, contribution *protocol.Envelope) ([]*protocol.Envelope, error) {
	if t.rank != 0 {
		select {
		case t.world.gather[t.rank] <- contribution:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entries := make([]*protocol.Envelope, t.world.size)
	entries[0] = contribution
	for rank := 1; rank < t.world.size; rank++ {
		select {
		case entries[rank] = <-t.world.gather[rank]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entries, nil
}

// Send implements the protocol.GroupTransport interface. The channel is
// unbuffered, so the sender blocks until the matching Recv runs.
func (t *LocalTransport) Send(ctx context.Context, env *protocol.Envelope, dest int, channel protocol.ChannelID) error {
	if dest < 0 || dest >= t.world.size {
		return fmt.Errorf("destination rank %d out of range [0, %d)", dest, t.world.size)
	}

	ch := t.world.p2pChannel(p2pKey{src: t.rank, dst: dest, channel: channel})
	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements the protocol.GroupTransport interface.
func (t *LocalTransport) Recv(ctx context.Context, source int, channel protocol.ChannelID) (*protocol.Envelope, error) {
	if source < 0 || source >= t.world.size {
		return nil, fmt.Errorf("source rank %d out of range [0, %d)", source, t.world.size)
	}

	ch := t.world.p2pChannel(p2pKey{src: source, dst: t.rank, channel: channel})
	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Barrier implements the protocol.GroupTransport interface.
func (t *LocalTransport) Barrier(ctx context.Context) error {
	release := t.world.enterBarrier()
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		if t.world.leaveBarrier(release) {
			return ctx.Err()
		}
		return nil
	}
}
