package protocol

import (
	"context"
	"sync"
)

// SentEnvelope records one directed send observed by a MockTransport.
type SentEnvelope struct {
	Env     *Envelope
	Dest    int
	Channel ChannelID
}

// MockTransport implements the GroupTransport interface for testing purposes.
// It allows customization of behavior by setting function implementations.
type MockTransport struct {
	rank     int
	size     int
	identity string

	broadcastFunc func(ctx context.Context, payload *Envelope) (*Envelope, error)
	gatherFunc    func(ctx context.Context, contribution *Envelope) ([]*Envelope, error)
	sendFunc      func(ctx context.Context, env *Envelope, dest int, channel ChannelID) error
	recvFunc      func(ctx context.Context, source int, channel ChannelID) (*Envelope, error)
	barrierFunc   func(ctx context.Context) error

	mu      sync.Mutex
	sent    []SentEnvelope
	barrier int
}

// NewMockTransport creates a mock transport with default implementations:
// collectives succeed and return empty results, directed receives return a
// halt control message.
func NewMockTransport(rank, size int) *MockTransport {
	m := &MockTransport{
		rank:     rank,
		size:     size,
		identity: "mock-host",
	}
	m.broadcastFunc = func(ctx context.Context, payload *Envelope) (*Envelope, error) {
		return payload, nil
	}
	m.gatherFunc = func(ctx context.Context, contribution *Envelope) ([]*Envelope, error) {
		if rank != 0 {
			return nil, nil
		}
		entries := make([]*Envelope, size)
		entries[0] = contribution
		return entries, nil
	}
	m.sendFunc = func(ctx context.Context, env *Envelope, dest int, channel ChannelID) error {
		return nil
	}
	m.recvFunc = func(ctx context.Context, source int, channel ChannelID) (*Envelope, error) {
		return ControlEnvelope(HaltValue), nil
	}
	m.barrierFunc = func(ctx context.Context) error {
		return nil
	}
	return m
}

// Rank implements the GroupTransport interface.
func (m *MockTransport) Rank() int { return m.rank }

// Size implements the GroupTransport interface.
func (m *MockTransport) Size() int { return m.size }

// LocalIdentity implements the GroupTransport interface.
func (m *MockTransport) LocalIdentity() string { return m.identity }

// Broadcast implements the GroupTransport interface.
func (m *MockTransport) Broadcast(ctx context.Context, payload *Envelope) (*Envelope, error) {
	return m.broadcastFunc(ctx, payload)
}

// Gather implements the GroupTransport interface.
func (m *MockTransport) Gather(ctx context.Context, contribution *Envelope) ([]*Envelope, error) {
	return m.gatherFunc(ctx, contribution)
}

// Send implements the GroupTransport interface and records the envelope.
func (m *MockTransport) Send(ctx context.Context, env *Envelope, dest int, channel ChannelID) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentEnvelope{Env: env, Dest: dest, Channel: channel})
	m.mu.Unlock()
	return m.sendFunc(ctx, env, dest, channel)
}

// Recv implements the GroupTransport interface.
func (m *MockTransport) Recv(ctx context.Context, source int, channel ChannelID) (*Envelope, error) {
	return m.recvFunc(ctx, source, channel)
}

// Barrier implements the GroupTransport interface and counts invocations.
func (m *MockTransport) Barrier(ctx context.Context) error {
	m.mu.Lock()
	m.barrier++
	m.mu.Unlock()
	return m.barrierFunc(ctx)
}

// SentEnvelopes returns a copy of every envelope passed to Send, in order.
func (m *MockTransport) SentEnvelopes() []SentEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEnvelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// BarrierCalls returns how many times Barrier was invoked.
func (m *MockTransport) BarrierCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.barrier
}

// SetIdentity overrides the identity returned by LocalIdentity.
func (m *MockTransport) SetIdentity(identity string) {
	m.identity = identity
}

// SetBroadcastFunc allows customization of the Broadcast implementation.
func (m *MockTransport) SetBroadcastFunc(fn func(ctx context.Context, payload *Envelope) (*Envelope, error)) {
	m.broadcastFunc = fn
}

// SetGatherFunc allows customization of the Gather implementation.
func (m *MockTransport) SetGatherFunc(fn func(ctx context.Context, contribution *Envelope) ([]*Envelope, error)) {
	m.gatherFunc = fn
}

// SetSendFunc allows customization of the Send implementation.
func (m *MockTransport) SetSendFunc(fn func(ctx context.Context, env *Envelope, dest int, channel ChannelID) error) {
	m.sendFunc = fn
}

// SetRecvFunc allows customization of the Recv implementation.
func (m *MockTransport) SetRecvFunc(fn func(ctx context.Context, source int, channel ChannelID) (*Envelope, error)) {
	m.recvFunc = fn
}

// SetBarrierFunc allows customization of the Barrier implementation.
func (m *MockTransport) SetBarrierFunc(fn func(ctx context.Context) error) {
	m.barrierFunc = fn
}
