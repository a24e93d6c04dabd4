package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkerRejectsBadWorlds(t *testing.T) {
	_, err := NewWorker(NewMockTransport(0, 3), nil)
	require.Error(t, err)

	_, err = NewWorker(NewMockTransport(1, 1), nil)
	require.ErrorIs(t, err, ErrWorldTooSmall)
}

func TestWorkerHappyPath(t *testing.T) {
	transport := NewMockTransport(2, 3)
	transport.SetIdentity("host-2")
	transport.SetBroadcastFunc(func(ctx context.Context, payload *Envelope) (*Envelope, error) {
		require.Nil(t, payload)
		return SeedEnvelope(100), nil
	})

	var contribution *Envelope
	transport.SetGatherFunc(func(ctx context.Context, env *Envelope) ([]*Envelope, error) {
		contribution = env
		return nil, nil
	})

	worker, err := NewWorker(transport, &Config{Out: &bytes.Buffer{}})
	require.NoError(t, err)

	require.NoError(t, worker.Run(context.Background()))
	require.Equal(t, PhaseDone, worker.Phase())

	report, ok := contribution.AsReport()
	require.True(t, ok)
	require.Equal(t, "host-2", report.Identifier)
	require.Equal(t, uint64(102), report.Value)

	// The default mock delivers the halt immediately; nothing was halved.
	require.Empty(t, transport.SentEnvelopes())
	require.Equal(t, 1, transport.BarrierCalls())
}

func TestWorkerHalvesUntilHalted(t *testing.T) {
	transport := NewMockTransport(1, 2)
	transport.SetBroadcastFunc(func(ctx context.Context, payload *Envelope) (*Envelope, error) {
		return SeedEnvelope(7), nil
	})

	controls := []*Envelope{ControlEnvelope(9), ControlEnvelope(4), ControlEnvelope(HaltValue)}
	transport.SetRecvFunc(func(ctx context.Context, source int, channel ChannelID) (*Envelope, error) {
		require.Equal(t, 0, source)
		require.Equal(t, ControlChannel, channel)
		env := controls[0]
		controls = controls[1:]
		return env, nil
	})

	worker, err := NewWorker(transport, &Config{Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, worker.Run(context.Background()))

	sent := transport.SentEnvelopes()
	require.Len(t, sent, 2)
	values := make([]uint64, 0, 2)
	for _, s := range sent {
		require.Equal(t, 0, s.Dest)
		v, ok := s.Env.AsControl()
		require.True(t, ok)
		values = append(values, v)
	}
	// Integer division rounds down: 9 halves to 4.
	require.Equal(t, []uint64{4, 2}, values)
	require.Empty(t, controls)
}

func TestWorkerMalformedSeedIsFatal(t *testing.T) {
	transport := NewMockTransport(1, 2)
	transport.SetBroadcastFunc(func(ctx context.Context, payload *Envelope) (*Envelope, error) {
		return ControlEnvelope(5), nil
	})

	gathered := false
	transport.SetGatherFunc(func(ctx context.Context, env *Envelope) ([]*Envelope, error) {
		gathered = true
		return nil, nil
	})

	var out bytes.Buffer
	worker, err := NewWorker(transport, &Config{Out: &out})
	require.NoError(t, err)

	err = worker.Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedSeed)
	require.Contains(t, out.String(), "ERROR: rank 1 received a non-seed broadcast payload (control)")

	// No report goes out, but the barrier is still attempted.
	require.False(t, gathered)
	require.Equal(t, 1, transport.BarrierCalls())
	require.Equal(t, PhaseBarrier, worker.Phase())
}

func TestWorkerMalformedControlIsFatal(t *testing.T) {
	transport := NewMockTransport(1, 2)
	transport.SetBroadcastFunc(func(ctx context.Context, payload *Envelope) (*Envelope, error) {
		return SeedEnvelope(1), nil
	})
	transport.SetRecvFunc(func(ctx context.Context, source int, channel ChannelID) (*Envelope, error) {
		return SeedEnvelope(1), nil
	})

	var out bytes.Buffer
	worker, err := NewWorker(transport, &Config{Out: &out})
	require.NoError(t, err)

	err = worker.Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedControl)
	require.Contains(t, out.String(), "ERROR: rank 1 received a non-control message (seed) in the halving loop")
	require.Equal(t, 1, transport.BarrierCalls())
}

func TestNewRoleSelectsByRank(t *testing.T) {
	role, err := NewRole(NewMockTransport(0, 2), nil)
	require.NoError(t, err)
	require.IsType(t, &Coordinator{}, role)

	role, err = NewRole(NewMockTransport(1, 2), nil)
	require.NoError(t, err)
	require.IsType(t, &Worker{}, role)
}
