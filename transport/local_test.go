package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/ranknet/protocol"
)

func newTestWorld(t *testing.T, size int) (*World, []*LocalTransport) {
	world, err := NewWorld(size)
	require.NoError(t, err)

	transports := make([]*LocalTransport, size)
	for rank := 0; rank < size; rank++ {
		transports[rank], err = world.Transport(rank)
		require.NoError(t, err)
	}
	return world, transports
}

func TestWorldRejectsBadRanks(t *testing.T) {
	_, err := NewWorld(0)
	require.Error(t, err)

	world, err := NewWorld(2)
	require.NoError(t, err)
	_, err = world.Transport(-1)
	require.Error(t, err)
	_, err = world.Transport(2)
	require.Error(t, err)
}

func TestBroadcastDoesNotSynchronize(t *testing.T) {
	_, transports := newTestWorld(t, 3)
	ctx := context.Background()

	// The root returns before any receiver has read its slot.
	payload := protocol.SeedEnvelope(11)
	got, err := transports[0].Broadcast(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	for rank := 1; rank < 3; rank++ {
		got, err := transports[rank].Broadcast(ctx, nil)
		require.NoError(t, err)
		seed, ok := got.AsSeed()
		require.True(t, ok)
		require.Equal(t, uint64(11), seed)
	}
}

func TestGatherBlocksRootForAllRanks(t *testing.T) {
	_, transports := newTestWorld(t, 3)
	ctx := context.Background()

	rootDone := make(chan []*protocol.Envelope)
	go func() {
		entries, err := transports[0].Gather(ctx, nil)
		require.NoError(t, err)
		rootDone <- entries
	}()

	// With only one of two contributions in, the root must still be blocked.
	go func() {
		_, err := transports[1].Gather(ctx, protocol.ReportEnvelope("h1", 1))
		require.NoError(t, err)
	}()
	select {
	case <-rootDone:
		t.Fatal("root returned before all ranks contributed")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := transports[2].Gather(ctx, protocol.ReportEnvelope("h2", 2))
	require.NoError(t, err)

	entries := <-rootDone
	require.Len(t, entries, 3)
	require.Nil(t, entries[0])
	report, ok := entries[1].AsReport()
	require.True(t, ok)
	require.Equal(t, "h1", report.Identifier)
	report, ok = entries[2].AsReport()
	require.True(t, ok)
	require.Equal(t, "h2", report.Identifier)
}

func TestSendRecvRendezvous(t *testing.T) {
	_, transports := newTestWorld(t, 2)
	ctx := context.Background()

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- transports[0].Send(ctx, protocol.ControlEnvelope(8), 1, protocol.ControlChannel)
	}()

	env, err := transports[1].Recv(ctx, 0, protocol.ControlChannel)
	require.NoError(t, err)
	value, ok := env.AsControl()
	require.True(t, ok)
	require.Equal(t, uint64(8), value)
	require.NoError(t, <-sendDone)
}

func TestSendRecvOrderedPerChannel(t *testing.T) {
	_, transports := newTestWorld(t, 2)
	ctx := context.Background()

	go func() {
		for _, v := range []uint64{3, 2, 1} {
			_ = transports[0].Send(ctx, protocol.ControlEnvelope(v), 1, protocol.ControlChannel)
		}
	}()

	for _, want := range []uint64{3, 2, 1} {
		env, err := transports[1].Recv(ctx, 0, protocol.ControlChannel)
		require.NoError(t, err)
		got, ok := env.AsControl()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestRecvHonorsContextCancellation(t *testing.T) {
	_, transports := newTestWorld(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := transports[1].Recv(ctx, 0, protocol.ControlChannel)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBarrierReleasesAllTogether(t *testing.T) {
	_, transports := newTestWorld(t, 3)
	ctx := context.Background()

	released := make(chan int, 3)
	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			require.NoError(t, transports[rank].Barrier(ctx))
			released <- rank
		}(rank)
	}

	select {
	case rank := <-released:
		t.Fatalf("rank %d passed the barrier before the world arrived", rank)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, transports[2].Barrier(ctx))
	wg.Wait()
	require.Len(t, released, 2)
}

func TestBarrierSurvivesAbandonedRank(t *testing.T) {
	_, transports := newTestWorld(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := transports[0].Barrier(ctx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned entry must not count toward the next generation.
	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			require.NoError(t, transports[rank].Barrier(context.Background()))
		}(rank)
	}
	wg.Wait()
}

func TestLocalIdentityIncludesRank(t *testing.T) {
	_, transports := newTestWorld(t, 2)
	require.NotEqual(t, transports[0].LocalIdentity(), transports[1].LocalIdentity())
	require.True(t, strings.HasSuffix(transports[1].LocalIdentity(), "/1"))
}

// runWorld executes one role per rank and returns the per-rank errors along
// with the coordinator's output.
func runWorld(t *testing.T, size int, configFor func(rank int, out *bytes.Buffer) *protocol.Config) ([]error, *bytes.Buffer) {
	_, transports := newTestWorld(t, size)

	var out bytes.Buffer
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			role, err := protocol.NewRole(transports[rank], configFor(rank, &out))
			if err != nil {
				errs[rank] = err
				return
			}
			errs[rank] = role.Run(context.Background())
		}(rank)
	}
	wg.Wait()
	return errs, &out
}

func TestEndToEndAllPass(t *testing.T) {
	var mu sync.Mutex
	verdicts := map[int]protocol.Verdict{}

	errs, out := runWorld(t, 4, func(rank int, out *bytes.Buffer) *protocol.Config {
		if rank != 0 {
			return &protocol.Config{Out: &bytes.Buffer{}}
		}
		return &protocol.Config{
			Out: out,
			OnVerdict: func(rank int, report *protocol.WorkerReport, verdict protocol.Verdict) {
				mu.Lock()
				verdicts[rank] = verdict
				mu.Unlock()
			},
		}
	})

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	require.Len(t, verdicts, 3)
	for rank := 1; rank < 4; rank++ {
		require.Equal(t, protocol.VerdictPass, verdicts[rank])
	}
	require.Contains(t, out.String(), "Coordinator @ rank   0: seed ")
	require.NotContains(t, out.String(), "FAIL")
}

func TestEndToEndWithHalvingRounds(t *testing.T) {
	errs, out := runWorld(t, 3, func(rank int, out *bytes.Buffer) *protocol.Config {
		buf := out
		if rank != 0 {
			buf = &bytes.Buffer{}
		}
		return &protocol.Config{Out: buf, HalvingRounds: 4}
	})

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	require.NotContains(t, out.String(), "FAIL")
}

func TestEndToEndDeadlineSurfacesUnresponsivePeer(t *testing.T) {
	_, transports := newTestWorld(t, 2)

	// The worker never starts, so the coordinator's gather stalls until the
	// phase deadline fires.
	coordinator, err := protocol.NewCoordinator(transports[0], &protocol.Config{
		Out:           &bytes.Buffer{},
		PhaseDeadline: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	err = coordinator.Run(context.Background())
	require.ErrorIs(t, err, protocol.ErrPeerUnresponsive)
}

func TestEndToEndMixedVerdicts(t *testing.T) {
	// Rank 2 misbehaves: it reports an off-by-one value but otherwise follows
	// the protocol, so the run completes with one FAIL line.
	size := 3
	_, transports := newTestWorld(t, size)

	var out bytes.Buffer
	var wg sync.WaitGroup
	errs := make([]error, size)

	wg.Add(1)
	go func() {
		defer wg.Done()
		coordinator, err := protocol.NewCoordinator(transports[0], &protocol.Config{Out: &out})
		if err != nil {
			errs[0] = err
			return
		}
		errs[0] = coordinator.Run(context.Background())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker, err := protocol.NewWorker(transports[1], &protocol.Config{Out: &bytes.Buffer{}})
		if err != nil {
			errs[1] = err
			return
		}
		errs[1] = worker.Run(context.Background())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[2] = runDeviantWorker(transports[2])
	}()

	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	require.Contains(t, out.String(), "is PASS (from")
	require.Contains(t, out.String(), "is FAIL (from")
}

// runDeviantWorker follows the wire protocol but reports seed+rank+1.
func runDeviantWorker(transport *LocalTransport) error {
	ctx := context.Background()

	env, err := transport.Broadcast(ctx, nil)
	if err != nil {
		return err
	}
	seed, ok := env.AsSeed()
	if !ok {
		return fmt.Errorf("expected seed, got %s", env.Describe())
	}

	wrong := protocol.ExpectedValue(seed, transport.Rank()) + 1
	if _, err := transport.Gather(ctx, protocol.ReportEnvelope(transport.LocalIdentity(), wrong)); err != nil {
		return err
	}

	for {
		env, err := transport.Recv(ctx, 0, protocol.ControlChannel)
		if err != nil {
			return err
		}
		value, ok := env.AsControl()
		if !ok {
			return fmt.Errorf("expected control, got %s", env.Describe())
		}
		if value == protocol.HaltValue {
			break
		}
		if err := transport.Send(ctx, protocol.ControlEnvelope(value/2), 0, protocol.ControlChannel); err != nil {
			return err
		}
	}

	return transport.Barrier(ctx)
}
