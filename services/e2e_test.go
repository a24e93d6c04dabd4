package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/ranknet/protocol"
)

func TestOrchestratorRejectsSmallWorlds(t *testing.T) {
	_, err := NewOrchestrator(&OrchestratorConfig{WorldSize: 1})
	require.ErrorIs(t, err, protocol.ErrWorldTooSmall)
}

func TestEndToEndDeployment(t *testing.T) {
	store := NewInMemoryStore()
	var out safeBuffer

	orchestrator, err := NewOrchestrator(&OrchestratorConfig{
		WorldSize: 4,
		Protocol:  &protocol.Config{HalvingRounds: 2},
		Store:     store,
		Out:       &out,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Deploy(ctx))
	defer orchestrator.Shutdown()

	require.NoError(t, orchestrator.Wait(ctx))

	// Every worker checks out, so the run is recorded as a success.
	record := orchestrator.Coordinator().Record()
	require.NotNil(t, record)
	require.True(t, record.Success)
	require.Equal(t, 4, record.WorldSize)
	require.Len(t, record.Verdicts, 3)
	for _, v := range record.Verdicts {
		require.Equal(t, string(protocol.VerdictPass), v.Verdict)
		require.Equal(t, protocol.ExpectedValue(record.Seed, v.Rank), v.Value)
	}

	require.Contains(t, out.String(), "Coordinator @ rank   0: seed ")
	require.NotContains(t, out.String(), "FAIL")

	// The record also reached the registry's store.
	stored, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, record.Seed, stored[0].Seed)

	// And is served by the registry's HTTP API.
	resp, err := http.Get(orchestrator.RegistryURL() + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var runs []*RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
}

func TestEndToEndStatusEndpoints(t *testing.T) {
	orchestrator, err := NewOrchestrator(&OrchestratorConfig{
		WorldSize: 2,
		Out:       &safeBuffer{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Deploy(ctx))
	defer orchestrator.Shutdown()
	require.NoError(t, orchestrator.Wait(ctx))

	status := orchestrator.Coordinator().Status()
	require.True(t, status.Done)
	require.Empty(t, status.Error)
	require.Equal(t, protocol.PhaseDone.String(), status.Phase)
	require.Equal(t, 0, status.Rank)
}

func TestEndToEndWithPhaseDeadline(t *testing.T) {
	// With every rank present the phase deadline never fires and the run
	// completes normally.
	orchestrator, err := NewOrchestrator(&OrchestratorConfig{
		WorldSize: 2,
		Protocol:  &protocol.Config{PhaseDeadline: 5 * time.Second},
		Out:       &safeBuffer{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Deploy(ctx))
	defer orchestrator.Shutdown()
	require.NoError(t, orchestrator.Wait(ctx))
}
