package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/ranknet/protocol"
)

func newTestRegistry(t *testing.T, config *RegistryConfig) (*Registry, *httptest.Server) {
	registry, err := NewRegistry(config)
	require.NoError(t, err)

	router := chi.NewRouter()
	registry.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return registry, srv
}

func postRegister(t *testing.T, url string, req *RegisterRequest) (*http.Response, *RegisterResponse) {
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(url+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	regResp, err := protocol.DecodeMessage[RegisterResponse](resp.Body)
	require.NoError(t, err)
	return resp, regResp
}

func TestNewRegistryRejectsSmallWorlds(t *testing.T) {
	_, err := NewRegistry(&RegistryConfig{WorldSize: 1})
	require.ErrorIs(t, err, protocol.ErrWorldTooSmall)
}

func TestRegistryAssignsRanks(t *testing.T) {
	_, srv := newTestRegistry(t, &RegistryConfig{WorldSize: 3})

	// The coordinator always lands on rank 0, regardless of arrival order.
	resp, reg := postRegister(t, srv.URL, &RegisterRequest{
		ServiceType: WorkerService, HTTPEndpoint: "http://w1", Identity: "w1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, reg.Rank)
	require.Equal(t, 3, reg.Size)

	resp, reg = postRegister(t, srv.URL, &RegisterRequest{
		ServiceType: CoordinatorService, HTTPEndpoint: "http://c", Identity: "c",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, reg.Rank)

	resp, reg = postRegister(t, srv.URL, &RegisterRequest{
		ServiceType: WorkerService, HTTPEndpoint: "http://w2", Identity: "w2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, reg.Rank)
}

func TestRegistryRejectsConflicts(t *testing.T) {
	_, srv := newTestRegistry(t, &RegistryConfig{WorldSize: 2})

	resp, _ := postRegister(t, srv.URL, &RegisterRequest{ServiceType: CoordinatorService, HTTPEndpoint: "http://c"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postRegister(t, srv.URL, &RegisterRequest{ServiceType: CoordinatorService, HTTPEndpoint: "http://c2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postRegister(t, srv.URL, &RegisterRequest{ServiceType: WorkerService, HTTPEndpoint: "http://w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postRegister(t, srv.URL, &RegisterRequest{ServiceType: WorkerService, HTTPEndpoint: "http://w2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postRegister(t, srv.URL, &RegisterRequest{ServiceType: RegistryService, HTTPEndpoint: "http://r"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegistryWorldCompleteness(t *testing.T) {
	registry, srv := newTestRegistry(t, &RegistryConfig{WorldSize: 2})

	require.False(t, registry.World().Complete)

	postRegister(t, srv.URL, &RegisterRequest{ServiceType: CoordinatorService, HTTPEndpoint: "http://c", Identity: "c"})
	require.False(t, registry.World().Complete)

	postRegister(t, srv.URL, &RegisterRequest{ServiceType: WorkerService, HTTPEndpoint: "http://w", Identity: "w"})

	resp, err := http.Get(srv.URL + "/world")
	require.NoError(t, err)
	defer resp.Body.Close()
	world, err := protocol.DecodeMessage[WorldResponse](resp.Body)
	require.NoError(t, err)

	require.True(t, world.Complete)
	require.Equal(t, 2, world.Size)
	require.Len(t, world.Members, 2)
	require.Equal(t, 0, world.Members[0].Rank)
	require.Equal(t, CoordinatorService, world.Members[0].ServiceType)
	require.Equal(t, "http://w", world.Members[1].HTTPEndpoint)
}

func TestRegistryServesConfig(t *testing.T) {
	_, srv := newTestRegistry(t, &RegistryConfig{
		WorldSize: 4,
		Protocol:  &protocol.Config{HalvingRounds: 3, PhaseDeadline: 2 * time.Second},
	})

	resp, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	cfg, err := protocol.DecodeMessage[WorldConfigResponse](resp.Body)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Size)
	require.Equal(t, 3, cfg.HalvingRounds)
	require.Equal(t, 2*time.Second, cfg.PhaseDeadline)
}

func TestRegistryRunPersistence(t *testing.T) {
	store := NewInMemoryStore()
	_, srv := newTestRegistry(t, &RegistryConfig{WorldSize: 2, Store: store})

	record := &RunRecord{
		Seed:      123,
		WorldSize: 2,
		Success:   true,
		StartedAt: time.Now().UTC(),
		Verdicts: []*RankVerdict{
			{Rank: 1, Identifier: "w1", Value: 124, Verdict: "PASS"},
		},
	}
	body, err := json.Marshal(record)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var runs []*RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	require.Equal(t, uint64(123), runs[0].Seed)
	require.Len(t, runs[0].Verdicts, 1)

	stored, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRegistryRunsWithoutStore(t *testing.T) {
	_, srv := newTestRegistry(t, &RegistryConfig{WorldSize: 2})

	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
