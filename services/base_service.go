package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flashbots/ranknet/protocol"
)

const (
	defaultRegisterInterval  = 250 * time.Millisecond
	defaultWorldPollInterval = 100 * time.Millisecond
)

// baseProtocolService contains the registration, membership, and transport
// plumbing shared by the coordinator and worker services.
type baseProtocolService struct {
	config     *ServiceConfig
	log        *slog.Logger
	httpClient *http.Client
	identity   string

	mu        sync.RWMutex
	rank      int
	transport *HTTPTransport
	role      protocol.Role
	done      bool
	runErr    error
}

func newBaseProtocolService(config *ServiceConfig, log *slog.Logger) (*baseProtocolService, error) {
	if config.RegistryURL == "" {
		return nil, fmt.Errorf("registry URL is required")
	}
	if config.Protocol == nil {
		config.Protocol = &protocol.Config{}
	}
	if config.RegisterInterval == 0 {
		config.RegisterInterval = defaultRegisterInterval
	}
	if config.WorldPollInterval == 0 {
		config.WorldPollInterval = defaultWorldPollInterval
	}
	if log == nil {
		log = slog.Default()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return &baseProtocolService{
		config:     config,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		identity:   fmt.Sprintf("%s (%s)", hostname, config.ServiceType),
		rank:       -1,
	}, nil
}

// RegisterRoutes implements the httpserver.RouteRegistrar interface. The
// transport routes delegate to the HTTP transport once the world is
// assembled; until then they answer 503 and peers retry.
func (b *baseProtocolService) RegisterRoutes(r chi.Router) {
	r.Get("/status", b.handleStatus)
	r.Post("/transport/bcast", b.transportHandler((*HTTPTransport).handleBcast))
	r.Post("/transport/gather", b.transportHandler((*HTTPTransport).handleGather))
	r.Post("/transport/p2p", b.transportHandler((*HTTPTransport).handleP2P))
	r.Post("/transport/barrier", b.transportHandler((*HTTPTransport).handleBarrier))
}

func (b *baseProtocolService) transportHandler(h func(*HTTPTransport, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		b.mu.RLock()
		transport := b.transport
		b.mu.RUnlock()
		if transport == nil {
			http.Error(w, "world not assembled yet", http.StatusServiceUnavailable)
			return
		}
		h(transport, w, req)
	}
}

func (b *baseProtocolService) handleStatus(w http.ResponseWriter, req *http.Request) {
	status := b.Status()
	data, err := protocol.SerializeMessage(&status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Status reports registration state and protocol progress.
func (b *baseProtocolService) Status() StatusResponse {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := StatusResponse{
		ServiceType: b.config.ServiceType,
		Rank:        b.rank,
		Done:        b.done,
	}
	if b.role != nil {
		status.Phase = b.role.Phase().String()
	}
	if b.runErr != nil {
		status.Error = b.runErr.Error()
	}
	return status
}

// joinWorld registers with the registry, waits for the membership to fill
// up, and builds the group transport.
func (b *baseProtocolService) joinWorld(ctx context.Context) error {
	rank, err := b.register(ctx)
	if err != nil {
		return fmt.Errorf("registering with %s: %w", b.config.RegistryURL, err)
	}
	b.log.Info("Joined the world", "rank", rank)

	if err := b.fetchWorldConfig(); err != nil {
		return fmt.Errorf("fetching world config: %w", err)
	}

	members, err := b.awaitWorld(ctx)
	if err != nil {
		return fmt.Errorf("waiting for world: %w", err)
	}

	transport, err := NewHTTPTransport(rank, b.identity, members)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.rank = rank
	b.transport = transport
	b.mu.Unlock()
	return nil
}

func (b *baseProtocolService) register(ctx context.Context) (int, error) {
	req := &RegisterRequest{
		ServiceType:  b.config.ServiceType,
		HTTPEndpoint: fmt.Sprintf("http://%s", b.config.HTTPAddr),
		Identity:     b.identity,
	}
	body, err := protocol.SerializeMessage(req)
	if err != nil {
		return 0, err
	}

	for {
		resp, err := b.postOnce(ctx, b.config.RegistryURL+"/register", body)
		if err == nil {
			regResp, err := protocol.UnmarshalMessage[RegisterResponse](resp)
			if err != nil {
				return 0, err
			}
			return regResp.Rank, nil
		}
		b.log.Warn("Registration attempt failed, retrying", "err", err)

		select {
		case <-time.After(b.config.RegisterInterval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (b *baseProtocolService) postOnce(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// fetchWorldConfig adopts the registry's protocol parameters so every rank
// runs with the same halving rounds and phase deadline.
func (b *baseProtocolService) fetchWorldConfig() error {
	resp, err := b.httpClient.Get(b.config.RegistryURL + "/config")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	worldCfg, err := protocol.DecodeMessage[WorldConfigResponse](resp.Body)
	if err != nil {
		return err
	}
	b.config.Protocol.HalvingRounds = worldCfg.HalvingRounds
	b.config.Protocol.PhaseDeadline = worldCfg.PhaseDeadline
	return nil
}

func (b *baseProtocolService) awaitWorld(ctx context.Context) ([]*Member, error) {
	for {
		resp, err := b.httpClient.Get(b.config.RegistryURL + "/world")
		if err == nil {
			world, decodeErr := protocol.DecodeMessage[WorldResponse](resp.Body)
			resp.Body.Close()
			if decodeErr != nil {
				return nil, decodeErr
			}
			if world.Complete {
				return world.Members, nil
			}
		} else {
			b.log.Warn("World poll failed", "err", err)
		}

		select {
		case <-time.After(b.config.WorldPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *baseProtocolService) setRole(role protocol.Role) {
	b.mu.Lock()
	b.role = role
	b.mu.Unlock()
}

func (b *baseProtocolService) finish(err error) {
	b.mu.Lock()
	b.done = true
	b.runErr = err
	b.mu.Unlock()
}
