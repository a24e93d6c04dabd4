package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/flashbots/ranknet/protocol"
)

// RegistryConfig configures the world the registry assembles.
type RegistryConfig struct {
	// WorldSize is the number of ranks the world must reach before the
	// membership is published as complete.
	WorldSize int

	// HalvingRounds and PhaseDeadline are served to registering services via
	// /config so the whole world runs with the same parameters.
	Protocol *protocol.Config

	// Store, when non-nil, persists completed runs posted by the
	// coordinator.
	Store RunStore
}

// Registry assigns ranks and publishes the world membership. Rank 0 is
// reserved for the coordinator; workers receive the remaining ranks in
// arrival order.
type Registry struct {
	config *RegistryConfig

	mu          sync.RWMutex
	members     map[int]*Member
	nextWorker  int
	coordinator bool
}

// NewRegistry creates a registry for a world of the configured size.
func NewRegistry(config *RegistryConfig) (*Registry, error) {
	if config.WorldSize < protocol.MinWorldSize {
		return nil, fmt.Errorf("%w: size %d", protocol.ErrWorldTooSmall, config.WorldSize)
	}
	return &Registry{
		config:     config,
		members:    make(map[int]*Member),
		nextWorker: 1,
	}, nil
}

// RegisterRoutes implements the httpserver.RouteRegistrar interface.
func (r *Registry) RegisterRoutes(router chi.Router) {
	router.Post("/register", r.handleRegister)
	router.Get("/world", r.handleWorld)
	router.Get("/config", r.handleConfig)
	router.Post("/runs", r.handleSaveRun)
	router.Get("/runs", r.handleListRuns)
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	regReq, err := protocol.DecodeMessage[RegisterRequest](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rank, err := r.assign(regReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(&RegisterResponse{Rank: rank, Size: r.config.WorldSize})
}

func (r *Registry) assign(req *RegisterRequest) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rank int
	switch req.ServiceType {
	case CoordinatorService:
		if r.coordinator {
			return 0, fmt.Errorf("coordinator already registered")
		}
		r.coordinator = true
		rank = 0
	case WorkerService:
		if r.nextWorker >= r.config.WorldSize {
			return 0, fmt.Errorf("world is full: %d ranks", r.config.WorldSize)
		}
		rank = r.nextWorker
		r.nextWorker++
	default:
		return 0, fmt.Errorf("service type %q cannot join the world", req.ServiceType)
	}

	r.members[rank] = &Member{
		Rank:         rank,
		ServiceType:  req.ServiceType,
		HTTPEndpoint: req.HTTPEndpoint,
		Identity:     req.Identity,
	}
	return rank, nil
}

func (r *Registry) handleWorld(w http.ResponseWriter, req *http.Request) {
	json.NewEncoder(w).Encode(r.World())
}

// World returns the current membership snapshot.
func (r *Registry) World() *WorldResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Member, 0, len(r.members))
	for rank := 0; rank < r.config.WorldSize; rank++ {
		if m, ok := r.members[rank]; ok {
			members = append(members, m)
		}
	}
	return &WorldResponse{
		Complete: len(r.members) == r.config.WorldSize,
		Size:     r.config.WorldSize,
		Members:  members,
	}
}

func (r *Registry) handleConfig(w http.ResponseWriter, req *http.Request) {
	resp := &WorldConfigResponse{Size: r.config.WorldSize}
	if r.config.Protocol != nil {
		resp.HalvingRounds = r.config.Protocol.HalvingRounds
		resp.PhaseDeadline = r.config.Protocol.PhaseDeadline
	}
	json.NewEncoder(w).Encode(resp)
}

func (r *Registry) handleSaveRun(w http.ResponseWriter, req *http.Request) {
	if r.config.Store == nil {
		http.Error(w, "run persistence is not configured", http.StatusNotImplemented)
		return
	}

	record, err := protocol.DecodeMessage[RunRecord](req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := r.config.Store.SaveRun(req.Context(), record); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleListRuns(w http.ResponseWriter, req *http.Request) {
	if r.config.Store == nil {
		http.Error(w, "run persistence is not configured", http.StatusNotImplemented)
		return
	}

	runs, err := r.config.Store.ListRuns(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(runs)
}
