package services

import (
	"time"

	"github.com/flashbots/ranknet/protocol"
)

// ServiceType identifies the type of service.
type ServiceType string

const (
	CoordinatorService ServiceType = "coordinator"
	WorkerService      ServiceType = "worker"
	RegistryService    ServiceType = "registry"
)

// Valid returns true if the service type is recognized.
func (t ServiceType) Valid() bool {
	switch t {
	case CoordinatorService, WorkerService, RegistryService:
		return true
	}
	return false
}

// ServiceConfig contains configuration for the HTTP protocol services.
type ServiceConfig struct {
	ServiceType ServiceType
	HTTPAddr    string
	RegistryURL string

	// Protocol carries the role parameters handed to protocol.NewRole.
	Protocol *protocol.Config

	// RegisterInterval is the delay between registration retries while the
	// registry is unreachable.
	RegisterInterval time.Duration

	// WorldPollInterval is the delay between membership polls while waiting
	// for the world to fill up.
	WorldPollInterval time.Duration
}

// RegisterRequest is a service's registration with the registry.
type RegisterRequest struct {
	ServiceType  ServiceType `json:"service_type"`
	HTTPEndpoint string      `json:"http_endpoint"`
	Identity     string      `json:"identity"`
}

// RegisterResponse carries the rank the registry assigned.
type RegisterResponse struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

// Member is one rank's entry in the world membership.
type Member struct {
	Rank         int         `json:"rank"`
	ServiceType  ServiceType `json:"service_type"`
	HTTPEndpoint string      `json:"http_endpoint"`
	Identity     string      `json:"identity"`
}

// WorldResponse is the registry's view of the membership. Complete flips to
// true once every expected rank has registered.
type WorldResponse struct {
	Complete bool      `json:"complete"`
	Size     int       `json:"size"`
	Members  []*Member `json:"members"`
}

// WorldConfigResponse is served by the registry's /config endpoint so
// services pick up the shared protocol parameters.
type WorldConfigResponse struct {
	Size             int           `json:"size"`
	HalvingRounds    int           `json:"halving_rounds"`
	PhaseDeadline time.Duration `json:"phase_deadline"`
}

// EnvelopeRequest carries one envelope between ranks over HTTP.
type EnvelopeRequest struct {
	Source   int                `json:"source"`
	Channel  protocol.ChannelID `json:"channel"`
	Envelope *protocol.Envelope `json:"envelope"`
}

// StatusResponse reports a protocol service's progress.
type StatusResponse struct {
	ServiceType ServiceType `json:"service_type"`
	Rank        int         `json:"rank"`
	Phase       string      `json:"phase"`
	Done        bool        `json:"done"`
	Error       string      `json:"error,omitempty"`
}

// RankVerdict is one worker's validation outcome within a run.
type RankVerdict struct {
	Rank       int    `json:"rank"`
	Identifier string `json:"identifier"`
	Value      uint64 `json:"value"`
	Verdict    string `json:"verdict"`
}

// RunRecord is the persisted summary of one protocol run.
type RunRecord struct {
	ID        int64          `json:"id,omitempty"`
	Seed      uint64         `json:"seed"`
	WorldSize int            `json:"world_size"`
	Success   bool           `json:"success"`
	StartedAt time.Time      `json:"started_at"`
	Verdicts  []*RankVerdict `json:"verdicts"`
}
