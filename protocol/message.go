package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// Kind discriminates the payload variants carried by an Envelope.
type Kind uint8

const (
	// KindSeed marks the coordinator's broadcast seed.
	KindSeed Kind = iota + 1
	// KindReport marks a worker's gather contribution.
	KindReport
	// KindControl marks a halving-loop control value.
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindSeed:
		return "seed"
	case KindReport:
		return "report"
	case KindControl:
		return "control"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// HaltValue is the control value that terminates a worker's halving loop.
const HaltValue uint64 = 0

// WorkerReport is one worker's gather contribution: its local identity and
// the value it computed from the broadcast seed.
type WorkerReport struct {
	Identifier string `json:"identifier"`
	Value      uint64 `json:"value"`
}

// Envelope is the tagged union for every inter-rank payload. Exactly one of
// the variant fields is meaningful, selected by Kind; the constructors below
// are the only intended way to build one.
type Envelope struct {
	Kind   Kind          `json:"kind"`
	Seed   uint64        `json:"seed,omitempty"`
	Report *WorkerReport `json:"report,omitempty"`
	Value  uint64        `json:"value,omitempty"`
}

// SeedEnvelope wraps a broadcast seed.
func SeedEnvelope(seed uint64) *Envelope {
	return &Envelope{Kind: KindSeed, Seed: seed}
}

// ReportEnvelope wraps a worker's gather contribution.
func ReportEnvelope(identifier string, value uint64) *Envelope {
	return &Envelope{Kind: KindReport, Report: &WorkerReport{Identifier: identifier, Value: value}}
}

// ControlEnvelope wraps a halving-loop control value. ControlEnvelope(HaltValue)
// is the halt signal.
func ControlEnvelope(value uint64) *Envelope {
	return &Envelope{Kind: KindControl, Value: value}
}

// AsSeed returns the seed payload, or false if the envelope does not carry one.
func (e *Envelope) AsSeed() (uint64, bool) {
	if e == nil || e.Kind != KindSeed {
		return 0, false
	}
	return e.Seed, true
}

// AsReport returns the report payload, or false if the envelope does not
// carry a well-formed one.
func (e *Envelope) AsReport() (*WorkerReport, bool) {
	if e == nil || e.Kind != KindReport || e.Report == nil {
		return nil, false
	}
	return e.Report, true
}

// AsControl returns the control payload, or false if the envelope does not
// carry one.
func (e *Envelope) AsControl() (uint64, bool) {
	if e == nil || e.Kind != KindControl {
		return 0, false
	}
	return e.Value, true
}

// Describe renders a short human-readable form for warnings and errors.
func (e *Envelope) Describe() string {
	if e == nil {
		return "missing"
	}
	return e.Kind.String()
}

// UnmarshalMessage deserializes a message from JSON.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
