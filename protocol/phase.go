package protocol

// Phase tracks a role's progress through the lockstep sequence. Every
// transition is gated by the corresponding transport call returning.
type Phase int32

const (
	// PhaseSeed covers the broadcast of the shared seed.
	PhaseSeed Phase = iota
	// PhaseReport covers the gather of worker reports.
	PhaseReport
	// PhaseHalving covers the per-worker control exchange.
	PhaseHalving
	// PhaseBarrier covers the final synchronization.
	PhaseBarrier
	// PhaseDone is terminal.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSeed:
		return "seed"
	case PhaseReport:
		return "report"
	case PhaseHalving:
		return "halving"
	case PhaseBarrier:
		return "barrier"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}
