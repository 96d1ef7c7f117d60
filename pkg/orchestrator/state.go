package orchestrator

// Phase is the position of a generation in its state machine.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseGenerating
	PhaseScoring
	PhaseRegenerating
	PhaseAccepted
	PhaseFlagged
	PhaseFailed
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseGenerating:
		return "generating"
	case PhaseScoring:
		return "scoring"
	case PhaseRegenerating:
		return "regenerating"
	case PhaseAccepted:
		return "accepted"
	case PhaseFlagged:
		return "flagged"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows p.
func (p Phase) Terminal() bool {
	return p == PhaseAccepted || p == PhaseFlagged || p == PhaseFailed
}
