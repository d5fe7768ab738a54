package roster

import "fmt"

// Phase is the roster lifecycle phase seen by the construction services.
type Phase int

const (
	// Bootstrap means the network runs its genesis roster and has no proofs yet.
	Bootstrap Phase = iota
	// Transition means a candidate roster is waiting to be adopted.
	Transition
	// Handoff means a candidate roster was just adopted.
	Handoff
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Bootstrap:
		return "BOOTSTRAP"
	case Transition:
		return "TRANSITION"
	case Handoff:
		return "HANDOFF"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ActiveRosters describes the rosters relevant to one round.
type ActiveRosters struct {
	phase  Phase   // phase is the lifecycle phase
	source *Roster // source is the current (or previous, during handoff) roster
	target *Roster // target is the candidate (or adopted) roster
}

// NewBootstrap returns the rosters of a network running its genesis roster.
func NewBootstrap(genesis *Roster) *ActiveRosters {
	return &ActiveRosters{phase: Bootstrap, source: genesis, target: genesis}
}

// NewTransition returns the rosters of a pending transition.
func NewTransition(current, candidate *Roster) *ActiveRosters {
	return &ActiveRosters{phase: Transition, source: current, target: candidate}
}

// NewHandoff returns the rosters of a just-completed adoption.
func NewHandoff(previous, adopted *Roster) *ActiveRosters {
	return &ActiveRosters{phase: Handoff, source: previous, target: adopted}
}

// Phase returns the lifecycle phase.
func (a *ActiveRosters) Phase() Phase { return a.phase }

// SourceRoster returns the source roster.
func (a *ActiveRosters) SourceRoster() *Roster { return a.source }

// TargetRoster returns the target roster.
func (a *ActiveRosters) TargetRoster() *Roster { return a.target }

// SourceHash returns the source roster hash.
func (a *ActiveRosters) SourceHash() Hash { return a.source.Hash() }

// TargetHash returns the target roster hash.
func (a *ActiveRosters) TargetHash() Hash { return a.target.Hash() }

// CurrentRoster returns the roster currently signing blocks.
func (a *ActiveRosters) CurrentRoster() *Roster {
	if a.phase == Handoff {
		return a.target
	}

	return a.source
}

// FindRelated returns the source or target roster with the given hash, or nil.
func (a *ActiveRosters) FindRelated(h Hash) *Roster {
	switch h {
	case a.source.Hash():
		return a.source
	case a.target.Hash():
		return a.target
	}

	return nil
}

// Weights returns the transition weights from source to target.
func (a *ActiveRosters) Weights() *Weights {
	return NewWeights(a.source, a.target)
}
