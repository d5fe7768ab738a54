package hints

import (
	"Tessera/internal/roster"
	"Tessera/internal/state"
)

// Controllers keeps the controller of the construction currently in
// progress, replacing it when the construction changes.
type Controllers struct {
	deps    deps
	current Controller // current is nil until the first construction
}

func newControllers(d deps) *Controllers {
	return &Controllers{deps: d}
}

// GetOrCreateFor returns the controller for hc, cancelling and replacing a
// controller for any other construction.
func (r *Controllers) GetOrCreateFor(ar *roster.ActiveRosters, hc state.HintsConstruction) Controller {
	if r.current != nil && r.current.ConstructionID() == hc.ID {
		return r.current
	}

	if r.current != nil {
		r.deps.log.Info("replacing hints controller", "old", r.current.ConstructionID(), "new", hc.ID)
		r.current.Cancel()
	}

	r.current = r.newControllerFor(ar, hc)

	return r.current
}

// newControllerFor picks an active controller when the target nodes already
// in the source roster can reach the target threshold, and an inert one
// otherwise.
func (r *Controllers) newControllerFor(ar *roster.ActiveRosters, hc state.HintsConstruction) Controller {
	weights := ar.Weights()
	if !weights.SourceNodesHaveTargetThreshold() {
		r.deps.log.Warn("hints construction cannot reach target threshold", "construction", hc.ID)
		return inertController{constructionID: hc.ID}
	}

	return newActiveController(r.deps, hc, weights)
}

// InProgressByID returns the in-progress controller for construction id.
func (r *Controllers) InProgressByID(id uint64) (Controller, bool) {
	c, ok := r.AnyInProgress()
	if !ok || c.ConstructionID() != id {
		return nil, false
	}

	return c, true
}

// InProgressForNumParties returns the in-progress controller using n parties.
func (r *Controllers) InProgressForNumParties(n int) (Controller, bool) {
	c, ok := r.AnyInProgress()
	if !ok || !c.HasNumParties(n) {
		return nil, false
	}

	return c, true
}

// AnyInProgress returns the current controller if it is still in progress.
func (r *Controllers) AnyInProgress() (Controller, bool) {
	if r.current == nil || !r.current.IsStillInProgress() {
		return nil, false
	}

	return r.current, true
}

// Reap cancels the current controller unless its construction is one of ids.
func (r *Controllers) Reap(ids ...uint64) {
	if r.current == nil {
		return
	}

	for _, id := range ids {
		if r.current.ConstructionID() == id {
			return
		}
	}

	r.current.Cancel()
	r.current = nil
}
