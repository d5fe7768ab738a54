package history

import (
	"Tessera/internal/roster"
	"Tessera/internal/state"
)

// Controllers tracks the controller of the construction in progress. All of
// its controllers share one proof gate, so an abandoned proof still running
// delays the next one instead of competing with it.
type Controllers struct {
	deps    deps
	current Controller
}

func newControllers(d deps) *Controllers {
	return &Controllers{deps: d}
}

// GetOrCreateFor returns the controller for pc, replacing the controller of
// any other construction.
func (r *Controllers) GetOrCreateFor(ar *roster.ActiveRosters, pc state.ProofConstruction) Controller {
	if r.current != nil {
		if r.current.ConstructionID() == pc.ID {
			return r.current
		}

		r.deps.log.Info("replacing proof controller", "old", r.current.ConstructionID(), "new", pc.ID)
		r.current.Cancel()
	}

	weights := ar.Weights()
	if weights.SourceNodesHaveTargetThreshold() {
		r.current = newActiveController(r.deps, pc, weights)
	} else {
		r.deps.log.Warn("proof construction cannot reach target threshold", "construction", pc.ID)
		r.current = inertController{constructionID: pc.ID}
	}

	return r.current
}

// InProgressByID returns the in-progress controller for construction id.
func (r *Controllers) InProgressByID(id uint64) (Controller, bool) {
	c, ok := r.AnyInProgress()
	if !ok || c.ConstructionID() != id {
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

// Reap drops the current controller unless it runs one of ids.
func (r *Controllers) Reap(ids ...uint64) {
	if r.current == nil {
		return
	}

	for _, id := range ids {
		if id != 0 && r.current.ConstructionID() == id {
			return
		}
	}

	r.current.Cancel()
	r.current = nil
}
