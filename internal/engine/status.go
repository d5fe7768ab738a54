package engine

import (
	"encoding/hex"
	"time"

	"Tessera/internal/state"
)

// Status is a snapshot of the node's construction state.
type Status struct {
	NodeID       uint64               `json:"nodeId"`
	Round        uint64               `json:"round"`
	RoundTime    time.Time            `json:"roundTime"`
	Phase        string               `json:"phase"`
	Source       string               `json:"sourceRoster"`
	Target       string               `json:"targetRoster"`
	Active       bool                 `json:"active"`
	CRSStage     string               `json:"crsStage,omitempty"`
	Hints        []ConstructionStatus `json:"hints,omitempty"`
	History      []ConstructionStatus `json:"history,omitempty"`
	LedgerID     string               `json:"ledgerId,omitempty"`
	SigningReady bool                 `json:"signingReady"`
	ReadyToAdopt bool                 `json:"readyToAdopt"`
}

// ConstructionStatus describes one construction slot.
type ConstructionStatus struct {
	Slot     string `json:"slot"`
	ID       uint64 `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Complete bool   `json:"complete"`
	Failure  string `json:"failure,omitempty"`
}

// Status returns the current state for monitoring.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		NodeID:    e.selfID,
		Round:     e.lastRound,
		RoundTime: e.lastTime,
		Phase:     e.ar.Phase().String(),
		Source:    e.ar.SourceHash().String(),
		Target:    e.ar.TargetHash().String(),
		Active:    e.active,
	}
	e.mu.RUnlock()

	if e.hints != nil {
		if crs, ok := e.hintsStore.CRSState(); ok {
			st.CRSStage = crs.Stage.String()
		}

		st.Hints = hintsSlots(e.hintsStore.ActiveConstruction(), e.hintsStore.NextConstruction())
		st.SigningReady = e.hints.IsReady()
	}

	if e.history != nil {
		st.History = historySlots(e.historyStore.ActiveConstruction(), e.historyStore.NextConstruction())

		if id := e.history.LedgerID(); id != nil {
			st.LedgerID = hex.EncodeToString(id)
		}
	}

	st.ReadyToAdopt = e.ReadyToAdopt()

	return st
}

func hintsSlots(active, next state.HintsConstruction) []ConstructionStatus {
	var out []ConstructionStatus

	for _, s := range []struct {
		slot string
		hc   state.HintsConstruction
	}{{"active", active}, {"next", next}} {
		if s.hc.Empty() {
			continue
		}

		out = append(out, ConstructionStatus{
			Slot:     s.slot,
			ID:       s.hc.ID,
			Source:   s.hc.SourceHash.String(),
			Target:   s.hc.TargetHash.String(),
			Complete: s.hc.HasScheme(),
		})
	}

	return out
}

func historySlots(active, next state.ProofConstruction) []ConstructionStatus {
	var out []ConstructionStatus

	for _, s := range []struct {
		slot string
		pc   state.ProofConstruction
	}{{"active", active}, {"next", next}} {
		if s.pc.Empty() {
			continue
		}

		out = append(out, ConstructionStatus{
			Slot:     s.slot,
			ID:       s.pc.ID,
			Source:   s.pc.SourceHash.String(),
			Target:   s.pc.TargetHash.String(),
			Complete: s.pc.HasTargetProof(),
			Failure:  s.pc.FailureReason,
		})
	}

	return out
}
