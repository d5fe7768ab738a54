package history

import (
	"bytes"
	"slices"
	"sync"

	"Tessera/internal/state"
)

// proofGroup is a distinct proof and the source weight voting for it.
type proofGroup struct {
	proof  state.HistoryProof
	weight uint64
	voters []uint64
}

// tally groups proof votes by proof, keeping groups in order of first
// appearance. Proof workers read it to find a congruent vote.
type tally struct {
	mu     sync.RWMutex
	groups []proofGroup
	voted  map[uint64]int // voted maps a voter to its group index
}

func newTally() *tally {
	return &tally{voted: make(map[uint64]int)}
}

func (t *tally) has(nodeID uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.voted[nodeID]
	return ok
}

// get returns the proof a node voted for.
func (t *tally) get(nodeID uint64) (state.HistoryProof, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.voted[nodeID]
	if !ok {
		return state.HistoryProof{}, false
	}

	return t.groups[i].proof, true
}

// congruentWith returns the earliest voter for proof.
func (t *tally) congruentWith(proof state.HistoryProof) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, g := range t.groups {
		if sameProof(g.proof, proof) {
			return g.voters[0], true
		}
	}

	return 0, false
}

// add counts a vote and returns the first proof, in order of first
// appearance, whose weight reaches threshold.
func (t *tally) add(nodeID, weight uint64, proof state.HistoryProof, threshold uint64) (state.HistoryProof, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.IndexFunc(t.groups, func(g proofGroup) bool { return sameProof(g.proof, proof) })
	if i < 0 {
		t.groups = append(t.groups, proofGroup{proof: proof})
		i = len(t.groups) - 1
	}

	t.groups[i].weight += weight
	t.groups[i].voters = append(t.groups[i].voters, nodeID)
	t.voted[nodeID] = i

	for _, g := range t.groups {
		if g.weight >= threshold {
			return g.proof, true
		}
	}

	return state.HistoryProof{}, false
}

// sameProof reports whether two proofs are identical.
func sameProof(a, b state.HistoryProof) bool {
	if a.SourceAddressBookHash != b.SourceAddressBookHash || !sameHistory(a.TargetHistory, b.TargetHistory) {
		return false
	}

	if !bytes.Equal(a.Proof, b.Proof) {
		return false
	}

	return slices.EqualFunc(a.TargetProofKeys, b.TargetProofKeys, func(x, y state.ProofKey) bool {
		return x.NodeID == y.NodeID && bytes.Equal(x.Key, y.Key)
	})
}

func sameHistory(a, b state.History) bool {
	return a.AddressBookHash == b.AddressBookHash && bytes.Equal(a.Metadata, b.Metadata)
}
