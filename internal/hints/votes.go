package hints

import (
	"bytes"
	"sync"

	"Tessera/internal/state"
)

// ballot is one node's resolved preprocessing vote.
type ballot struct {
	nodeID uint64                 // nodeID is the voter
	weight uint64                 // weight is the voter's source weight
	keys   state.PreprocessedKeys // keys is the voted output
}

// tally holds the votes of one construction in arrival order. It is written
// on the round-apply goroutine and read by preprocessing workers looking for
// a congruent vote.
type tally struct {
	mu      sync.RWMutex
	ballots []ballot
}

// has reports whether the node already voted.
func (t *tally) has(nodeID uint64) bool {
	_, ok := t.get(nodeID)
	return ok
}

// get returns the node's vote.
func (t *tally) get(nodeID uint64) (state.PreprocessedKeys, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, b := range t.ballots {
		if b.nodeID == nodeID {
			return b.keys, true
		}
	}

	return state.PreprocessedKeys{}, false
}

// congruentWith returns a voter whose output equals keys.
func (t *tally) congruentWith(keys state.PreprocessedKeys) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, b := range t.ballots {
		if sameKeys(b.keys, keys) {
			return b.nodeID, true
		}
	}

	return 0, false
}

// add appends a vote and returns the first output, in order of first
// appearance, whose voters' weight reaches threshold.
func (t *tally) add(b ballot, threshold uint64) (state.PreprocessedKeys, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ballots = append(t.ballots, b)

	type group struct {
		keys   state.PreprocessedKeys
		weight uint64
	}

	var groups []group
	for _, b := range t.ballots {
		found := false
		for i := range groups {
			if sameKeys(groups[i].keys, b.keys) {
				groups[i].weight += b.weight
				found = true
				break
			}
		}

		if !found {
			groups = append(groups, group{keys: b.keys, weight: b.weight})
		}
	}

	for _, g := range groups {
		if g.weight >= threshold {
			return g.keys, true
		}
	}

	return state.PreprocessedKeys{}, false
}

// sameKeys reports whether two outputs are identical.
func sameKeys(a, b state.PreprocessedKeys) bool {
	return bytes.Equal(a.AggregationKey, b.AggregationKey) && bytes.Equal(a.VerificationKey, b.VerificationKey)
}
