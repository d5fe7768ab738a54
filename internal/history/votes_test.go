package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"Tessera/internal/state"
)

func proofOf(b byte) state.HistoryProof {
	return state.HistoryProof{
		SourceAddressBookHash: [32]byte{b},
		TargetProofKeys:       []state.ProofKey{{NodeID: 1, Key: []byte{b}}},
		TargetHistory:         state.History{AddressBookHash: [32]byte{b, b}, Metadata: []byte{b}},
		Proof:                 []byte{b, b, b},
	}
}

func TestTallyReachesThresholdExactly(t *testing.T) {
	v := newTally()

	_, ok := v.add(1, 4, proofOf(1), 10)
	require.False(t, ok)

	won, ok := v.add(2, 6, proofOf(1), 10)
	require.True(t, ok)
	require.True(t, sameProof(proofOf(1), won))
}

func TestTallyFirstProofToClearWins(t *testing.T) {
	v := newTally()

	v.add(1, 5, proofOf(1), 10)
	v.add(2, 9, proofOf(2), 10)

	won, ok := v.add(3, 5, proofOf(1), 10)
	require.True(t, ok)
	require.True(t, sameProof(proofOf(1), won))
}

func TestTallyCongruence(t *testing.T) {
	v := newTally()
	v.add(3, 1, proofOf(7), 100)
	v.add(1, 1, proofOf(7), 100)

	node, ok := v.congruentWith(proofOf(7))
	require.True(t, ok)
	require.Equal(t, uint64(3), node)

	_, ok = v.congruentWith(proofOf(8))
	require.False(t, ok)

	got, ok := v.get(1)
	require.True(t, ok)
	require.True(t, sameProof(proofOf(7), got))
	require.False(t, v.has(2))
}

func TestSameProofComparesKeys(t *testing.T) {
	a, b := proofOf(1), proofOf(1)
	b.TargetProofKeys = append(b.TargetProofKeys, state.ProofKey{NodeID: 2, Key: []byte{2}})

	require.False(t, sameProof(a, b))
}
