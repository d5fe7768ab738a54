package roster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSortsAndHashesIndependentlyOfInputOrder(t *testing.T) {
	a := MustNew(Entry{NodeID: 3, Weight: 1}, Entry{NodeID: 1, Weight: 2}, Entry{NodeID: 2, Weight: 3})
	b := MustNew(Entry{NodeID: 1, Weight: 2}, Entry{NodeID: 2, Weight: 3}, Entry{NodeID: 3, Weight: 1})

	require.Equal(t, []uint64{1, 2, 3}, a.NodeIDs())
	require.Equal(t, a.Hash(), b.Hash())
	require.Equal(t, uint64(6), a.TotalWeight())
	require.Equal(t, uint64(3), a.WeightOf(2))
	require.Zero(t, a.WeightOf(9))
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]Entry{{NodeID: 1, Weight: 1}, {NodeID: 1, Weight: 2}})
	require.Error(t, err)

	_, err = New([]Entry{{NodeID: 1, Weight: 0}})
	require.Error(t, err)
}

func TestHashChangesWithWeight(t *testing.T) {
	a := MustNew(Entry{NodeID: 1, Weight: 1}, Entry{NodeID: 2, Weight: 1})
	b := MustNew(Entry{NodeID: 1, Weight: 1}, Entry{NodeID: 2, Weight: 2})

	require.NotEqual(t, a.Hash(), b.Hash())
	require.True(t, a.IsWeightRotation(b))
	require.False(t, a.IsWeightRotation(MustNew(Entry{NodeID: 1, Weight: 1}, Entry{NodeID: 3, Weight: 1})))
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		total    uint64
		oneThird uint64
		twoThird uint64
		majority uint64
	}{
		{0, 0, 1, 1},
		{1, 1, 1, 1},
		{2, 1, 2, 2},
		{3, 1, 3, 2},
		{4, 2, 3, 3},
		{5, 2, 4, 3},
		{6, 2, 5, 4},
		{100, 34, 67, 51},
		{301, 101, 201, 151},
	}

	for _, tt := range tests {
		require.Equal(t, tt.oneThird, AtLeastOneThirdOfTotal(tt.total), "one third of %d", tt.total)
		require.Equal(t, tt.twoThird, MoreThanTwoThirdsOfTotal(tt.total), "two thirds of %d", tt.total)
		require.Equal(t, tt.majority, MajorityOfTotal(tt.total), "majority of %d", tt.total)
	}
}

func TestPartySize(t *testing.T) {
	tests := map[int]int{0: 2, 1: 4, 2: 4, 3: 8, 6: 8, 7: 16, 14: 16, 15: 32}

	for n, want := range tests {
		require.Equal(t, want, PartySize(n), "party size for %d nodes", n)
	}
}

func TestWeights(t *testing.T) {
	source := MustNew(Entry{NodeID: 1, Weight: 10}, Entry{NodeID: 2, Weight: 20}, Entry{NodeID: 4, Weight: 30})
	target := MustNew(Entry{NodeID: 2, Weight: 5}, Entry{NodeID: 3, Weight: 5}, Entry{NodeID: 4, Weight: 5})

	w := NewWeights(source, target)

	require.Equal(t, 2, w.NumTargetNodesInSource())
	require.Equal(t, uint64(20), w.SourceWeightThreshold())
	require.Equal(t, uint64(11), w.TargetWeightThreshold())
	require.True(t, w.TargetIncludes(3))
	require.False(t, w.TargetIncludes(1))
	require.Equal(t, uint64(1), w.FirstSourceNode())

	next, ok := w.NextSourceNodeAfter(1)
	require.True(t, ok)
	require.Equal(t, uint64(2), next)

	next, ok = w.NextSourceNodeAfter(3)
	require.True(t, ok)
	require.Equal(t, uint64(4), next)

	_, ok = w.NextSourceNodeAfter(4)
	require.False(t, ok)

	// Nodes 2 and 4 carry 10 of the 11 target weight needed.
	require.False(t, w.SourceNodesHaveTargetThreshold())
	require.True(t, NewWeights(source, source).SourceNodesHaveTargetThreshold())
}

func TestActiveRosters(t *testing.T) {
	genesis := MustNew(Entry{NodeID: 1, Weight: 1})
	candidate := MustNew(Entry{NodeID: 1, Weight: 1}, Entry{NodeID: 2, Weight: 1})

	boot := NewBootstrap(genesis)
	require.Equal(t, Bootstrap, boot.Phase())
	require.Equal(t, boot.SourceHash(), boot.TargetHash())

	tr := NewTransition(genesis, candidate)
	require.Same(t, genesis, tr.CurrentRoster())
	require.Same(t, candidate, tr.FindRelated(candidate.Hash()))
	require.Nil(t, tr.FindRelated(Hash{1}))

	ho := NewHandoff(genesis, candidate)
	require.Same(t, candidate, ho.CurrentRoster())
	require.Equal(t, "HANDOFF", ho.Phase().String())
}
