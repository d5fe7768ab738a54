package sequencer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func numbers(rounds []Round) []uint64 {
	var out []uint64
	for _, r := range rounds {
		out = append(out, r.Number)
	}
	return out
}

func TestRoundBufferReleasesInOrder(t *testing.T) {
	b := newRoundBuffer(1)

	require.True(t, b.add(Round{Number: 3}))
	require.True(t, b.add(Round{Number: 2}))
	require.False(t, b.add(Round{Number: 3}), "duplicate")
	require.Empty(t, b.release())

	gap, ok := b.gap()
	require.True(t, ok)
	require.Equal(t, replayRequest{From: 1, To: 1}, gap)

	require.True(t, b.add(Round{Number: 1}))
	require.Equal(t, []uint64{1, 2, 3}, numbers(b.release()))
	require.Equal(t, uint64(4), b.nextNumber())
	require.Zero(t, b.len())

	require.False(t, b.add(Round{Number: 2}), "already released")

	gap, ok = b.gap()
	require.False(t, ok)
	require.Equal(t, replayRequest{From: 4}, gap)
}

func TestRoundBufferStartsMidway(t *testing.T) {
	b := newRoundBuffer(10)

	require.False(t, b.add(Round{Number: 9}))
	require.True(t, b.add(Round{Number: 10}))
	require.Equal(t, []uint64{10}, numbers(b.release()))
}
