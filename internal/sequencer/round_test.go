package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundEncoding(t *testing.T) {
	r := Round{
		Number: 7,
		Time:   time.UnixMilli(1_700_000_000_123).UTC(),
		Txs:    [][]byte{[]byte("a"), {}, []byte("ccc")},
	}

	got, err := DecodeRound(r.Encode())
	require.NoError(t, err)
	require.Equal(t, r.Number, got.Number)
	require.True(t, r.Time.Equal(got.Time))
	require.Len(t, got.Txs, 3)
	require.Equal(t, []byte("ccc"), got.Txs[2])

	empty, err := DecodeRound(Round{Number: 1, Time: r.Time}.Encode())
	require.NoError(t, err)
	require.Empty(t, empty.Txs)

	_, err = DecodeRound(r.Encode()[:10])
	require.Error(t, err)

	_, err = DecodeRound(append(r.Encode(), 0))
	require.Error(t, err)
}

func TestReplayEncoding(t *testing.T) {
	rounds := []Round{
		{Number: 3, Time: time.UnixMilli(10).UTC(), Txs: [][]byte{[]byte("x")}},
		{Number: 4, Time: time.UnixMilli(11).UTC()},
	}

	data, err := encodeReplay(rounds)
	require.NoError(t, err)

	got, err := decodeReplay(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(4), got[1].Number)

	_, err = decodeReplay([]byte("not zstd"))
	require.Error(t, err)
}

func TestReplayRequestValidation(t *testing.T) {
	req := replayRequest{From: 5, To: 9}
	kind, payload, err := parseFrame(req.encode())
	require.NoError(t, err)
	require.Equal(t, frameReplay, kind)

	got, err := decodeReplayRequest(payload)
	require.NoError(t, err)
	require.Equal(t, req, got)

	_, err = decodeReplayRequest(replayRequest{From: 0}.encode()[1:])
	require.Error(t, err)

	_, err = decodeReplayRequest(replayRequest{From: 9, To: 5}.encode()[1:])
	require.Error(t, err)

	_, _, err = parseFrame(nil)
	require.Error(t, err)
}
