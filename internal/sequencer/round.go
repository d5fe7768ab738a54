// Package sequencer orders submitted transactions into numbered rounds and
// delivers the same rounds, in the same order, to every replica.
package sequencer

import (
	"fmt"
	"time"

	"Tessera/internal/codec"
)

// Round is a batch of transactions ordered at one consensus time.
type Round struct {
	Number uint64    // Number starts at 1 and increases by one per round
	Time   time.Time // Time is the consensus time, strictly increasing, millisecond precision
	Txs    [][]byte  // Txs are the sealed transactions in order
}

// Encode serializes the round.
func (r Round) Encode() []byte {
	size := 8 + 8 + 4
	for _, tx := range r.Txs {
		size += 4 + len(tx)
	}

	w := codec.NewWriter(size).
		U64(r.Number).
		I64(r.Time.UnixMilli()).
		U32(uint32(len(r.Txs)))

	for _, tx := range r.Txs {
		w.VarBytes(tx)
	}

	return w.Bytes()
}

// DecodeRound parses a round produced by Encode.
func DecodeRound(data []byte) (Round, error) {
	r := codec.NewReader(data)

	round := Round{
		Number: r.U64(),
		Time:   time.UnixMilli(r.I64()).UTC(),
	}

	n := r.Count(4)
	if n > 0 {
		round.Txs = make([][]byte, 0, n)
	}

	for range n {
		round.Txs = append(round.Txs, r.VarBytes())
	}

	if err := r.Done(); err != nil {
		return Round{}, fmt.Errorf("decode round:\n%w", err)
	}

	return round, nil
}
