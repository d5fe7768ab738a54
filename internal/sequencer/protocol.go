package sequencer

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"Tessera/internal/codec"
)

// Frame kinds on the sequencer connection. Each message starts with one.
const (
	frameSubmit byte = 1 // frameSubmit carries a sealed transaction to the sequencer
	frameRound  byte = 2 // frameRound carries an encoded round to a replica
	frameReplay byte = 3 // frameReplay requests a range of past rounds
)

// maxReplayRounds bounds the rounds returned by one replay request.
const maxReplayRounds = 1024

func frame(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)

	return out
}

func parseFrame(data []byte) (byte, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}

	return data[0], data[1:], nil
}

// replayRequest asks for rounds from From through To. To zero means the
// latest round.
type replayRequest struct {
	From uint64
	To   uint64
}

func (r replayRequest) encode() []byte {
	return frame(frameReplay, codec.NewWriter(16).U64(r.From).U64(r.To).Bytes())
}

func decodeReplayRequest(payload []byte) (replayRequest, error) {
	r := codec.NewReader(payload)
	req := replayRequest{From: r.U64(), To: r.U64()}

	if err := r.Done(); err != nil {
		return replayRequest{}, fmt.Errorf("decode replay request:\n%w", err)
	}

	if req.From == 0 || (req.To != 0 && req.To < req.From) {
		return replayRequest{}, fmt.Errorf("invalid replay range %d..%d", req.From, req.To)
	}

	return req, nil
}

// encodeReplay packs rounds and compresses them with zstd.
func encodeReplay(rounds []Round) ([]byte, error) {
	w := codec.NewWriter(256).U32(uint32(len(rounds)))
	for _, r := range rounds {
		w.VarBytes(r.Encode())
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(w.Bytes(), nil), nil
}

// decodeReplay reverses encodeReplay.
func decodeReplay(data []byte) ([]Round, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress replay:\n%w", err)
	}

	r := codec.NewReader(raw)
	n := r.Count(4)

	rounds := make([]Round, 0, n)
	for range n {
		round, err := DecodeRound(r.VarBytes())
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode replay:\n%w", err)
	}

	return rounds, nil
}
