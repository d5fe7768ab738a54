package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the value size above which SetCompressed compresses.
const compressThreshold = 512

// Value flags stored in the first byte of values written by SetCompressed.
const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codecs lazily creates the shared zstd encoder and decoder.
// EncodeAll and DecodeAll are safe for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}

		decoder, codecErr = zstd.NewReader(nil)
	})

	return encoder, decoder, codecErr
}

// Compress frames value with a one-byte flag, zstd-compressing it when large.
func Compress(value []byte) ([]byte, error) {
	if len(value) < compressThreshold {
		return append([]byte{flagRaw}, value...), nil
	}

	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("create zstd codec:\n%w", err)
	}

	return enc.EncodeAll(value, []byte{flagZstd}), nil
}

// Decompress reverses Compress.
func Decompress(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("empty framed value")
	}

	switch framed[0] {
	case flagRaw:
		out := make([]byte, len(framed)-1)
		copy(out, framed[1:])
		return out, nil

	case flagZstd:
		_, dec, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("create zstd codec:\n%w", err)
		}

		out, err := dec.DecodeAll(framed[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode:\n%w", err)
		}

		return out, nil

	default:
		return nil, fmt.Errorf("unknown value flag %d", framed[0])
	}
}

// SetCompressed stores value framed by Compress.
func (s *Storage) SetCompressed(key, value []byte) error {
	framed, err := Compress(value)
	if err != nil {
		return err
	}

	return s.Set(key, framed)
}

// GetCompressed loads a value stored with SetCompressed. Returns nil if absent.
func (s *Storage) GetCompressed(key []byte) ([]byte, error) {
	framed, err := s.Get(key)
	if err != nil || framed == nil {
		return nil, err
	}

	return Decompress(framed)
}
