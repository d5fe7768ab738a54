// Package hints drives the CRS ceremony and the hinTS scheme construction,
// and signs messages with the adopted scheme.
//
// All decisions are taken on the round-apply goroutine from state that every
// node derives identically. Crypto runs on a work.Pool and its results are
// consulted only at well-defined points.
package hints

import "Tessera/internal/tsslib"

// Library is the crypto the hinTS service depends on.
type Library interface {
	NewCRS(n int) []byte
	UpdateCRS(old, entropy []byte) (newCRS, proof []byte, err error)
	VerifyCRSUpdate(old, next, proof []byte) bool
	ComputeHints(crs, privateKey []byte, partyID, numParties int) ([]byte, error)
	ValidateHintsKey(crs, hintsKey []byte, partyID, numParties int) bool
	Preprocess(crs []byte, hintsKeys map[int][]byte, weights map[int]uint64, numParties int) (tsslib.PreprocessedKeys, error)
	SignBLS(message, privateKey []byte) ([]byte, error)
	VerifyBLS(crs, signature, message, aggregationKey []byte, partyID int) bool
	AggregateSignatures(crs, aggregationKey, verificationKey []byte, partials map[int][]byte) ([]byte, error)
}

var _ Library = (*tsslib.Library)(nil)
