// Package tsslib provides the cryptographic primitives behind the threshold
// signature constructions: the common reference string ceremony, hinTS keys
// and aggregation, Schnorr proof keys and chain-of-trust proofs.
//
// Every function is pure and safe for concurrent use. Randomness is only
// consumed where a fresh secret is generated.
package tsslib

import "errors"

var (
	// ErrInvalidEncoding is returned for malformed artifacts.
	ErrInvalidEncoding = errors.New("tsslib: invalid encoding")

	// ErrInsufficientWeight is returned when signatures do not meet a threshold.
	ErrInsufficientWeight = errors.New("tsslib: insufficient signing weight")
)

// Library bundles the primitives behind a value so that callers can depend
// on narrow interfaces and tests can substitute them.
type Library struct{}

// New returns the production library.
func New() *Library {
	return &Library{}
}
