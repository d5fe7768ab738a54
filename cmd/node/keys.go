package main

import (
	"crypto/ed25519"
	"fmt"

	"github.com/zeebo/blake3"

	"Tessera/internal/tsslib"
)

const (
	blsKeyContext   = "tessera 2026 bls signing key"
	proofKeyContext = "tessera 2026 history proof key"
)

// deriveKeys derives the BLS and proof keys from the node's identity, so
// a node keeps its keys across restarts without extra key files.
func deriveKeys(lib *tsslib.Library, identity ed25519.PrivateKey) ([]byte, tsslib.SchnorrKeyPair, error) {
	seed := identity.Seed()

	var blsSeed, proofSeed [32]byte
	blake3.DeriveKey(blsKeyContext, seed, blsSeed[:])
	blake3.DeriveKey(proofKeyContext, seed, proofSeed[:])

	blsKey, err := lib.BLSPrivateKeyFromSeed(blsSeed[:])
	if err != nil {
		return nil, tsslib.SchnorrKeyPair{}, fmt.Errorf("derive bls key:\n%w", err)
	}

	proofKey, err := lib.SchnorrKeyPairFromSeed(proofSeed[:])
	if err != nil {
		return nil, tsslib.SchnorrKeyPair{}, fmt.Errorf("derive proof key:\n%w", err)
	}

	return blsKey, proofKey, nil
}
