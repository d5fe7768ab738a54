// Package history proves that each roster's address book descends from the
// ledger's genesis book. Nodes publish Schnorr proof keys, sign the target
// address book together with the hinTS verification key, and vote on the
// recursive proof one of them assembles.
package history

import "Tessera/internal/tsslib"

// Library is the crypto the history service depends on.
type Library interface {
	HashAddressBook(book tsslib.AddressBook) [32]byte
	HashHintsVerificationKey(verificationKey []byte) [32]byte
	HistoryMessage(addressBookHash [32]byte, metadata []byte) []byte
	SignSchnorr(message, privateKey []byte) ([]byte, error)
	VerifySchnorr(signature, message, publicKey []byte) bool
	ProveChainOfTrust(req tsslib.ChainOfTrustRequest) ([]byte, error)
	VerifyChainOfTrust(proof []byte) (tsslib.ChainOfTrust, error)
	ChainOfTrustVerificationKey() []byte
}

var _ Library = (*tsslib.Library)(nil)
