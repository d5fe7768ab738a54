package tsslib

import (
	"fmt"

	"github.com/zeebo/blake3"

	"Tessera/internal/codec"
)

// chainOfTrustTag seeds the verification key of the chain-of-trust proof system.
const chainOfTrustTag = "tessera-chain-of-trust-v1"

// maxChainDepth bounds recursion when verifying nested proofs.
const maxChainDepth = 1 << 12

// AddressBook is a roster's weights and proof keys, ordered by node id.
type AddressBook struct {
	Weights   []uint64 // Weights are the node weights
	ProofKeys [][]byte // ProofKeys are the Schnorr public keys, empty if unknown
}

// ChainOfTrust is what a verified proof attests.
type ChainOfTrust struct {
	GenesisHash  [32]byte // GenesisHash is the address book hash the chain starts from
	TargetHash   [32]byte // TargetHash is the address book hash the chain ends at
	MetadataHash [32]byte // MetadataHash is the hash of the target's metadata
	Depth        int      // Depth is the number of transitions in the chain
}

// HashAddressBook digests an address book.
func (l *Library) HashAddressBook(book AddressBook) [32]byte {
	h := blake3.New()

	w := codec.NewWriter(4 + len(book.Weights)*44)
	w.U32(uint32(len(book.Weights)))

	for i, weight := range book.Weights {
		w.U64(weight)
		w.VarBytes(keyAt(book.ProofKeys, i))
	}

	h.Write(w.Bytes())

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// keyAt returns keys[i] or nil.
func keyAt(keys [][]byte, i int) []byte {
	if i < len(keys) {
		return keys[i]
	}

	return nil
}

// HistoryMessage is the message signed to endorse a target address book and its metadata.
func (l *Library) HistoryMessage(addressBookHash [32]byte, metadata []byte) []byte {
	return endorsement(addressBookHash, l.HashHintsVerificationKey(metadata))
}

// endorsement concatenates an address book hash and a metadata hash.
func endorsement(addressBookHash, metadataHash [32]byte) []byte {
	out := make([]byte, 0, 64)
	out = append(out, addressBookHash[:]...)

	return append(out, metadataHash[:]...)
}

// ChainOfTrustVerificationKey returns the key identifying this proof system.
func (l *Library) ChainOfTrustVerificationKey() []byte {
	sum := blake3.Sum256([]byte(chainOfTrustTag))
	return sum[:]
}

// ChainOfTrustRequest gathers the inputs of one proof step.
type ChainOfTrustRequest struct {
	GenesisHash  [32]byte    // GenesisHash is the genesis address book hash
	SourceProof  []byte      // SourceProof proves the source book, nil at genesis
	Source       AddressBook // Source is the endorsing address book
	Target       AddressBook // Target is the endorsed address book
	Signatures   [][]byte    // Signatures align with Source entries, nil where absent
	MetadataHash [32]byte    // MetadataHash is the hash of the target metadata
}

// chainProof is the decoded form of a proof.
type chainProof struct {
	genesis      [32]byte
	source       AddressBook
	targetHash   [32]byte
	metadataHash [32]byte
	signatures   [][]byte
	sourceProof  []byte
}

// ProveChainOfTrust extends the source proof to the target address book.
// Signatures that do not verify against the source book are left out.
// The output is fully determined by the request.
func (l *Library) ProveChainOfTrust(req ChainOfTrustRequest) ([]byte, error) {
	if len(req.Signatures) != len(req.Source.Weights) {
		return nil, fmt.Errorf("got %d signatures for %d source nodes", len(req.Signatures), len(req.Source.Weights))
	}

	p := &chainProof{
		genesis:      req.GenesisHash,
		source:       req.Source,
		targetHash:   l.HashAddressBook(req.Target),
		metadataHash: req.MetadataHash,
		signatures:   make([][]byte, len(req.Signatures)),
		sourceProof:  req.SourceProof,
	}

	message := endorsement(p.targetHash, p.metadataHash)
	for i, sig := range req.Signatures {
		if len(sig) > 0 && l.VerifySchnorr(sig, message, keyAt(p.source.ProofKeys, i)) {
			p.signatures[i] = sig
		}
	}

	if _, err := l.verifyStep(p, 0); err != nil {
		return nil, err
	}

	return p.encode(), nil
}

// VerifyChainOfTrust checks a proof back to its genesis address book.
func (l *Library) VerifyChainOfTrust(proof []byte) (ChainOfTrust, error) {
	p, err := decodeChainProof(proof)
	if err != nil {
		return ChainOfTrust{}, err
	}

	return l.verifyStep(p, 0)
}

// verifyStep checks one transition and recurses into the source proof.
func (l *Library) verifyStep(p *chainProof, depth int) (ChainOfTrust, error) {
	if depth > maxChainDepth {
		return ChainOfTrust{}, fmt.Errorf("chain of trust deeper than %d", maxChainDepth)
	}

	sourceHash := l.HashAddressBook(p.source)
	message := endorsement(p.targetHash, p.metadataHash)

	var total, signed uint64
	for i, weight := range p.source.Weights {
		total += weight

		sig := p.signatures[i]
		if len(sig) == 0 {
			continue
		}

		if !l.VerifySchnorr(sig, message, keyAt(p.source.ProofKeys, i)) {
			return ChainOfTrust{}, fmt.Errorf("invalid signature from source entry %d", i)
		}

		signed += weight
	}

	if signed == 0 || signed < total/3+min(total%3, 1) {
		return ChainOfTrust{}, fmt.Errorf("%w: %d of %d", ErrInsufficientWeight, signed, total)
	}

	if p.sourceProof == nil {
		if sourceHash != p.genesis {
			return ChainOfTrust{}, fmt.Errorf("source address book is not the genesis book")
		}

		return ChainOfTrust{GenesisHash: p.genesis, TargetHash: p.targetHash, MetadataHash: p.metadataHash, Depth: 1}, nil
	}

	inner, err := decodeChainProof(p.sourceProof)
	if err != nil {
		return ChainOfTrust{}, fmt.Errorf("source proof:\n%w", err)
	}

	prev, err := l.verifyStep(inner, depth+1)
	if err != nil {
		return ChainOfTrust{}, fmt.Errorf("source proof:\n%w", err)
	}

	if prev.GenesisHash != p.genesis {
		return ChainOfTrust{}, fmt.Errorf("source proof has a different genesis")
	}

	if prev.TargetHash != sourceHash {
		return ChainOfTrust{}, fmt.Errorf("source proof does not end at the source address book")
	}

	return ChainOfTrust{GenesisHash: p.genesis, TargetHash: p.targetHash, MetadataHash: p.metadataHash, Depth: prev.Depth + 1}, nil
}

// encode serializes the proof.
func (p *chainProof) encode() []byte {
	w := codec.NewWriter(256 + len(p.sourceProof))
	w.Fixed(p.genesis[:]).Fixed(p.targetHash[:]).Fixed(p.metadataHash[:])
	w.U32(uint32(len(p.source.Weights)))

	for i, weight := range p.source.Weights {
		w.U64(weight)
		w.VarBytes(keyAt(p.source.ProofKeys, i))
		w.VarBytes(p.signatures[i])
	}

	w.Bool(p.sourceProof != nil)
	if p.sourceProof != nil {
		w.VarBytes(p.sourceProof)
	}

	return w.Bytes()
}

// decodeChainProof parses an encoded proof.
func decodeChainProof(data []byte) (*chainProof, error) {
	r := codec.NewReader(data)
	p := &chainProof{}

	copy(p.genesis[:], r.Fixed(32))
	copy(p.targetHash[:], r.Fixed(32))
	copy(p.metadataHash[:], r.Fixed(32))

	n := r.Count(16)
	p.source.Weights = make([]uint64, n)
	p.source.ProofKeys = make([][]byte, n)
	p.signatures = make([][]byte, n)

	for i := 0; i < n; i++ {
		p.source.Weights[i] = r.U64()
		p.source.ProofKeys[i] = r.VarBytes()
		p.signatures[i] = r.VarBytes()
	}

	if r.Bool() {
		p.sourceProof = r.VarBytes()
		if p.sourceProof == nil {
			p.sourceProof = []byte{}
		}
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: chain proof: %v", ErrInvalidEncoding, err)
	}

	return p, nil
}
