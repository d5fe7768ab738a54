package tsslib

import (
	"crypto/rand"
	"fmt"
	"slices"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"Tessera/internal/codec"
)

const (
	// BLSPrivateKeySize is the size of a serialized BLS secret key.
	BLSPrivateKeySize = 32

	// BLSPublicKeySize is the size of a compressed BLS public key.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature.
	BLSSignatureSize = 96

	// HintsKeySize is the size of a hinTS key: public key plus possession proof.
	HintsKeySize = BLSPublicKeySize + BLSSignatureSize

	// entrySize is the encoded size of one aggregation key entry.
	entrySize = 4 + 8 + BLSPublicKeySize
)

var (
	// blsDST is the domain separation tag for partial and aggregate signatures.
	blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

	// popDST separates possession proofs from message signatures.
	popDST = []byte("BLS_POP_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")
)

// PreprocessedKeys is the output of hinTS preprocessing.
type PreprocessedKeys struct {
	AggregationKey  []byte // AggregationKey lets anyone aggregate partial signatures
	VerificationKey []byte // VerificationKey verifies aggregate signatures
}

// keyEntry is one party in an aggregation or verification key.
type keyEntry struct {
	party  uint32         // party is the hinTS party id
	weight uint64         // weight is the party's target weight
	pk     *blst.P1Affine // pk is the party's BLS public key
	raw    [48]byte       // raw is the compressed public key
}

// NewBLSPrivateKey generates a fresh BLS secret key.
func (l *Library) NewBLSPrivateKey() ([]byte, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return l.BLSPrivateKeyFromSeed(ikm[:])
}

// BLSPrivateKeyFromSeed derives a BLS secret key from a seed of at least 32 bytes.
func (l *Library) BLSPrivateKeyFromSeed(seed []byte) ([]byte, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	sk := blst.KeyGen(seed)
	if sk == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return sk.Serialize(), nil
}

// BLSPublicKey returns the compressed public key of a secret key.
func (l *Library) BLSPublicKey(privateKey []byte) ([]byte, error) {
	sk, err := secretKey(privateKey)
	if err != nil {
		return nil, err
	}

	return new(blst.P1Affine).From(sk).Compress(), nil
}

// secretKey parses a serialized secret key.
func secretKey(privateKey []byte) (*blst.SecretKey, error) {
	if len(privateKey) != BLSPrivateKeySize {
		return nil, fmt.Errorf("%w: bls private key size %d", ErrInvalidEncoding, len(privateKey))
	}

	sk := new(blst.SecretKey).Deserialize(privateKey)
	if sk == nil {
		return nil, fmt.Errorf("%w: bls private key", ErrInvalidEncoding)
	}

	return sk, nil
}

// hintsMessage is what a hinTS key's possession proof signs.
func hintsMessage(crs []byte, partyID, numParties int) []byte {
	digest := crsDigest(crs)

	w := codec.NewWriter(64)
	w.Fixed([]byte("tessera-hints-v1"))
	w.Fixed(digest[:])
	w.U32(uint32(partyID))
	w.U32(uint32(numParties))

	return w.Bytes()
}

// ComputeHints derives the hinTS key of a party: its public key and a
// possession proof bound to the CRS and the party slot.
func (l *Library) ComputeHints(crs, privateKey []byte, partyID, numParties int) ([]byte, error) {
	sk, err := secretKey(privateKey)
	if err != nil {
		return nil, err
	}

	pk := new(blst.P1Affine).From(sk).Compress()
	pop := new(blst.P2Affine).Sign(sk, hintsMessage(crs, partyID, numParties), popDST).Compress()

	return slices.Concat(pk, pop), nil
}

// ValidateHintsKey checks a hinTS key against the CRS and party slot.
func (l *Library) ValidateHintsKey(crs, hintsKey []byte, partyID, numParties int) bool {
	if len(hintsKey) != HintsKeySize || partyID < 1 || partyID > numParties {
		return false
	}

	supported, err := l.CRSParties(crs)
	if err != nil || numParties > supported {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(hintsKey[:BLSPublicKeySize])
	if pk == nil || !pk.KeyValidate() {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(hintsKey[BLSPublicKeySize:])
	if sig == nil {
		return false
	}

	return sig.Verify(true, pk, true, hintsMessage(crs, partyID, numParties), popDST)
}

// Preprocess combines the valid hinTS keys and party weights into the
// aggregation and verification keys. The output depends only on its inputs.
func (l *Library) Preprocess(crs []byte, hintsKeys map[int][]byte, weights map[int]uint64, numParties int) (PreprocessedKeys, error) {
	parties := make([]int, 0, len(hintsKeys))
	for party := range hintsKeys {
		if _, ok := weights[party]; ok {
			parties = append(parties, party)
		}
	}
	slices.Sort(parties)

	if len(parties) == 0 {
		return PreprocessedKeys{}, fmt.Errorf("no weighted hinTS keys to preprocess")
	}

	var total uint64
	entries := codec.NewWriter(len(parties) * entrySize)

	for _, party := range parties {
		key := hintsKeys[party]
		if len(key) != HintsKeySize {
			return PreprocessedKeys{}, fmt.Errorf("%w: hints key of party %d", ErrInvalidEncoding, party)
		}

		entries.U32(uint32(party)).U64(weights[party]).Fixed(key[:BLSPublicKeySize])
		total += weights[party]
	}

	digest := crsDigest(crs)

	agg := codec.NewWriter(40 + len(entries.Bytes()))
	agg.Fixed(digest[:]).U32(uint32(numParties)).U32(uint32(len(parties))).Fixed(entries.Bytes())

	vk := codec.NewWriter(16 + len(entries.Bytes()))
	vk.U64(total).U32(uint32(numParties)).U32(uint32(len(parties))).Fixed(entries.Bytes())

	return PreprocessedKeys{AggregationKey: agg.Bytes(), VerificationKey: vk.Bytes()}, nil
}

// decodeEntries reads count key entries.
func decodeEntries(r *codec.Reader, count int) ([]keyEntry, error) {
	out := make([]keyEntry, count)

	for i := range out {
		out[i].party = r.U32()
		out[i].weight = r.U64()
		copy(out[i].raw[:], r.Fixed(BLSPublicKeySize))

		if r.Err() != nil {
			return nil, fmt.Errorf("%w: key entry %d", ErrInvalidEncoding, i)
		}

		out[i].pk = new(blst.P1Affine).Uncompress(out[i].raw[:])
		if out[i].pk == nil {
			return nil, fmt.Errorf("%w: public key of party %d", ErrInvalidEncoding, out[i].party)
		}
	}

	return out, nil
}

// aggregationKey is a decoded aggregation key.
type aggregationKey struct {
	crsDigest  [32]byte   // crsDigest binds the key to its CRS
	numParties int        // numParties is the party slot count
	entries    []keyEntry // entries are ordered by party id
}

func decodeAggregationKey(data []byte) (*aggregationKey, error) {
	r := codec.NewReader(data)

	k := &aggregationKey{}
	copy(k.crsDigest[:], r.Fixed(32))
	k.numParties = int(r.U32())
	count := r.Count(entrySize)

	if r.Err() != nil {
		return nil, fmt.Errorf("%w: aggregation key header", ErrInvalidEncoding)
	}

	entries, err := decodeEntries(r, count)
	if err != nil {
		return nil, err
	}

	k.entries = entries

	return k, r.Done()
}

// find returns the entry of a party.
func (k *aggregationKey) find(party int) (keyEntry, bool) {
	i, ok := slices.BinarySearchFunc(k.entries, uint32(party), func(e keyEntry, p uint32) int {
		return int(int64(e.party) - int64(p))
	})
	if !ok {
		return keyEntry{}, false
	}

	return k.entries[i], true
}

// verificationKey is a decoded verification key.
type verificationKey struct {
	totalWeight uint64     // totalWeight is the weight of all preprocessed parties
	numParties  int        // numParties is the party slot count
	entries     []keyEntry // entries are ordered by party id
}

func decodeVerificationKey(data []byte) (*verificationKey, error) {
	r := codec.NewReader(data)

	k := &verificationKey{}
	k.totalWeight = r.U64()
	k.numParties = int(r.U32())
	count := r.Count(entrySize)

	if r.Err() != nil {
		return nil, fmt.Errorf("%w: verification key header", ErrInvalidEncoding)
	}

	entries, err := decodeEntries(r, count)
	if err != nil {
		return nil, err
	}

	k.entries = entries

	return k, r.Done()
}

// SignBLS signs a message with a party's secret key.
func (l *Library) SignBLS(message, privateKey []byte) ([]byte, error) {
	sk, err := secretKey(privateKey)
	if err != nil {
		return nil, err
	}

	return new(blst.P2Affine).Sign(sk, message, blsDST).Compress(), nil
}

// VerifyBLS checks a party's partial signature using the aggregation key.
func (l *Library) VerifyBLS(crs, signature, message, aggregationKey []byte, partyID int) bool {
	if len(signature) != BLSSignatureSize {
		return false
	}

	k, err := decodeAggregationKey(aggregationKey)
	if err != nil || k.crsDigest != crsDigest(crs) {
		return false
	}

	entry, ok := k.find(partyID)
	if !ok {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	return sig.Verify(true, entry.pk, true, message, blsDST)
}

// AggregateSignatures combines partial signatures keyed by party id.
// The result is a signer bitmap (by party id) followed by the aggregate signature.
func (l *Library) AggregateSignatures(crs, aggregationKey, verificationKey []byte, partials map[int][]byte) ([]byte, error) {
	k, err := decodeAggregationKey(aggregationKey)
	if err != nil {
		return nil, err
	}

	if k.crsDigest != crsDigest(crs) {
		return nil, fmt.Errorf("aggregation key does not match crs")
	}

	if _, err := decodeVerificationKey(verificationKey); err != nil {
		return nil, err
	}

	parties := make([]int, 0, len(partials))
	for party := range partials {
		if _, ok := k.find(party); ok {
			parties = append(parties, party)
		}
	}
	slices.Sort(parties)

	if len(parties) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(parties))
	bitmap := make([]byte, (k.numParties+1+7)/8)

	for i, party := range parties {
		sig := new(blst.P2Affine).Uncompress(partials[party])
		if sig == nil {
			return nil, fmt.Errorf("invalid signature of party %d", party)
		}

		sigs[i] = sig
		bitmap[party/8] |= 1 << (party % 8)
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return slices.Concat(bitmap, agg.ToAffine().Compress()), nil
}

// VerifyAggregate checks an aggregate signature and that its signers carry at
// least thresholdNum/thresholdDen of the verification key's total weight.
func (l *Library) VerifyAggregate(signature, message, verificationKey []byte, thresholdNum, thresholdDen uint64) bool {
	k, err := decodeVerificationKey(verificationKey)
	if err != nil || thresholdDen == 0 {
		return false
	}

	bitmapLen := (k.numParties + 1 + 7) / 8
	if len(signature) != bitmapLen+BLSSignatureSize {
		return false
	}

	bitmap := signature[:bitmapLen]

	var signed uint64
	pks := make([]*blst.P1Affine, 0, len(k.entries))

	for _, e := range k.entries {
		if int(e.party)/8 < len(bitmap) && bitmap[e.party/8]&(1<<(e.party%8)) != 0 {
			pks = append(pks, e.pk)
			signed += e.weight
		}
	}

	if len(pks) == 0 || signed*thresholdDen < k.totalWeight*thresholdNum {
		return false
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, false) {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature[bitmapLen:])
	if sig == nil {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), false, message, blsDST)
}

// HashHintsVerificationKey digests a hinTS verification key.
func (l *Library) HashHintsVerificationKey(verificationKey []byte) [32]byte {
	return blake3.Sum256(verificationKey)
}
