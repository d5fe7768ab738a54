// Package txn encodes the construction protocol transactions.
//
// Every transaction is an Envelope carrying its kind, the creator node id
// and a kind-specific flatbuffers body. Decoders never panic: malformed
// input yields ErrInvalidEncoding.
package txn

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Tessera/internal/state"
)

var (
	// ErrInvalidEncoding is returned for malformed envelopes and bodies.
	ErrInvalidEncoding = errors.New("txn: invalid encoding")

	// ErrUnknownKind is returned for envelopes of an unknown kind.
	ErrUnknownKind = errors.New("txn: unknown kind")
)

// Kind identifies a transaction body.
type Kind uint8

const (
	KindHintsKey Kind = iota + 1
	KindPreprocessingVote
	KindPartialSignature
	KindCRSPublication
	KindProofKey
	KindHistorySignature
	KindHistoryProofVote
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHintsKey:
		return "hints_key"
	case KindPreprocessingVote:
		return "preprocessing_vote"
	case KindPartialSignature:
		return "partial_signature"
	case KindCRSPublication:
		return "crs_publication"
	case KindProofKey:
		return "proof_key"
	case KindHistorySignature:
		return "history_signature"
	case KindHistoryProofVote:
		return "history_proof_vote"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Body is a transaction body that can be sealed into an envelope.
type Body interface {
	Kind() Kind
	Encode() []byte
}

// Transaction is a decoded envelope.
type Transaction struct {
	Kind    Kind   // Kind selects the body decoder
	Creator uint64 // Creator is the submitting node id
	Body    []byte // Body is the encoded body
}

// Seal wraps a body into an envelope from creator.
func Seal(creator uint64, body Body) []byte {
	raw := body.Encode()

	builder := flatbuffers.NewBuilder(len(raw) + 32)
	bodyVec := builder.CreateByteVector(raw)

	EnvelopeStart(builder)
	EnvelopeAddKind(builder, byte(body.Kind()))
	EnvelopeAddCreator(builder, creator)
	EnvelopeAddBody(builder, bodyVec)
	builder.Finish(EnvelopeEnd(builder))

	return builder.FinishedBytes()
}

// Open decodes an envelope.
func Open(data []byte) (Transaction, error) {
	return decode(data, func(data []byte) (Transaction, error) {
		env := GetRootAsEnvelope(data, 0)

		tx := Transaction{
			Kind:    Kind(env.Kind()),
			Creator: env.Creator(),
			Body:    env.BodyBytes(),
		}

		if tx.Kind < KindHintsKey || tx.Kind > KindHistoryProofVote {
			return tx, fmt.Errorf("%w: %d", ErrUnknownKind, tx.Kind)
		}

		return tx, nil
	})
}

// decode runs fn over a flatbuffer, turning accessor panics into errors.
func decode[T any](data []byte, fn func([]byte) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrInvalidEncoding, r)
		}
	}()

	if len(data) < 8 {
		return v, fmt.Errorf("%w: %d bytes", ErrInvalidEncoding, len(data))
	}

	return fn(data)
}

// finish completes a builder into its bytes.
func finish(builder *flatbuffers.Builder, root flatbuffers.UOffsetT) []byte {
	builder.Finish(root)
	return builder.FinishedBytes()
}

// HintsKeyBody publishes a node's hinTS key for a party slot.
type HintsKeyBody struct {
	PartyID    int    // PartyID is the claimed party
	NumParties int    // NumParties is the party count the key was computed for
	HintsKey   []byte // HintsKey is the hinTS key
}

func (HintsKeyBody) Kind() Kind { return KindHintsKey }

func (b HintsKeyBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(b.HintsKey) + 32)
	key := builder.CreateByteVector(b.HintsKey)

	HintsKeyPublicationStart(builder)
	HintsKeyPublicationAddPartyId(builder, uint32(b.PartyID))
	HintsKeyPublicationAddNumParties(builder, uint32(b.NumParties))
	HintsKeyPublicationAddHintsKey(builder, key)

	return finish(builder, HintsKeyPublicationEnd(builder))
}

// DecodeHintsKey decodes a HintsKeyBody.
func DecodeHintsKey(data []byte) (HintsKeyBody, error) {
	return decode(data, func(data []byte) (HintsKeyBody, error) {
		t := GetRootAsHintsKeyPublication(data, 0)

		return HintsKeyBody{
			PartyID:    int(t.PartyId()),
			NumParties: int(t.NumParties()),
			HintsKey:   clone(t.HintsKeyBytes()),
		}, nil
	})
}

// PreprocessingVoteBody is a node's vote on a preprocessing output.
type PreprocessingVoteBody struct {
	ConstructionID uint64                  // ConstructionID is the voted construction
	Vote           state.PreprocessingVote // Vote is inline or congruent
}

func (PreprocessingVoteBody) Kind() Kind { return KindPreprocessingVote }

func (b PreprocessingVoteBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(256)

	var keys flatbuffers.UOffsetT
	if b.Vote.Keys != nil {
		agg := builder.CreateByteVector(b.Vote.Keys.AggregationKey)
		vk := builder.CreateByteVector(b.Vote.Keys.VerificationKey)

		PreprocessedKeysStart(builder)
		PreprocessedKeysAddAggregationKey(builder, agg)
		PreprocessedKeysAddVerificationKey(builder, vk)
		keys = PreprocessedKeysEnd(builder)
	}

	PreprocessingVoteStart(builder)
	PreprocessingVoteAddConstructionId(builder, b.ConstructionID)
	if b.Vote.Keys != nil {
		PreprocessingVoteAddPreprocessedKeys(builder, keys)
	} else {
		PreprocessingVoteAddCongruentNodeId(builder, b.Vote.CongruentNodeID)
	}

	return finish(builder, PreprocessingVoteEnd(builder))
}

// DecodePreprocessingVote decodes a PreprocessingVoteBody.
func DecodePreprocessingVote(data []byte) (PreprocessingVoteBody, error) {
	return decode(data, func(data []byte) (PreprocessingVoteBody, error) {
		t := GetRootAsPreprocessingVote(data, 0)
		b := PreprocessingVoteBody{ConstructionID: t.ConstructionId()}

		if keys := t.PreprocessedKeys(nil); keys != nil {
			b.Vote.Keys = &state.PreprocessedKeys{
				AggregationKey:  clone(keys.AggregationKeyBytes()),
				VerificationKey: clone(keys.VerificationKeyBytes()),
			}
		} else {
			b.Vote.CongruentNodeID = t.CongruentNodeId()
		}

		return b, nil
	})
}

// PartialSignatureBody is a node's partial signature on a message.
type PartialSignatureBody struct {
	ConstructionID uint64 // ConstructionID is the scheme the signature is for
	Message        []byte // Message is the signed message
	Signature      []byte // Signature is the partial BLS signature
}

func (PartialSignatureBody) Kind() Kind { return KindPartialSignature }

func (b PartialSignatureBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(b.Message) + len(b.Signature) + 48)
	msg := builder.CreateByteVector(b.Message)
	sig := builder.CreateByteVector(b.Signature)

	PartialSignatureStart(builder)
	PartialSignatureAddConstructionId(builder, b.ConstructionID)
	PartialSignatureAddMessage(builder, msg)
	PartialSignatureAddPartialSignature(builder, sig)

	return finish(builder, PartialSignatureEnd(builder))
}

// DecodePartialSignature decodes a PartialSignatureBody.
func DecodePartialSignature(data []byte) (PartialSignatureBody, error) {
	return decode(data, func(data []byte) (PartialSignatureBody, error) {
		t := GetRootAsPartialSignature(data, 0)

		return PartialSignatureBody{
			ConstructionID: t.ConstructionId(),
			Message:        clone(t.MessageBytes()),
			Signature:      clone(t.PartialSignatureBytes()),
		}, nil
	})
}

// CRSPublicationBody is a node's CRS contribution.
type CRSPublicationBody struct {
	NewCRS []byte // NewCRS is the updated reference string
	Proof  []byte // Proof is the update proof
}

func (CRSPublicationBody) Kind() Kind { return KindCRSPublication }

func (b CRSPublicationBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(b.NewCRS) + len(b.Proof) + 32)
	crs := builder.CreateByteVector(b.NewCRS)
	proof := builder.CreateByteVector(b.Proof)

	CrsPublicationStart(builder)
	CrsPublicationAddNewCrs(builder, crs)
	CrsPublicationAddProof(builder, proof)

	return finish(builder, CrsPublicationEnd(builder))
}

// DecodeCRSPublication decodes a CRSPublicationBody.
func DecodeCRSPublication(data []byte) (CRSPublicationBody, error) {
	return decode(data, func(data []byte) (CRSPublicationBody, error) {
		t := GetRootAsCrsPublication(data, 0)

		return CRSPublicationBody{NewCRS: clone(t.NewCrsBytes()), Proof: clone(t.ProofBytes())}, nil
	})
}

// ProofKeyBody publishes a node's Schnorr proof key.
type ProofKeyBody struct {
	ProofKey []byte // ProofKey is the Schnorr public key
}

func (ProofKeyBody) Kind() Kind { return KindProofKey }

func (b ProofKeyBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(b.ProofKey) + 16)
	key := builder.CreateByteVector(b.ProofKey)

	ProofKeyPublicationStart(builder)
	ProofKeyPublicationAddProofKey(builder, key)

	return finish(builder, ProofKeyPublicationEnd(builder))
}

// DecodeProofKey decodes a ProofKeyBody.
func DecodeProofKey(data []byte) (ProofKeyBody, error) {
	return decode(data, func(data []byte) (ProofKeyBody, error) {
		t := GetRootAsProofKeyPublication(data, 0)

		return ProofKeyBody{ProofKey: clone(t.ProofKeyBytes())}, nil
	})
}

// HistorySignatureBody is a node's signature on a target history.
type HistorySignatureBody struct {
	ConstructionID uint64                 // ConstructionID is the proof construction
	Signature      state.HistorySignature // Signature is the signed history
}

func (HistorySignatureBody) Kind() Kind { return KindHistorySignature }

func (b HistorySignatureBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(256)
	history := buildHistory(builder, b.Signature.History)
	sig := builder.CreateByteVector(b.Signature.Signature)

	HistorySignatureStart(builder)
	HistorySignatureAddConstructionId(builder, b.ConstructionID)
	HistorySignatureAddHistory(builder, history)
	HistorySignatureAddSignature(builder, sig)

	return finish(builder, HistorySignatureEnd(builder))
}

// DecodeHistorySignature decodes a HistorySignatureBody.
func DecodeHistorySignature(data []byte) (HistorySignatureBody, error) {
	return decode(data, func(data []byte) (HistorySignatureBody, error) {
		t := GetRootAsHistorySignature(data, 0)

		h := t.History(nil)
		if h == nil {
			return HistorySignatureBody{}, fmt.Errorf("%w: history signature without history", ErrInvalidEncoding)
		}

		history, err := readHistory(h)
		if err != nil {
			return HistorySignatureBody{}, err
		}

		return HistorySignatureBody{
			ConstructionID: t.ConstructionId(),
			Signature:      state.HistorySignature{History: history, Signature: clone(t.SignatureBytes())},
		}, nil
	})
}

// HistoryProofVoteBody is a node's vote on a chain-of-trust proof.
type HistoryProofVoteBody struct {
	ConstructionID uint64                 // ConstructionID is the proof construction
	Vote           state.HistoryProofVote // Vote is inline or congruent
}

func (HistoryProofVoteBody) Kind() Kind { return KindHistoryProofVote }

func (b HistoryProofVoteBody) Encode() []byte {
	builder := flatbuffers.NewBuilder(1024)

	var proof flatbuffers.UOffsetT
	if b.Vote.Proof != nil {
		proof = buildHistoryProof(builder, b.Vote.Proof)
	}

	HistoryProofVoteStart(builder)
	HistoryProofVoteAddConstructionId(builder, b.ConstructionID)
	if b.Vote.Proof != nil {
		HistoryProofVoteAddProof(builder, proof)
	} else {
		HistoryProofVoteAddCongruentNodeId(builder, b.Vote.CongruentNodeID)
	}

	return finish(builder, HistoryProofVoteEnd(builder))
}

// DecodeHistoryProofVote decodes a HistoryProofVoteBody.
func DecodeHistoryProofVote(data []byte) (HistoryProofVoteBody, error) {
	return decode(data, func(data []byte) (HistoryProofVoteBody, error) {
		t := GetRootAsHistoryProofVote(data, 0)
		b := HistoryProofVoteBody{ConstructionID: t.ConstructionId()}

		p := t.Proof(nil)
		if p == nil {
			b.Vote.CongruentNodeID = t.CongruentNodeId()
			return b, nil
		}

		proof, err := readHistoryProof(p)
		if err != nil {
			return HistoryProofVoteBody{}, err
		}
		b.Vote.Proof = proof

		return b, nil
	})
}

func buildHistory(builder *flatbuffers.Builder, h state.History) flatbuffers.UOffsetT {
	hash := builder.CreateByteVector(h.AddressBookHash[:])
	metadata := builder.CreateByteVector(h.Metadata)

	HistoryStart(builder)
	HistoryAddAddressBookHash(builder, hash)
	HistoryAddMetadata(builder, metadata)

	return HistoryEnd(builder)
}

func readHistory(t *History) (state.History, error) {
	hash := t.AddressBookHashBytes()
	if len(hash) != 32 {
		return state.History{}, fmt.Errorf("%w: address book hash of %d bytes", ErrInvalidEncoding, len(hash))
	}

	h := state.History{Metadata: clone(t.MetadataBytes())}
	copy(h.AddressBookHash[:], hash)

	return h, nil
}

func buildHistoryProof(builder *flatbuffers.Builder, p *state.HistoryProof) flatbuffers.UOffsetT {
	keys := make([]flatbuffers.UOffsetT, len(p.TargetProofKeys))
	for i, k := range p.TargetProofKeys {
		key := builder.CreateByteVector(k.Key)

		ProofKeyStart(builder)
		ProofKeyAddNodeId(builder, k.NodeID)
		ProofKeyAddKey(builder, key)
		keys[i] = ProofKeyEnd(builder)
	}

	HistoryProofStartTargetProofKeysVector(builder, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(keys[i])
	}
	keyVec := builder.EndVector(len(keys))

	source := builder.CreateByteVector(p.SourceAddressBookHash[:])
	history := buildHistory(builder, p.TargetHistory)
	proof := builder.CreateByteVector(p.Proof)

	HistoryProofStart(builder)
	HistoryProofAddSourceAddressBookHash(builder, source)
	HistoryProofAddTargetProofKeys(builder, keyVec)
	HistoryProofAddTargetHistory(builder, history)
	HistoryProofAddProof(builder, proof)

	return HistoryProofEnd(builder)
}

func readHistoryProof(t *HistoryProof) (*state.HistoryProof, error) {
	source := t.SourceAddressBookHashBytes()
	if len(source) != 32 {
		return nil, fmt.Errorf("%w: source address book hash of %d bytes", ErrInvalidEncoding, len(source))
	}

	h := t.TargetHistory(nil)
	if h == nil {
		return nil, fmt.Errorf("%w: proof without target history", ErrInvalidEncoding)
	}

	history, err := readHistory(h)
	if err != nil {
		return nil, err
	}

	p := &state.HistoryProof{
		TargetHistory:   history,
		Proof:           clone(t.ProofBytes()),
		TargetProofKeys: make([]state.ProofKey, t.TargetProofKeysLength()),
	}
	copy(p.SourceAddressBookHash[:], source)

	var k ProofKey
	for i := range p.TargetProofKeys {
		t.TargetProofKeys(&k, i)
		p.TargetProofKeys[i] = state.ProofKey{NodeID: k.NodeId(), Key: clone(k.KeyBytes())}
	}

	return p, nil
}

// clone copies a slice out of the flatbuffer.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
