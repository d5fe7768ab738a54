package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"Tessera/internal/state"
)

func TestSealOpen(t *testing.T) {
	body := HintsKeyBody{PartyID: 3, NumParties: 8, HintsKey: []byte("key")}

	tx, err := Open(Seal(42, body))
	require.NoError(t, err)
	require.Equal(t, KindHintsKey, tx.Kind)
	require.Equal(t, uint64(42), tx.Creator)

	got, err := DecodeHintsKey(tx.Body)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestPreprocessingVoteCongruence(t *testing.T) {
	inline := PreprocessingVoteBody{
		ConstructionID: 7,
		Vote: state.PreprocessingVote{Keys: &state.PreprocessedKeys{
			AggregationKey:  []byte("agg"),
			VerificationKey: []byte("vk"),
		}},
	}

	got, err := DecodePreprocessingVote(inline.Encode())
	require.NoError(t, err)
	require.False(t, got.Vote.Congruent())
	require.Equal(t, []byte("vk"), got.Vote.Keys.VerificationKey)

	congruent := PreprocessingVoteBody{ConstructionID: 7, Vote: state.PreprocessingVote{CongruentNodeID: 0}}

	got, err = DecodePreprocessingVote(congruent.Encode())
	require.NoError(t, err)
	require.True(t, got.Vote.Congruent())
	require.Equal(t, uint64(0), got.Vote.CongruentNodeID)
	require.Equal(t, uint64(7), got.ConstructionID)
}

func TestHistoryProofVote(t *testing.T) {
	proof := &state.HistoryProof{
		SourceAddressBookHash: [32]byte{1},
		TargetProofKeys:       []state.ProofKey{{NodeID: 1, Key: []byte("k1")}, {NodeID: 5, Key: []byte("k5")}},
		TargetHistory:         state.History{AddressBookHash: [32]byte{2}, Metadata: []byte("vk")},
		Proof:                 []byte("proof"),
	}

	got, err := DecodeHistoryProofVote(HistoryProofVoteBody{ConstructionID: 3, Vote: state.HistoryProofVote{Proof: proof}}.Encode())
	require.NoError(t, err)
	require.Equal(t, proof, got.Vote.Proof)

	got, err = DecodeHistoryProofVote(HistoryProofVoteBody{ConstructionID: 3, Vote: state.HistoryProofVote{CongruentNodeID: 5}}.Encode())
	require.NoError(t, err)
	require.True(t, got.Vote.Congruent())
	require.Equal(t, uint64(5), got.Vote.CongruentNodeID)
}

func TestHistorySignatureRequiresHash(t *testing.T) {
	body := HistorySignatureBody{
		ConstructionID: 2,
		Signature: state.HistorySignature{
			History:   state.History{AddressBookHash: [32]byte{9}, Metadata: []byte("vk")},
			Signature: []byte("sig"),
		},
	}

	got, err := DecodeHistorySignature(body.Encode())
	require.NoError(t, err)
	require.Equal(t, body, got)

	_, err = DecodeHistorySignature(ProofKeyBody{ProofKey: []byte("x")}.Encode())
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open([]byte{1, 2})
	require.ErrorIs(t, err, ErrInvalidEncoding)

	_, err = Open([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

type unknownBody struct{}

func (unknownBody) Kind() Kind     { return Kind(99) }
func (unknownBody) Encode() []byte { return nil }

func TestOpenRejectsUnknownKind(t *testing.T) {
	_, err := Open(Seal(1, unknownBody{}))
	require.ErrorIs(t, err, ErrUnknownKind)
}
