// Package state holds the persisted construction records of the hinTS and
// history services.
//
// Each store keeps its records in memory, indexes them the way the
// controllers query them, and writes every mutation through to pebble.
// All mutations happen on the round-apply goroutine; reads may come from
// the status API and are guarded by a read lock.
package state

import (
	"errors"
	"time"

	"Tessera/internal/roster"
)

var (
	// ErrNoConstruction is returned when an id matches neither slot.
	ErrNoConstruction = errors.New("state: no construction with that id")
)

// CRSStage is the stage of the CRS ceremony.
type CRSStage uint8

const (
	// GatheringContributions means source nodes take turns updating the CRS.
	GatheringContributions CRSStage = iota
	// WaitingForAdoptingFinalCRS means contributions ended and the fold is settling.
	WaitingForAdoptingFinalCRS
	// CRSCompleted means the final CRS is adopted.
	CRSCompleted
)

// String returns the stage name.
func (s CRSStage) String() string {
	switch s {
	case GatheringContributions:
		return "GATHERING_CONTRIBUTIONS"
	case WaitingForAdoptingFinalCRS:
		return "WAITING_FOR_ADOPTING_FINAL_CRS"
	case CRSCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// CRSState is the network-wide state of the CRS ceremony.
type CRSState struct {
	CRS                 []byte    // CRS is the last adopted reference string
	Stage               CRSStage  // Stage is the ceremony stage
	NextContributor     uint64    // NextContributor is the node expected to contribute
	HasNextContributor  bool      // HasNextContributor is false once contributions ended
	ContributionEndTime time.Time // ContributionEndTime bounds the current window (zero if unset)
}

// CRSPublication is a CRS delta published by a node.
type CRSPublication struct {
	NodeID uint64 // NodeID is the contributor
	NewCRS []byte // NewCRS is the updated reference string
	Proof  []byte // Proof is the update proof
}

// HintsScheme is the adopted output of a hinTS construction.
type HintsScheme struct {
	AggregationKey  []byte         // AggregationKey is the preprocessed aggregation key
	VerificationKey []byte         // VerificationKey is the preprocessed verification key
	NodePartyIDs    map[uint64]int // NodePartyIDs maps node ids to party ids
}

// HintsConstruction is one hinTS construction between two rosters.
// The zero value (ID 0) denotes an empty slot.
type HintsConstruction struct {
	ID                 uint64       // ID is the construction id
	SourceHash         roster.Hash  // SourceHash identifies the source roster
	TargetHash         roster.Hash  // TargetHash identifies the target roster
	GracePeriodEnd     time.Time    // GracePeriodEnd closes key publication (zero if unset)
	PreprocessingStart time.Time    // PreprocessingStart freezes the key set (zero if unset)
	Scheme             *HintsScheme // Scheme is the adopted output, nil until adopted
}

// Empty reports whether this is an empty slot.
func (c HintsConstruction) Empty() bool {
	return c.ID == 0
}

// HasScheme reports whether the construction finished.
func (c HintsConstruction) HasScheme() bool {
	return c.Scheme != nil
}

// IsFor reports whether the construction is for the given rosters.
func (c HintsConstruction) IsFor(ar *roster.ActiveRosters) bool {
	return !c.Empty() && c.SourceHash == ar.SourceHash() && c.TargetHash == ar.TargetHash()
}

// HintsKeySet is the key a node uses for one (party id, party count) slot.
type HintsKeySet struct {
	NodeID       uint64    // NodeID is the owner of the party slot
	Key          []byte    // Key is the hinTS key in use
	AdoptionTime time.Time // AdoptionTime is when Key was adopted
	NextKey      []byte    // NextKey replaces Key at the next construction, if set
}

// HintsKeyPublication is a hinTS key in use by a target node.
type HintsKeyPublication struct {
	NodeID       uint64    // NodeID is the publisher
	Key          []byte    // Key is the hinTS key
	PartyID      int       // PartyID is the party the key was computed for
	AdoptionTime time.Time // AdoptionTime orders validations
}

// PreprocessedKeys is a hinTS preprocessing output.
type PreprocessedKeys struct {
	AggregationKey  []byte // AggregationKey is used to aggregate partial signatures
	VerificationKey []byte // VerificationKey is used to verify aggregate signatures
}

// PreprocessingVote is either an inline output or a pointer to another
// node's vote with the same output.
type PreprocessingVote struct {
	Keys            *PreprocessedKeys // Keys is the inline output, nil for a congruent vote
	CongruentNodeID uint64            // CongruentNodeID is the node whose vote this repeats
}

// Congruent reports whether the vote points at another node's vote.
func (v PreprocessingVote) Congruent() bool {
	return v.Keys == nil
}

// ProofKey is a node's Schnorr proof key.
type ProofKey struct {
	NodeID uint64 // NodeID is the key owner
	Key    []byte // Key is the Schnorr public key
}

// History is a roster address book bound to the hinTS verification key.
type History struct {
	AddressBookHash [32]byte // AddressBookHash commits to the target weights and proof keys
	Metadata        []byte   // Metadata is the hinTS verification key
}

// HistoryProof is a chain-of-trust proof from the ledger genesis to a roster.
type HistoryProof struct {
	SourceAddressBookHash [32]byte   // SourceAddressBookHash is the hash of the signing address book
	TargetProofKeys       []ProofKey // TargetProofKeys are the proof keys of the target roster
	TargetHistory         History    // TargetHistory is the endorsed target history
	Proof                 []byte     // Proof is the recursive proof bytes
}

// ProofConstruction is one chain-of-trust construction between two rosters.
// The zero value (ID 0) denotes an empty slot.
type ProofConstruction struct {
	ID             uint64        // ID is the construction id
	SourceHash     roster.Hash   // SourceHash identifies the source roster
	TargetHash     roster.Hash   // TargetHash identifies the target roster
	GracePeriodEnd time.Time     // GracePeriodEnd closes proof key publication (zero if unset)
	AssemblyStart  time.Time     // AssemblyStart is when signing began (zero if unset)
	SourceProof    *HistoryProof // SourceProof is the proof being extended, nil at genesis
	TargetProof    *HistoryProof // TargetProof is the adopted output, nil until adopted
	FailureReason  string        // FailureReason is set when the construction failed
}

// Empty reports whether this is an empty slot.
func (c ProofConstruction) Empty() bool {
	return c.ID == 0
}

// HasTargetProof reports whether the construction finished.
func (c ProofConstruction) HasTargetProof() bool {
	return c.TargetProof != nil
}

// Failed reports whether the construction failed.
func (c ProofConstruction) Failed() bool {
	return c.FailureReason != ""
}

// IsFor reports whether the construction is for the given rosters.
func (c ProofConstruction) IsFor(ar *roster.ActiveRosters) bool {
	return !c.Empty() && c.SourceHash == ar.SourceHash() && c.TargetHash == ar.TargetHash()
}

// ProofKeySet is a node's proof key and its pending replacement.
type ProofKeySet struct {
	Key          []byte    // Key is the proof key in use
	AdoptionTime time.Time // AdoptionTime is when Key was adopted
	NextKey      []byte    // NextKey replaces Key at the next construction, if set
}

// ProofKeyPublication is a proof key in use by a node.
type ProofKeyPublication struct {
	NodeID       uint64    // NodeID is the owner
	Key          []byte    // Key is the Schnorr public key
	AdoptionTime time.Time // AdoptionTime orders publications
}

// HistorySignature is a node's signature over a history.
type HistorySignature struct {
	History   History // History is the signed history
	Signature []byte  // Signature is the Schnorr signature
}

// SignaturePublication is a recorded history signature.
type SignaturePublication struct {
	NodeID    uint64           // NodeID is the signer
	Signature HistorySignature // Signature is the signed history
	At        time.Time        // At is the consensus time of the signature
}

// HistoryProofVote is either an inline proof or a pointer to another
// node's vote with the same proof.
type HistoryProofVote struct {
	Proof           *HistoryProof // Proof is the inline proof, nil for a congruent vote
	CongruentNodeID uint64        // CongruentNodeID is the node whose vote this repeats
}

// Congruent reports whether the vote points at another node's vote.
func (v HistoryProofVote) Congruent() bool {
	return v.Proof == nil
}
