package state

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"Tessera/internal/codec"
	"Tessera/internal/roster"
)

// Key prefixes for storage.
var (
	prefixHintsActive = []byte("h:act")  // h:act -> active hinTS construction
	prefixHintsNext   = []byte("h:nxt")  // h:nxt -> next hinTS construction
	prefixCRS         = []byte("h:crs")  // h:crs -> CRS state
	prefixHintsKey    = []byte("h:key:") // h:key:<numParties><party> -> key set
	prefixHintsVote   = []byte("h:vot:") // h:vot:<construction><node> -> vote
	prefixCRSPub      = []byte("h:pub:") // h:pub:<node> -> CRS publication

	prefixProofActive = []byte("p:act")  // p:act -> active proof construction
	prefixProofNext   = []byte("p:nxt")  // p:nxt -> next proof construction
	prefixProofKey    = []byte("p:key:") // p:key:<node> -> proof key set
	prefixSignature   = []byte("p:sig:") // p:sig:<construction><node> -> signature
	prefixProofVote   = []byte("p:vot:") // p:vot:<construction><node> -> vote
	prefixLedgerID    = []byte("p:lid")  // p:lid -> ledger id
)

// makeKey appends big-endian ids to a prefix so keys sort numerically.
func makeKey(prefix []byte, ids ...uint64) []byte {
	key := make([]byte, len(prefix), len(prefix)+8*len(ids))
	copy(key, prefix)

	for _, id := range ids {
		key = binary.BigEndian.AppendUint64(key, id)
	}

	return key
}

// keyIDs parses the big-endian ids following a prefix.
func keyIDs(key []byte, prefix []byte, n int) ([]uint64, error) {
	rest := key[len(prefix):]
	if len(rest) != 8*n {
		return nil, fmt.Errorf("malformed key %x", key)
	}

	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint64(rest[8*i:])
	}

	return ids, nil
}

// putTime writes a time as unix nanoseconds, zero for the zero time.
func putTime(w *codec.Writer, t time.Time) {
	if t.IsZero() {
		w.I64(0)
		return
	}

	w.I64(t.UnixNano())
}

// readTime reverses putTime.
func readTime(r *codec.Reader) time.Time {
	n := r.I64()
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

// readHash reads a fixed 32-byte hash.
func readHash(r *codec.Reader) [32]byte {
	var h [32]byte
	copy(h[:], r.Fixed(32))

	return h
}

func encodeCRSState(s CRSState) []byte {
	w := codec.NewWriter(len(s.CRS) + 32)
	w.VarBytes(s.CRS).U8(uint8(s.Stage)).U64(s.NextContributor).Bool(s.HasNextContributor)
	putTime(w, s.ContributionEndTime)

	return w.Bytes()
}

func decodeCRSState(data []byte) (CRSState, error) {
	r := codec.NewReader(data)

	s := CRSState{
		CRS:                r.VarBytes(),
		Stage:              CRSStage(r.U8()),
		NextContributor:    r.U64(),
		HasNextContributor: r.Bool(),
	}
	s.ContributionEndTime = readTime(r)

	return s, r.Done()
}

func encodeCRSPublication(p CRSPublication) []byte {
	return codec.NewWriter(len(p.NewCRS)+len(p.Proof)+16).
		U64(p.NodeID).VarBytes(p.NewCRS).VarBytes(p.Proof).Bytes()
}

func decodeCRSPublication(data []byte) (CRSPublication, error) {
	r := codec.NewReader(data)
	p := CRSPublication{NodeID: r.U64(), NewCRS: r.VarBytes(), Proof: r.VarBytes()}

	return p, r.Done()
}

func putPreprocessedKeys(w *codec.Writer, k PreprocessedKeys) {
	w.VarBytes(k.AggregationKey).VarBytes(k.VerificationKey)
}

func readPreprocessedKeys(r *codec.Reader) PreprocessedKeys {
	return PreprocessedKeys{AggregationKey: r.VarBytes(), VerificationKey: r.VarBytes()}
}

func encodeHintsConstruction(c HintsConstruction) []byte {
	w := codec.NewWriter(128)
	w.U64(c.ID).Fixed(c.SourceHash[:]).Fixed(c.TargetHash[:])
	putTime(w, c.GracePeriodEnd)
	putTime(w, c.PreprocessingStart)

	w.Bool(c.Scheme != nil)
	if c.Scheme != nil {
		putPreprocessedKeys(w, PreprocessedKeys{
			AggregationKey:  c.Scheme.AggregationKey,
			VerificationKey: c.Scheme.VerificationKey,
		})

		nodes := make([]uint64, 0, len(c.Scheme.NodePartyIDs))
		for id := range c.Scheme.NodePartyIDs {
			nodes = append(nodes, id)
		}
		slices.Sort(nodes)

		w.U32(uint32(len(nodes)))
		for _, id := range nodes {
			w.U64(id).U32(uint32(c.Scheme.NodePartyIDs[id]))
		}
	}

	return w.Bytes()
}

func decodeHintsConstruction(data []byte) (HintsConstruction, error) {
	r := codec.NewReader(data)

	c := HintsConstruction{ID: r.U64()}
	c.SourceHash = roster.Hash(readHash(r))
	c.TargetHash = roster.Hash(readHash(r))
	c.GracePeriodEnd = readTime(r)
	c.PreprocessingStart = readTime(r)

	if r.Bool() {
		keys := readPreprocessedKeys(r)
		n := r.Count(12)

		scheme := &HintsScheme{
			AggregationKey:  keys.AggregationKey,
			VerificationKey: keys.VerificationKey,
			NodePartyIDs:    make(map[uint64]int, n),
		}
		for i := 0; i < n; i++ {
			id := r.U64()
			scheme.NodePartyIDs[id] = int(r.U32())
		}

		c.Scheme = scheme
	}

	return c, r.Done()
}

func encodeHintsKeySet(k HintsKeySet) []byte {
	w := codec.NewWriter(len(k.Key) + len(k.NextKey) + 32)
	w.U64(k.NodeID).VarBytes(k.Key)
	putTime(w, k.AdoptionTime)
	w.VarBytes(k.NextKey)

	return w.Bytes()
}

func decodeHintsKeySet(data []byte) (HintsKeySet, error) {
	r := codec.NewReader(data)

	k := HintsKeySet{NodeID: r.U64(), Key: r.VarBytes()}
	k.AdoptionTime = readTime(r)
	k.NextKey = r.VarBytes()

	return k, r.Done()
}

func encodePreprocessingVote(v PreprocessingVote) []byte {
	w := codec.NewWriter(64)

	w.Bool(v.Keys != nil)
	if v.Keys != nil {
		putPreprocessedKeys(w, *v.Keys)
	} else {
		w.U64(v.CongruentNodeID)
	}

	return w.Bytes()
}

func decodePreprocessingVote(data []byte) (PreprocessingVote, error) {
	r := codec.NewReader(data)

	var v PreprocessingVote
	if r.Bool() {
		keys := readPreprocessedKeys(r)
		v.Keys = &keys
	} else {
		v.CongruentNodeID = r.U64()
	}

	return v, r.Done()
}

func putHistory(w *codec.Writer, h History) {
	w.Fixed(h.AddressBookHash[:]).VarBytes(h.Metadata)
}

func readHistory(r *codec.Reader) History {
	return History{AddressBookHash: readHash(r), Metadata: r.VarBytes()}
}

func putHistoryProof(w *codec.Writer, p *HistoryProof) {
	w.Fixed(p.SourceAddressBookHash[:])

	w.U32(uint32(len(p.TargetProofKeys)))
	for _, k := range p.TargetProofKeys {
		w.U64(k.NodeID).VarBytes(k.Key)
	}

	putHistory(w, p.TargetHistory)
	w.VarBytes(p.Proof)
}

func readHistoryProof(r *codec.Reader) *HistoryProof {
	p := &HistoryProof{SourceAddressBookHash: readHash(r)}

	n := r.Count(12)
	p.TargetProofKeys = make([]ProofKey, n)
	for i := range p.TargetProofKeys {
		p.TargetProofKeys[i] = ProofKey{NodeID: r.U64(), Key: r.VarBytes()}
	}

	p.TargetHistory = readHistory(r)
	p.Proof = r.VarBytes()

	return p
}

// putOptionalProof writes a presence flag followed by the proof.
func putOptionalProof(w *codec.Writer, p *HistoryProof) {
	w.Bool(p != nil)
	if p != nil {
		putHistoryProof(w, p)
	}
}

func readOptionalProof(r *codec.Reader) *HistoryProof {
	if !r.Bool() {
		return nil
	}

	return readHistoryProof(r)
}

func encodeProofConstruction(c ProofConstruction) []byte {
	w := codec.NewWriter(256)
	w.U64(c.ID).Fixed(c.SourceHash[:]).Fixed(c.TargetHash[:])
	putTime(w, c.GracePeriodEnd)
	putTime(w, c.AssemblyStart)
	putOptionalProof(w, c.SourceProof)
	putOptionalProof(w, c.TargetProof)
	w.String(c.FailureReason)

	return w.Bytes()
}

func decodeProofConstruction(data []byte) (ProofConstruction, error) {
	r := codec.NewReader(data)

	c := ProofConstruction{ID: r.U64()}
	c.SourceHash = roster.Hash(readHash(r))
	c.TargetHash = roster.Hash(readHash(r))
	c.GracePeriodEnd = readTime(r)
	c.AssemblyStart = readTime(r)
	c.SourceProof = readOptionalProof(r)
	c.TargetProof = readOptionalProof(r)
	c.FailureReason = r.String()

	return c, r.Done()
}

func encodeProofKeySet(k ProofKeySet) []byte {
	w := codec.NewWriter(96)
	w.VarBytes(k.Key)
	putTime(w, k.AdoptionTime)
	w.VarBytes(k.NextKey)

	return w.Bytes()
}

func decodeProofKeySet(data []byte) (ProofKeySet, error) {
	r := codec.NewReader(data)

	k := ProofKeySet{Key: r.VarBytes()}
	k.AdoptionTime = readTime(r)
	k.NextKey = r.VarBytes()

	return k, r.Done()
}

func encodeSignaturePublication(p SignaturePublication) []byte {
	w := codec.NewWriter(160)
	w.U64(p.NodeID)
	putHistory(w, p.Signature.History)
	w.VarBytes(p.Signature.Signature)
	putTime(w, p.At)

	return w.Bytes()
}

func decodeSignaturePublication(data []byte) (SignaturePublication, error) {
	r := codec.NewReader(data)

	p := SignaturePublication{NodeID: r.U64()}
	p.Signature.History = readHistory(r)
	p.Signature.Signature = r.VarBytes()
	p.At = readTime(r)

	return p, r.Done()
}

func encodeHistoryProofVote(v HistoryProofVote) []byte {
	w := codec.NewWriter(256)

	w.Bool(v.Proof != nil)
	if v.Proof != nil {
		putHistoryProof(w, v.Proof)
	} else {
		w.U64(v.CongruentNodeID)
	}

	return w.Bytes()
}

func decodeHistoryProofVote(data []byte) (HistoryProofVote, error) {
	r := codec.NewReader(data)

	var v HistoryProofVote
	if r.Bool() {
		v.Proof = readHistoryProof(r)
	} else {
		v.CongruentNodeID = r.U64()
	}

	return v, r.Done()
}
