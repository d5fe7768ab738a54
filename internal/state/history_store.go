package state

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"Tessera/internal/config"
	"Tessera/internal/logger"
	"Tessera/internal/roster"
	"Tessera/internal/storage"
)

// HistoryStore persists the chain-of-trust constructions, proof keys,
// signatures, votes and the ledger id.
type HistoryStore struct {
	db *storage.Storage

	mu         sync.RWMutex
	active     ProofConstruction                         // active is the construction of the current roster
	next       ProofConstruction                         // next is the construction for the candidate roster
	ledgerID   []byte                                    // ledgerID is set once by the first completed proof
	keySets    map[uint64]ProofKeySet                    // keySets holds proof keys by node
	signatures map[constructionNode]SignaturePublication // signatures holds history signatures
	votes      map[constructionNode]HistoryProofVote     // votes holds proof votes
}

// OpenHistoryStore loads the history records from db.
func OpenHistoryStore(db *storage.Storage) (*HistoryStore, error) {
	s := &HistoryStore{
		db:         db,
		keySets:    make(map[uint64]ProofKeySet),
		signatures: make(map[constructionNode]SignaturePublication),
		votes:      make(map[constructionNode]HistoryProofVote),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load history store:\n%w", err)
	}

	return s, nil
}

// load rebuilds the in-memory records from storage.
func (s *HistoryStore) load() error {
	var err error

	if s.active, _, err = loadOne(s.db, prefixProofActive, decodeProofConstruction); err != nil {
		return err
	}

	if s.next, _, err = loadOne(s.db, prefixProofNext, decodeProofConstruction); err != nil {
		return err
	}

	identity := func(b []byte) ([]byte, error) { return b, nil }
	if s.ledgerID, _, err = loadOne(s.db, prefixLedgerID, identity); err != nil {
		return err
	}

	err = loadAll(s.db, prefixProofKey, 1, decodeProofKeySet, func(ids []uint64, k ProofKeySet) {
		s.keySets[ids[0]] = k
	})
	if err != nil {
		return err
	}

	err = loadAll(s.db, prefixSignature, 2, decodeSignaturePublication, func(ids []uint64, p SignaturePublication) {
		s.signatures[constructionNode{construction: ids[0], node: ids[1]}] = p
	})
	if err != nil {
		return err
	}

	return loadAll(s.db, prefixProofVote, 2, decodeHistoryProofVote, func(ids []uint64, v HistoryProofVote) {
		s.votes[constructionNode{construction: ids[0], node: ids[1]}] = v
	})
}

// ActiveConstruction returns the active slot (possibly empty).
func (s *HistoryStore) ActiveConstruction() ProofConstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// NextConstruction returns the next slot (possibly empty).
func (s *HistoryStore) NextConstruction() ProofConstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.next
}

// LedgerID returns the ledger id, nil until the first proof completes.
func (s *HistoryStore) LedgerID() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledgerID
}

// SetLedgerID persists the ledger id.
func (s *HistoryStore) SetLedgerID(id []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(prefixLedgerID, id)
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("set ledger id:\n%w", err)
	}

	s.ledgerID = slices.Clone(id)

	return nil
}

// ConstructionFor returns the construction for the rosters, if any.
func (s *HistoryStore) ConstructionFor(ar *roster.ActiveRosters) (ProofConstruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.constructionForLocked(ar)
}

func (s *HistoryStore) constructionForLocked(ar *roster.ActiveRosters) (ProofConstruction, bool) {
	if ar.Phase() == roster.Handoff {
		return ProofConstruction{}, false
	}

	if s.active.IsFor(ar) {
		return s.active, true
	}

	if s.next.IsFor(ar) {
		return s.next, true
	}

	return ProofConstruction{}, false
}

// ConstructionByID returns the construction in either slot with the given id.
func (s *HistoryStore) ConstructionByID(id uint64) (ProofConstruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case id != 0 && s.active.ID == id:
		return s.active, true
	case id != 0 && s.next.ID == id:
		return s.next, true
	}

	return ProofConstruction{}, false
}

// GetOrCreateConstruction returns the construction for the rosters, creating
// it if needed. A construction placed in the next slot inherits the active
// target proof as its source proof when the rosters chain. Pending proof
// keys of target nodes are rotated into use. Calling it during a handoff is
// a programmer error.
func (s *HistoryStore) GetOrCreateConstruction(ar *roster.ActiveRosters, now time.Time, cfg *config.TSS) (ProofConstruction, error) {
	if ar.Phase() == roster.Handoff {
		panic("state: handoff phase has no proof construction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.constructionForLocked(ar); ok {
		return c, nil
	}

	grace := cfg.TransitionProofKeyGracePeriod
	if ar.Phase() == roster.Bootstrap {
		grace = cfg.BootstrapProofKeyGracePeriod
	}

	c := ProofConstruction{
		ID:             max(s.active.ID, s.next.ID) + 1,
		SourceHash:     ar.SourceHash(),
		TargetHash:     ar.TargetHash(),
		GracePeriodEnd: now.Add(grace),
	}

	var (
		b      batch
		purged []constructionNode
	)
	slot := "active"

	if s.active.Empty() {
		b.put(prefixProofActive, encodeProofConstruction(c))
	} else {
		if !s.next.Empty() {
			if source := ar.FindRelated(s.next.SourceHash); source != nil {
				purged = s.purgeLocked(&b, s.next.ID, source)
			}
		}

		if s.active.HasTargetProof() && s.active.TargetHash == c.SourceHash {
			c.SourceProof = s.active.TargetProof
		}

		b.put(prefixProofNext, encodeProofConstruction(c))
		slot = "next"
	}

	rotated := make(map[uint64]ProofKeySet)
	for _, id := range ar.TargetRoster().NodeIDs() {
		ks, ok := s.keySets[id]
		if !ok || len(ks.NextKey) == 0 {
			continue
		}

		ks.Key, ks.NextKey, ks.AdoptionTime = ks.NextKey, nil, now
		rotated[id] = ks
		b.put(makeKey(prefixProofKey, id), encodeProofKeySet(ks))
	}

	if err := b.commit(s.db); err != nil {
		return ProofConstruction{}, fmt.Errorf("create proof construction %d:\n%w", c.ID, err)
	}

	if slot == "active" {
		s.active = c
	} else {
		s.next = c
	}

	for id, ks := range rotated {
		s.keySets[id] = ks
	}

	s.dropLocked(purged)

	logger.Info("created proof construction",
		"construction", c.ID,
		"slot", slot,
		"source", c.SourceHash,
		"target", c.TargetHash,
		"sourceProof", c.SourceProof != nil,
	)

	return c, nil
}

// purgeLocked queues deletion of the roster's votes and signatures for a
// construction and returns the in-memory keys to drop once committed.
func (s *HistoryStore) purgeLocked(b *batch, constructionID uint64, r *roster.Roster) []constructionNode {
	var purged []constructionNode
	for _, id := range r.NodeIDs() {
		key := constructionNode{construction: constructionID, node: id}
		_, hasVote := s.votes[key]
		_, hasSig := s.signatures[key]

		if !hasVote && !hasSig {
			continue
		}

		purged = append(purged, key)
		b.del(makeKey(prefixProofVote, constructionID, id))
		b.del(makeKey(prefixSignature, constructionID, id))
	}

	return purged
}

// dropLocked removes purged records from memory.
func (s *HistoryStore) dropLocked(purged []constructionNode) {
	for _, k := range purged {
		delete(s.votes, k)
		delete(s.signatures, k)
	}
}

// update applies fn to the construction with the given id and persists it.
func (s *HistoryStore) update(id uint64, fn func(*ProofConstruction)) (ProofConstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		target *ProofConstruction
		key    []byte
	)

	switch {
	case id != 0 && s.active.ID == id:
		target, key = &s.active, prefixProofActive
	case id != 0 && s.next.ID == id:
		target, key = &s.next, prefixProofNext
	default:
		return ProofConstruction{}, fmt.Errorf("%w: %d", ErrNoConstruction, id)
	}

	updated := *target
	fn(&updated)

	var b batch
	b.put(key, encodeProofConstruction(updated))
	if err := b.commit(s.db); err != nil {
		return ProofConstruction{}, fmt.Errorf("update proof construction %d:\n%w", id, err)
	}

	*target = updated

	return updated, nil
}

// SetAssemblyTime records when signing began and closes proof key
// publication for the construction.
func (s *HistoryStore) SetAssemblyTime(id uint64, now time.Time) (ProofConstruction, error) {
	return s.update(id, func(c *ProofConstruction) {
		c.AssemblyStart = now
		c.GracePeriodEnd = time.Time{}
	})
}

// CompleteProof records the adopted target proof.
func (s *HistoryStore) CompleteProof(id uint64, proof *HistoryProof) (ProofConstruction, error) {
	return s.update(id, func(c *ProofConstruction) {
		c.TargetProof = proof
	})
}

// FailForReason marks the construction as failed.
func (s *HistoryStore) FailForReason(id uint64, reason string) (ProofConstruction, error) {
	return s.update(id, func(c *ProofConstruction) {
		c.FailureReason = reason
	})
}

// ProofKeyPublications returns the proof keys in use by the given nodes,
// ordered by node id.
func (s *HistoryStore) ProofKeyPublications(nodeIDs []uint64) []ProofKeyPublication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(nodeIDs)
	slices.Sort(ids)

	var out []ProofKeyPublication
	for _, id := range ids {
		ks, ok := s.keySets[id]
		if !ok || len(ks.Key) == 0 {
			continue
		}

		out = append(out, ProofKeyPublication{NodeID: id, Key: ks.Key, AdoptionTime: ks.AdoptionTime})
	}

	return out
}

// ProofKeySet returns a node's key set.
func (s *HistoryStore) ProofKeySet(nodeID uint64) (ProofKeySet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ks, ok := s.keySets[nodeID]

	return ks, ok
}

// SetProofKey records a node's proof key. The key is in use at once if the
// node had none; otherwise it waits for the next construction.
func (s *HistoryStore) SetProofKey(nodeID uint64, key []byte, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, exists := s.keySets[nodeID]
	if exists {
		ks.NextKey = key
	} else {
		ks = ProofKeySet{Key: key, AdoptionTime: now}
	}

	var b batch
	b.put(makeKey(prefixProofKey, nodeID), encodeProofKeySet(ks))
	if err := b.commit(s.db); err != nil {
		return false, fmt.Errorf("set proof key of node %d:\n%w", nodeID, err)
	}

	s.keySets[nodeID] = ks

	return !exists, nil
}

// AddSignature records a node's history signature.
func (s *HistoryStore) AddSignature(constructionID uint64, p SignaturePublication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(makeKey(prefixSignature, constructionID, p.NodeID), encodeSignaturePublication(p))
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("add signature of node %d:\n%w", p.NodeID, err)
	}

	s.signatures[constructionNode{construction: constructionID, node: p.NodeID}] = p

	return nil
}

// SignaturePublications returns the given nodes' signatures ordered by
// consensus time, then node id.
func (s *HistoryStore) SignaturePublications(constructionID uint64, nodeIDs []uint64) []SignaturePublication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SignaturePublication
	for _, id := range nodeIDs {
		if p, ok := s.signatures[constructionNode{construction: constructionID, node: id}]; ok {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, func(a, b SignaturePublication) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}

		switch {
		case a.NodeID < b.NodeID:
			return -1
		case a.NodeID > b.NodeID:
			return 1
		}
		return 0
	})

	return out
}

// AddProofVote records a node's proof vote.
func (s *HistoryStore) AddProofVote(nodeID, constructionID uint64, vote HistoryProofVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(makeKey(prefixProofVote, constructionID, nodeID), encodeHistoryProofVote(vote))
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("add proof vote of node %d:\n%w", nodeID, err)
	}

	s.votes[constructionNode{construction: constructionID, node: nodeID}] = vote

	return nil
}

// Votes returns the proof votes cast by the given nodes.
func (s *HistoryStore) Votes(constructionID uint64, nodeIDs []uint64) map[uint64]HistoryProofVote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]HistoryProofVote)
	for _, id := range nodeIDs {
		if v, ok := s.votes[constructionNode{construction: constructionID, node: id}]; ok {
			out[id] = v
		}
	}

	return out
}

// Handoff makes the next construction active if it targets toHash. Votes
// and signatures of the outgoing roster on the replaced construction are
// purged, as are proof keys of nodes leaving unless only weights changed.
func (s *HistoryStore) Handoff(from, to *roster.Roster, toHash roster.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next.Empty() || s.next.TargetHash != toHash {
		return false, nil
	}

	var b batch
	purged := s.purgeLocked(&b, s.active.ID, from)

	var departed []uint64
	if from != to && !from.IsWeightRotation(to) {
		for _, id := range from.NodeIDs() {
			if _, ok := s.keySets[id]; ok && !to.Contains(id) {
				departed = append(departed, id)
				b.del(makeKey(prefixProofKey, id))
			}
		}
	}

	b.put(prefixProofActive, encodeProofConstruction(s.next))
	b.del(prefixProofNext)

	if err := b.commit(s.db); err != nil {
		return false, fmt.Errorf("proof handoff to %s:\n%w", toHash, err)
	}

	for _, id := range departed {
		delete(s.keySets, id)
	}

	s.dropLocked(purged)

	logger.Info("proof construction handed off", "construction", s.next.ID, "roster", toHash)

	s.active, s.next = s.next, ProofConstruction{}

	return true, nil
}
