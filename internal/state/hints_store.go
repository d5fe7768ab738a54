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

// partySlot keys a hinTS key set.
type partySlot struct {
	partyID    int
	numParties int
}

// HintsStore persists the hinTS constructions, keys, votes and CRS ceremony.
type HintsStore struct {
	db *storage.Storage

	mu      sync.RWMutex
	active  HintsConstruction                      // active is the construction signing today
	next    HintsConstruction                      // next is the construction for the candidate roster
	crs     CRSState                               // crs is the ceremony state
	hasCRS  bool                                   // hasCRS is false until the ceremony is initialized
	keySets map[partySlot]HintsKeySet              // keySets holds published hinTS keys
	votes   map[constructionNode]PreprocessingVote // votes holds preprocessing votes
	crsPubs map[uint64]CRSPublication              // crsPubs holds CRS deltas by node
}

// OpenHintsStore loads the hinTS records from db.
func OpenHintsStore(db *storage.Storage) (*HintsStore, error) {
	s := &HintsStore{
		db:      db,
		keySets: make(map[partySlot]HintsKeySet),
		votes:   make(map[constructionNode]PreprocessingVote),
		crsPubs: make(map[uint64]CRSPublication),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load hints store:\n%w", err)
	}

	return s, nil
}

// load rebuilds the in-memory records from storage.
func (s *HintsStore) load() error {
	var err error

	if s.active, _, err = loadOne(s.db, prefixHintsActive, decodeHintsConstruction); err != nil {
		return err
	}

	if s.next, _, err = loadOne(s.db, prefixHintsNext, decodeHintsConstruction); err != nil {
		return err
	}

	if s.crs, s.hasCRS, err = loadOne(s.db, prefixCRS, decodeCRSState); err != nil {
		return err
	}

	err = loadAll(s.db, prefixHintsKey, 2, decodeHintsKeySet, func(ids []uint64, k HintsKeySet) {
		s.keySets[partySlot{numParties: int(ids[0]), partyID: int(ids[1])}] = k
	})
	if err != nil {
		return err
	}

	err = loadAll(s.db, prefixHintsVote, 2, decodePreprocessingVote, func(ids []uint64, v PreprocessingVote) {
		s.votes[constructionNode{construction: ids[0], node: ids[1]}] = v
	})
	if err != nil {
		return err
	}

	return loadAll(s.db, prefixCRSPub, 1, decodeCRSPublication, func(ids []uint64, p CRSPublication) {
		s.crsPubs[ids[0]] = p
	})
}

// ActiveConstruction returns the active slot (possibly empty).
func (s *HintsStore) ActiveConstruction() HintsConstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// NextConstruction returns the next slot (possibly empty).
func (s *HintsStore) NextConstruction() HintsConstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.next
}

// ActiveVerificationKey returns the active scheme's verification key, or nil.
func (s *HintsStore) ActiveVerificationKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active.Scheme == nil {
		return nil
	}

	return s.active.Scheme.VerificationKey
}

// ConstructionFor returns the construction for the rosters, if any.
// There is never a construction during a handoff.
func (s *HintsStore) ConstructionFor(ar *roster.ActiveRosters) (HintsConstruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.constructionForLocked(ar)
}

func (s *HintsStore) constructionForLocked(ar *roster.ActiveRosters) (HintsConstruction, bool) {
	if ar.Phase() == roster.Handoff {
		return HintsConstruction{}, false
	}

	if s.active.IsFor(ar) {
		return s.active, true
	}

	if s.next.IsFor(ar) {
		return s.next, true
	}

	return HintsConstruction{}, false
}

// ConstructionByID returns the construction in either slot with the given id.
func (s *HintsStore) ConstructionByID(id uint64) (HintsConstruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case id != 0 && s.active.ID == id:
		return s.active, true
	case id != 0 && s.next.ID == id:
		return s.next, true
	}

	return HintsConstruction{}, false
}

// GetOrCreateConstruction returns the construction for the rosters, creating
// it in the first free slot (or replacing the next slot) if needed.
// Calling it during a handoff is a programmer error.
func (s *HintsStore) GetOrCreateConstruction(ar *roster.ActiveRosters, now time.Time, cfg *config.TSS) (HintsConstruction, error) {
	if ar.Phase() == roster.Handoff {
		panic("state: handoff phase has no hints construction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.constructionForLocked(ar); ok {
		return c, nil
	}

	grace := cfg.TransitionHintsKeyGracePeriod
	if ar.Phase() == roster.Bootstrap {
		grace = cfg.BootstrapHintsKeyGracePeriod
	}

	c := HintsConstruction{
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
		b.put(prefixHintsActive, encodeHintsConstruction(c))
	} else {
		if !s.next.Empty() {
			if source := ar.FindRelated(s.next.SourceHash); source != nil {
				purged = s.purgeVotesLocked(&b, s.next.ID, source)
			}
		}

		b.put(prefixHintsNext, encodeHintsConstruction(c))
		slot = "next"
	}

	rotated := s.rotateKeysLocked(&b, ar.TargetRoster(), now)

	if err := b.commit(s.db); err != nil {
		return HintsConstruction{}, fmt.Errorf("create hints construction %d:\n%w", c.ID, err)
	}

	if slot == "active" {
		s.active = c
	} else {
		s.next = c
	}

	for k, v := range rotated {
		s.keySets[k] = v
	}

	for _, k := range purged {
		delete(s.votes, k)
	}

	logger.Info("created hints construction",
		"construction", c.ID,
		"slot", slot,
		"source", c.SourceHash,
		"target", c.TargetHash,
	)

	return c, nil
}

// rotateKeysLocked promotes pending next keys of target nodes into use.
func (s *HintsStore) rotateKeysLocked(b *batch, target *roster.Roster, now time.Time) map[partySlot]HintsKeySet {
	rotated := make(map[partySlot]HintsKeySet)

	for slot, ks := range s.keySets {
		if len(ks.NextKey) == 0 || !target.Contains(ks.NodeID) {
			continue
		}

		ks.Key, ks.NextKey, ks.AdoptionTime = ks.NextKey, nil, now
		rotated[slot] = ks
		b.put(makeKey(prefixHintsKey, uint64(slot.numParties), uint64(slot.partyID)), encodeHintsKeySet(ks))
	}

	return rotated
}

// purgeVotesLocked queues deletion of the roster's votes for a construction
// and returns the in-memory keys to drop once committed.
func (s *HintsStore) purgeVotesLocked(b *batch, constructionID uint64, r *roster.Roster) []constructionNode {
	var purged []constructionNode
	for _, id := range r.NodeIDs() {
		key := constructionNode{construction: constructionID, node: id}
		if _, ok := s.votes[key]; !ok {
			continue
		}

		purged = append(purged, key)
		b.del(makeKey(prefixHintsVote, constructionID, id))
	}

	return purged
}

// update applies fn to the construction with the given id and persists it.
func (s *HintsStore) update(id uint64, fn func(*HintsConstruction)) (HintsConstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		target *HintsConstruction
		key    []byte
	)

	switch {
	case id != 0 && s.active.ID == id:
		target, key = &s.active, prefixHintsActive
	case id != 0 && s.next.ID == id:
		target, key = &s.next, prefixHintsNext
	default:
		return HintsConstruction{}, fmt.Errorf("%w: %d", ErrNoConstruction, id)
	}

	updated := *target
	fn(&updated)

	var b batch
	b.put(key, encodeHintsConstruction(updated))
	if err := b.commit(s.db); err != nil {
		return HintsConstruction{}, fmt.Errorf("update hints construction %d:\n%w", id, err)
	}

	*target = updated

	return updated, nil
}

// SetPreprocessingStart records when the key set was frozen and closes key
// publication by clearing the grace period end.
func (s *HintsStore) SetPreprocessingStart(id uint64, now time.Time) (HintsConstruction, error) {
	return s.update(id, func(c *HintsConstruction) {
		c.PreprocessingStart = now
		c.GracePeriodEnd = time.Time{}
	})
}

// SetScheme records the adopted scheme.
func (s *HintsStore) SetScheme(id uint64, keys PreprocessedKeys, nodePartyIDs map[uint64]int) (HintsConstruction, error) {
	return s.update(id, func(c *HintsConstruction) {
		c.Scheme = &HintsScheme{
			AggregationKey:  keys.AggregationKey,
			VerificationKey: keys.VerificationKey,
			NodePartyIDs:    nodePartyIDs,
		}
	})
}

// RescheduleGracePeriodEnd moves the grace period end of a construction.
func (s *HintsStore) RescheduleGracePeriodEnd(id uint64, end time.Time) (HintsConstruction, error) {
	return s.update(id, func(c *HintsConstruction) {
		c.GracePeriodEnd = end
	})
}

// Votes returns the preprocessing votes cast by the given nodes.
func (s *HintsStore) Votes(constructionID uint64, nodeIDs []uint64) map[uint64]PreprocessingVote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]PreprocessingVote)
	for _, id := range nodeIDs {
		if v, ok := s.votes[constructionNode{construction: constructionID, node: id}]; ok {
			out[id] = v
		}
	}

	return out
}

// AddVote records a node's preprocessing vote.
func (s *HintsStore) AddVote(nodeID, constructionID uint64, vote PreprocessingVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(makeKey(prefixHintsVote, constructionID, nodeID), encodePreprocessingVote(vote))
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("add vote of node %d:\n%w", nodeID, err)
	}

	s.votes[constructionNode{construction: constructionID, node: nodeID}] = vote

	return nil
}

// HintsKeyPublications returns the keys in use by the given nodes for a party count.
func (s *HintsStore) HintsKeyPublications(nodeIDs []uint64, numParties int) []HintsKeyPublication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HintsKeyPublication
	for party := 1; party <= numParties; party++ {
		ks, ok := s.keySets[partySlot{partyID: party, numParties: numParties}]
		if !ok || !slices.Contains(nodeIDs, ks.NodeID) {
			continue
		}

		out = append(out, HintsKeyPublication{
			NodeID:       ks.NodeID,
			Key:          ks.Key,
			PartyID:      party,
			AdoptionTime: ks.AdoptionTime,
		})
	}

	return out
}

// SetHintsKey records a node's key for a party slot. The key is in use at
// once if the slot was free; otherwise it waits for the next construction.
func (s *HintsStore) SetHintsKey(nodeID uint64, partyID, numParties int, key []byte, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := partySlot{partyID: partyID, numParties: numParties}

	ks, exists := s.keySets[slot]
	if exists {
		ks.NextKey = key
	} else {
		ks = HintsKeySet{NodeID: nodeID, Key: key, AdoptionTime: now}
	}

	var b batch
	b.put(makeKey(prefixHintsKey, uint64(numParties), uint64(partyID)), encodeHintsKeySet(ks))
	if err := b.commit(s.db); err != nil {
		return false, fmt.Errorf("set hints key of node %d:\n%w", nodeID, err)
	}

	s.keySets[slot] = ks

	return !exists, nil
}

// CRSState returns the ceremony state; ok is false before initialization.
func (s *HintsStore) CRSState() (CRSState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.crs, s.hasCRS
}

// SetCRSState replaces the ceremony state.
func (s *HintsStore) SetCRSState(st CRSState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(prefixCRS, encodeCRSState(st))
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("set crs state:\n%w", err)
	}

	s.crs, s.hasCRS = st, true

	return nil
}

// MoveToNextContributor advances the ceremony pointer. When there is no next
// contributor the ceremony waits until end before adopting the final CRS.
func (s *HintsStore) MoveToNextContributor(next uint64, hasNext bool, end time.Time) error {
	s.mu.RLock()
	st := s.crs
	s.mu.RUnlock()

	st.NextContributor, st.HasNextContributor = next, hasNext
	st.ContributionEndTime = end
	if !hasNext {
		st.Stage = WaitingForAdoptingFinalCRS
	}

	return s.SetCRSState(st)
}

// AddCRSPublication records a node's CRS delta, replacing any earlier one.
func (s *HintsStore) AddCRSPublication(p CRSPublication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b batch
	b.put(makeKey(prefixCRSPub, p.NodeID), encodeCRSPublication(p))
	if err := b.commit(s.db); err != nil {
		return fmt.Errorf("add crs publication of node %d:\n%w", p.NodeID, err)
	}

	s.crsPubs[p.NodeID] = p

	return nil
}

// OrderedCRSPublications returns the given nodes' CRS deltas by ascending node id.
func (s *HintsStore) OrderedCRSPublications(nodeIDs []uint64) []CRSPublication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(nodeIDs)
	slices.Sort(ids)

	var out []CRSPublication
	for _, id := range ids {
		if p, ok := s.crsPubs[id]; ok {
			out = append(out, p)
		}
	}

	return out
}

// Handoff makes the next construction active if it targets toHash. Votes of
// the outgoing roster on the replaced construction are purged, as are the
// key sets of nodes leaving the roster unless only weights changed.
func (s *HintsStore) Handoff(from, to *roster.Roster, toHash roster.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next.Empty() || s.next.TargetHash != toHash {
		return false, nil
	}

	var b batch
	purged := s.purgeVotesLocked(&b, s.active.ID, from)

	var departed []partySlot
	if from != to && !from.IsWeightRotation(to) {
		for slot, ks := range s.keySets {
			if from.Contains(ks.NodeID) && !to.Contains(ks.NodeID) {
				departed = append(departed, slot)
				b.del(makeKey(prefixHintsKey, uint64(slot.numParties), uint64(slot.partyID)))
			}
		}
	}

	b.put(prefixHintsActive, encodeHintsConstruction(s.next))
	b.del(prefixHintsNext)

	if err := b.commit(s.db); err != nil {
		return false, fmt.Errorf("hints handoff to %s:\n%w", toHash, err)
	}

	for _, slot := range departed {
		delete(s.keySets, slot)
	}

	for _, k := range purged {
		delete(s.votes, k)
	}

	logger.Info("hints construction handed off", "construction", s.next.ID, "roster", toHash)

	s.active, s.next = s.next, HintsConstruction{}

	return true, nil
}
