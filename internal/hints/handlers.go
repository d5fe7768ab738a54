package hints

import (
	"fmt"
	"time"

	"Tessera/internal/state"
	"Tessera/internal/txn"
)

// HandleHintsKey records a hinTS key publication. The key is kept only if
// it claims the party the creator holds or is expected to take.
func (s *Service) HandleHintsKey(creator uint64, body txn.HintsKeyBody, now time.Time) error {
	c, ok := s.controllers.InProgressForNumParties(body.NumParties)
	if !ok {
		s.log.Debug("no construction for hints key", "node", creator, "parties", body.NumParties)
		return nil
	}

	if st, ok := s.store.CRSState(); !ok || st.Stage != state.CRSCompleted {
		s.log.Debug("hints key before crs completed", "node", creator)
		return nil
	}

	if party, ok := c.PartyIDOf(creator); !ok || party != body.PartyID {
		s.log.Debug("hints key claims wrong party", "node", creator, "party", body.PartyID)
		s.metrics.HintsKeys.WithLabelValues("rejected").Inc()
		return nil
	}

	inUse, err := s.store.SetHintsKey(creator, body.PartyID, body.NumParties, body.HintsKey, now)
	if err != nil {
		return fmt.Errorf("record hints key:\n%w", err)
	}

	if inUse {
		c.AddHintsKeyPublication(state.HintsKeyPublication{
			NodeID:       creator,
			Key:          body.HintsKey,
			PartyID:      body.PartyID,
			AdoptionTime: now,
		})
	}

	return nil
}

// HandlePreprocessingVote routes a vote to its construction's controller.
func (s *Service) HandlePreprocessingVote(creator uint64, body txn.PreprocessingVoteBody) error {
	c, ok := s.controllers.InProgressByID(body.ConstructionID)
	if !ok {
		s.log.Debug("vote for construction not in progress", "node", creator, "construction", body.ConstructionID)
		return nil
	}

	if _, err := c.AddPreprocessingVote(creator, body.Vote); err != nil {
		return fmt.Errorf("add preprocessing vote of node %d:\n%w", creator, err)
	}

	return nil
}

// HandleCRSPublication records the expected contributor's CRS delta. Deltas
// from any other node, or outside the gathering stage, are ignored.
func (s *Service) HandleCRSPublication(creator uint64, body txn.CRSPublicationBody, now time.Time) error {
	st, ok := s.store.CRSState()
	if !ok || st.Stage != state.GatheringContributions || !st.HasNextContributor || st.NextContributor != creator {
		s.log.Debug("ignoring crs publication", "node", creator)
		return nil
	}

	c, ok := s.controllers.AnyInProgress()
	if !ok {
		return nil
	}

	p := state.CRSPublication{NodeID: creator, NewCRS: body.NewCRS, Proof: body.Proof}
	if err := s.store.AddCRSPublication(p); err != nil {
		return fmt.Errorf("record crs publication:\n%w", err)
	}

	if err := c.AddCRSPublication(p, now); err != nil {
		return fmt.Errorf("add crs publication of node %d:\n%w", creator, err)
	}

	return nil
}

// partialKey identifies a partial signature check.
type partialKey struct {
	constructionID uint64
	nodeID         uint64
	message        string
	signature      string
}

// HandlePartialSignature verifies a partial signature, caching the result,
// and incorporates it into the session for its message.
func (s *Service) HandlePartialSignature(creator uint64, body txn.PartialSignatureBody) {
	key := partialKey{
		constructionID: body.ConstructionID,
		nodeID:         creator,
		message:        string(body.Message),
		signature:      string(body.Signature),
	}

	valid, ok := s.validated.Get(key)
	if !ok {
		valid = s.signing.Validate(creator, body.ConstructionID, body.Message, body.Signature)
		s.validated.Add(key, valid)
	}

	if !valid.(bool) {
		s.metrics.PartialSignatures.WithLabelValues("invalid").Inc()
		s.log.Warn("invalid partial signature", "node", creator, "construction", body.ConstructionID)
		return
	}

	s.metrics.PartialSignatures.WithLabelValues("valid").Inc()

	session, err := s.session(body.ConstructionID, body.Message)
	if err != nil {
		s.log.Debug("no session for partial signature", "node", creator, "error", err)
		return
	}

	if session.Incorporate(creator, body.Signature) {
		s.log.Info("aggregate signature ready", "construction", body.ConstructionID)
	}
}
