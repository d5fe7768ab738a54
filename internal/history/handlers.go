package history

import (
	"fmt"
	"time"

	"Tessera/internal/state"
	"Tessera/internal/tsslib"
	"Tessera/internal/txn"
)

// HandleProofKey records a node's proof key. A key the node did not have
// before is in use at once; a replacement waits for the next construction.
func (s *Service) HandleProofKey(creator uint64, body txn.ProofKeyBody, now time.Time) error {
	if len(body.ProofKey) != tsslib.SchnorrPublicKeySize {
		s.log.Debug("malformed proof key", "node", creator, "len", len(body.ProofKey))
		return nil
	}

	inUse, err := s.store.SetProofKey(creator, body.ProofKey, now)
	if err != nil {
		return fmt.Errorf("record proof key:\n%w", err)
	}

	s.metrics.ProofKeys.Inc()

	if !inUse {
		return nil
	}

	if c, ok := s.controllers.AnyInProgress(); ok {
		c.AddProofKeyPublication(state.ProofKeyPublication{NodeID: creator, Key: body.ProofKey, AdoptionTime: now})
	}

	return nil
}

// HandleHistorySignature routes a signature to its construction and records
// it if the controller accepted it.
func (s *Service) HandleHistorySignature(creator uint64, body txn.HistorySignatureBody, now time.Time) error {
	c, ok := s.controllers.InProgressByID(body.ConstructionID)
	if !ok {
		s.log.Debug("signature for construction not in progress", "node", creator, "construction", body.ConstructionID)
		return nil
	}

	p := state.SignaturePublication{NodeID: creator, Signature: body.Signature, At: now}
	if !c.AddSignaturePublication(p) {
		return nil
	}

	if err := s.store.AddSignature(body.ConstructionID, p); err != nil {
		return fmt.Errorf("record history signature:\n%w", err)
	}

	return nil
}

// HandleProofVote routes a vote to its construction's controller.
func (s *Service) HandleProofVote(creator uint64, body txn.HistoryProofVoteBody) error {
	c, ok := s.controllers.InProgressByID(body.ConstructionID)
	if !ok {
		s.log.Debug("vote for construction not in progress", "node", creator, "construction", body.ConstructionID)
		return nil
	}

	if _, err := c.AddProofVote(creator, body.Vote); err != nil {
		return fmt.Errorf("add proof vote of node %d:\n%w", creator, err)
	}

	return nil
}
