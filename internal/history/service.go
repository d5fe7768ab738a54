package history

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"Tessera/internal/config"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/submit"
	"Tessera/internal/tsslib"
	"Tessera/internal/work"
)

// Options configures a Service.
type Options struct {
	SelfID   uint64                // SelfID is this node's id
	ProofKey tsslib.SchnorrKeyPair // ProofKey signs histories
	Store    *state.HistoryStore   // Store holds the persisted constructions
	Library  Library               // Library provides the crypto
	Pool     *work.Pool            // Pool runs background crypto
	Submit   submit.Channel        // Submit carries this node's transactions
	Config   *config.TSS           // Config holds the protocol timings
	Metrics  *metrics.Metrics      // Metrics receives the service's collectors
}

// Service runs chain-of-trust constructions and keeps the ledger id.
type Service struct {
	store   *state.HistoryStore
	lib     Library
	cfg     *config.TSS
	metrics *metrics.Metrics
	log     *slog.Logger

	controllers *Controllers
	finished    chan state.ProofConstruction
}

// NewService returns a service over the persisted constructions.
func NewService(o Options) *Service {
	s := &Service{
		store:    o.Store,
		lib:      o.Library,
		cfg:      o.Config,
		metrics:  o.Metrics,
		log:      logger.Component("history").With("node", o.SelfID),
		finished: make(chan state.ProofConstruction, 16),
	}

	s.controllers = newControllers(deps{
		selfID:   o.SelfID,
		proofKey: o.ProofKey,
		store:    o.Store,
		lib:      o.Library,
		pool:     o.Pool,
		submit:   o.Submit,
		gate:     semaphore.NewWeighted(1),
		cfg:      o.Config,
		metrics:  o.Metrics,
		log:      s.log,
		finished: s.emitFinished,
	})

	return s
}

// Finished delivers every construction that adopts a proof.
func (s *Service) Finished() <-chan state.ProofConstruction {
	return s.finished
}

func (s *Service) emitFinished(pc state.ProofConstruction) {
	select {
	case s.finished <- pc:
	default:
		s.log.Warn("finished event dropped", "construction", pc.ID)
	}
}

// LedgerID returns the ledger id, nil until the first proof completes.
func (s *Service) LedgerID() []byte {
	return s.store.LedgerID()
}

// ActiveProof returns the proof of the active construction, if adopted.
func (s *Service) ActiveProof() (*state.HistoryProof, bool) {
	active := s.store.ActiveConstruction()
	if !active.HasTargetProof() {
		return nil, false
	}

	return active.TargetProof, true
}

// Verify checks a proof back to the genesis address book and that it
// belongs to this ledger.
func (s *Service) Verify(proof *state.HistoryProof) (tsslib.ChainOfTrust, error) {
	cot, err := s.lib.VerifyChainOfTrust(proof.Proof)
	if err != nil {
		return tsslib.ChainOfTrust{}, fmt.Errorf("verify chain of trust:\n%w", err)
	}

	if ledgerID := s.store.LedgerID(); len(ledgerID) >= len(cot.GenesisHash) && [32]byte(ledgerID) != cot.GenesisHash {
		return tsslib.ChainOfTrust{}, fmt.Errorf("proof starts at genesis %x, not this ledger", cot.GenesisHash[:8])
	}

	if cot.TargetHash != proof.TargetHistory.AddressBookHash {
		return tsslib.ChainOfTrust{}, fmt.Errorf("proof does not end at its target history")
	}

	return cot, nil
}

// Reconcile ensures a construction exists for the roster transition and
// advances it. metadata is the target roster's hinTS verification key, nil
// while it is unknown.
func (s *Service) Reconcile(ar *roster.ActiveRosters, metadata []byte, now time.Time, isActive bool) error {
	switch ar.Phase() {
	case roster.Bootstrap, roster.Transition:
		pc, err := s.store.GetOrCreateConstruction(ar, now, s.cfg)
		if err != nil {
			return fmt.Errorf("get proof construction:\n%w", err)
		}

		if pc.HasTargetProof() {
			return nil
		}

		if err := s.controllers.GetOrCreateFor(ar, pc).Advance(now, metadata, isActive); err != nil {
			return fmt.Errorf("advance proof construction %d:\n%w", pc.ID, err)
		}
	case roster.Handoff:
	}

	return nil
}

// ManageRosterAdoption hands the constructions over to the adopted roster.
func (s *Service) ManageRosterAdoption(previous, adopted *roster.Roster) (bool, error) {
	ok, err := s.store.Handoff(previous, adopted, adopted.Hash())
	if err != nil {
		return false, fmt.Errorf("history handoff:\n%w", err)
	}

	if !ok {
		return false, nil
	}

	active := s.store.ActiveConstruction()
	if !active.HasTargetProof() {
		s.log.Warn("adopted roster has no history proof", "construction", active.ID)
	}

	s.controllers.Reap(active.ID, s.store.NextConstruction().ID)

	return true, nil
}
