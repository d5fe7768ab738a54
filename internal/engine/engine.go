// Package engine applies ordered rounds to the hinTS and history services.
// ApplyRound is the only writer of construction state; it runs on one
// goroutine while the crypto runs on the services' pools.
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Tessera/internal/hints"
	"Tessera/internal/history"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/sequencer"
	"Tessera/internal/state"
	"Tessera/internal/storage"
	"Tessera/internal/txn"
)

// keyLastRound stores the number of the last applied round.
var keyLastRound = []byte("engine/round")

// ErrRoundGap is returned when a round arrives before its predecessor.
var ErrRoundGap = errors.New("engine: round out of sequence")

// ErrHintsDisabled is returned by Sign when the node runs without hinTS.
var ErrHintsDisabled = errors.New("engine: hints disabled")

// Options configures an Engine.
type Options struct {
	SelfID       uint64              // SelfID is this node's id
	Hints        *hints.Service      // Hints is nil when the node runs history proofs only
	HintsStore   *state.HintsStore   // HintsStore backs Hints, nil with it
	History      *history.Service    // History is nil when the node runs hinTS only
	HistoryStore *state.HistoryStore // HistoryStore backs History, nil with it
	Storage      *storage.Storage    // Storage persists the last applied round, optional
	Metrics      *metrics.Metrics    // Metrics receives round and transaction counts
	Genesis      *roster.Roster      // Genesis is the bootstrap roster
	Candidate    *roster.Roster      // Candidate is the roster to transition to, optional
	Active       bool                // Active makes the node publish keys, votes and signatures
	AutoAdopt    bool                // AutoAdopt hands off as soon as the candidate is ready
}

// Engine drives both services from the ordered rounds.
type Engine struct {
	selfID       uint64
	hints        *hints.Service
	hintsStore   *state.HintsStore
	history      *history.Service
	historyStore *state.HistoryStore
	db           *storage.Storage
	metrics      *metrics.Metrics
	genesis      *roster.Roster
	candidate    *roster.Roster
	autoAdopt    bool
	log          *slog.Logger

	mu        sync.RWMutex
	ar        *roster.ActiveRosters
	active    bool
	lastRound uint64    // lastRound is the number of the last applied round
	lastTime  time.Time // lastTime is the consensus time of the last applied round
}

// New restores the roster phase and applied round from the stores.
func New(o Options) (*Engine, error) {
	if (o.Hints == nil) != (o.HintsStore == nil) || (o.History == nil) != (o.HistoryStore == nil) {
		return nil, fmt.Errorf("each service needs its store")
	}

	if o.Hints == nil && o.History == nil {
		return nil, fmt.Errorf("no construction enabled")
	}

	if o.Genesis == nil {
		return nil, fmt.Errorf("genesis roster is required")
	}

	e := &Engine{
		selfID:       o.SelfID,
		hints:        o.Hints,
		hintsStore:   o.HintsStore,
		history:      o.History,
		historyStore: o.HistoryStore,
		db:           o.Storage,
		metrics:      o.Metrics,
		genesis:      o.Genesis,
		candidate:    o.Candidate,
		autoAdopt:    o.AutoAdopt,
		active:       o.Active,
		log:          logger.Component("engine").With("node", o.SelfID),
	}

	if err := e.loadLastRound(); err != nil {
		return nil, err
	}

	e.ar = e.restoreRosters()
	e.log.Info("engine ready",
		"phase", e.ar.Phase(),
		"last_round", e.lastRound,
		"hints", e.hints != nil,
		"history", e.history != nil,
	)

	return e, nil
}

// restoreRosters derives the roster phase from the adopted constructions.
func (e *Engine) restoreRosters() *roster.ActiveRosters {
	if e.candidate == nil {
		return roster.NewBootstrap(e.genesis)
	}

	target := e.candidate.Hash()
	active, next := e.slotHashes()

	switch {
	case active.target == target && active.source != target:
		return roster.NewHandoff(e.genesis, e.candidate)
	case next.target == target:
		return roster.NewTransition(e.genesis, e.candidate)
	default:
		return roster.NewBootstrap(e.genesis)
	}
}

type slotRosters struct {
	source roster.Hash
	target roster.Hash
}

// slotHashes returns the rosters of the active and next constructions.
func (e *Engine) slotHashes() (active, next slotRosters) {
	if e.historyStore != nil {
		a, n := e.historyStore.ActiveConstruction(), e.historyStore.NextConstruction()
		return slotRosters{a.SourceHash, a.TargetHash}, slotRosters{n.SourceHash, n.TargetHash}
	}

	a, n := e.hintsStore.ActiveConstruction(), e.hintsStore.NextConstruction()

	return slotRosters{a.SourceHash, a.TargetHash}, slotRosters{n.SourceHash, n.TargetHash}
}

func (e *Engine) loadLastRound() error {
	if e.db == nil {
		return nil
	}

	data, err := e.db.Get(keyLastRound)
	if err != nil {
		return fmt.Errorf("read last round:\n%w", err)
	}

	if len(data) == 16 {
		e.lastRound = binary.BigEndian.Uint64(data)
		e.lastTime = time.UnixMilli(int64(binary.BigEndian.Uint64(data[8:]))).UTC()
	}

	return nil
}

func (e *Engine) saveLastRound(r sequencer.Round) error {
	if e.db == nil {
		return nil
	}

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:], r.Number)
	binary.BigEndian.PutUint64(buf[8:], uint64(r.Time.UnixMilli()))

	if err := e.db.Set(keyLastRound, buf[:]); err != nil {
		return fmt.Errorf("persist round %d:\n%w", r.Number, err)
	}

	return nil
}

// NextRound returns the number of the round ApplyRound expects next.
func (e *Engine) NextRound() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.lastRound + 1
}

// Rosters returns the current roster phase.
func (e *Engine) Rosters() *roster.ActiveRosters {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.ar
}

// SetRosters replaces the roster phase. It must be called between rounds,
// at the same round on every node.
func (e *Engine) SetRosters(ar *roster.ActiveRosters) {
	e.mu.Lock()
	e.ar = ar
	e.mu.Unlock()

	e.log.Info("rosters set", "phase", ar.Phase(), "source", ar.SourceHash(), "target", ar.TargetHash())
}

// SetActive sets whether this node publishes its own transactions.
func (e *Engine) SetActive(active bool) {
	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
}

// ApplyRound applies every transaction of the round in order, then
// advances the constructions at the round's consensus time. Rounds already
// applied are skipped.
func (e *Engine) ApplyRound(r sequencer.Round) error {
	e.mu.RLock()
	last, ar, active := e.lastRound, e.ar, e.active
	e.mu.RUnlock()

	if r.Number <= last {
		return nil
	}

	if r.Number != last+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrRoundGap, r.Number, last+1)
	}

	for i, data := range r.Txs {
		if err := e.applyTx(data, r.Time); err != nil {
			return fmt.Errorf("round %d tx %d:\n%w", r.Number, i, err)
		}
	}

	if err := e.reconcile(ar, r.Time, active); err != nil {
		return fmt.Errorf("round %d:\n%w", r.Number, err)
	}

	if err := e.saveLastRound(r); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastRound, e.lastTime = r.Number, r.Time
	e.mu.Unlock()

	e.metrics.Rounds.Inc()
	e.drainFinished()

	return e.advancePhase()
}

// applyTx decodes and dispatches one transaction. Malformed transactions
// are counted and skipped; only storage failures are returned.
func (e *Engine) applyTx(data []byte, now time.Time) error {
	tx, err := txn.Open(data)
	if err != nil {
		e.reject(0, err)
		return nil
	}

	e.metrics.Transactions.WithLabelValues(tx.Kind.String()).Inc()

	switch tx.Kind {
	case txn.KindHintsKey, txn.KindPreprocessingVote, txn.KindPartialSignature, txn.KindCRSPublication:
		if e.hints == nil {
			return nil
		}
		return e.applyHints(tx, now)
	default:
		if e.history == nil {
			return nil
		}
		return e.applyHistory(tx, now)
	}
}

func (e *Engine) applyHints(tx txn.Transaction, now time.Time) error {
	switch tx.Kind {
	case txn.KindHintsKey:
		body, err := txn.DecodeHintsKey(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.hints.HandleHintsKey(tx.Creator, body, now)
	case txn.KindPreprocessingVote:
		body, err := txn.DecodePreprocessingVote(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.hints.HandlePreprocessingVote(tx.Creator, body)
	case txn.KindCRSPublication:
		body, err := txn.DecodeCRSPublication(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.hints.HandleCRSPublication(tx.Creator, body, now)
	default:
		body, err := txn.DecodePartialSignature(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		e.hints.HandlePartialSignature(tx.Creator, body)
		return nil
	}
}

func (e *Engine) applyHistory(tx txn.Transaction, now time.Time) error {
	switch tx.Kind {
	case txn.KindProofKey:
		body, err := txn.DecodeProofKey(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.history.HandleProofKey(tx.Creator, body, now)
	case txn.KindHistorySignature:
		body, err := txn.DecodeHistorySignature(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.history.HandleHistorySignature(tx.Creator, body, now)
	default:
		body, err := txn.DecodeHistoryProofVote(tx.Body)
		if err != nil {
			e.reject(tx.Creator, err)
			return nil
		}
		return e.history.HandleProofVote(tx.Creator, body)
	}
}

func (e *Engine) reject(creator uint64, err error) {
	e.metrics.RejectedTransactions.Inc()
	e.log.Warn("transaction rejected", "creator", creator, "error", err)
}

// reconcile advances both services. The history proof commits to the
// target roster's hinTS verification key; without hinTS it commits to the
// target roster hash.
func (e *Engine) reconcile(ar *roster.ActiveRosters, now time.Time, active bool) error {
	var metadata []byte

	if e.hints != nil {
		if err := e.hints.Reconcile(ar, now, active); err != nil {
			return err
		}

		if err := e.hints.ExecuteCRSWork(now, active); err != nil {
			return err
		}

		metadata, _ = e.hints.VerificationKeyFor(ar)
	} else {
		hash := ar.TargetHash()
		metadata = hash[:]
	}

	if e.history == nil {
		return nil
	}

	return e.history.Reconcile(ar, metadata, now, active)
}

// drainFinished logs the constructions completed since the last round.
func (e *Engine) drainFinished() {
	for drained := e.hints == nil; !drained; {
		select {
		case hc := <-e.hints.Finished():
			e.log.Info("hints scheme adopted", "construction", hc.ID, "target", hc.TargetHash)
		default:
			drained = true
		}
	}

	for drained := e.history == nil; !drained; {
		select {
		case pc := <-e.history.Finished():
			e.log.Info("history proof adopted", "construction", pc.ID, "target", pc.TargetHash)
		default:
			drained = true
		}
	}
}

// ReadyToAdopt reports whether the transition's constructions are both
// complete, so the candidate roster can be adopted.
func (e *Engine) ReadyToAdopt() bool {
	ar := e.Rosters()

	if ar.Phase() != roster.Transition {
		return false
	}

	return e.constructionsComplete(ar)
}

func (e *Engine) constructionsComplete(ar *roster.ActiveRosters) bool {
	if e.history != nil {
		pc, ok := e.historyStore.ConstructionFor(ar)
		if !ok || !pc.HasTargetProof() {
			return false
		}
	}

	if e.hints != nil {
		hc, ok := e.hintsStore.ConstructionFor(ar)
		if !ok || !hc.HasScheme() {
			return false
		}
	}

	return true
}

// advancePhase starts the transition to the candidate once bootstrap is
// complete, and adopts the candidate when allowed. Both depend only on
// applied state, so every node moves at the same round.
func (e *Engine) advancePhase() error {
	ar := e.Rosters()

	switch ar.Phase() {
	case roster.Bootstrap:
		if e.candidate != nil && e.candidate.Hash() != ar.TargetHash() && e.constructionsComplete(ar) {
			e.SetRosters(roster.NewTransition(ar.CurrentRoster(), e.candidate))
		}
	case roster.Transition:
		if e.autoAdopt && e.ReadyToAdopt() {
			return e.AdoptRoster(ar.CurrentRoster(), ar.TargetRoster())
		}
	case roster.Handoff:
	}

	return nil
}

// AdoptRoster hands both services over to the adopted roster and enters
// the handoff phase.
func (e *Engine) AdoptRoster(previous, adopted *roster.Roster) error {
	handedOff := false

	if e.hints != nil {
		ok, err := e.hints.ManageRosterAdoption(previous, adopted)
		if err != nil {
			return fmt.Errorf("adopt roster %s:\n%w", adopted.Hash(), err)
		}
		handedOff = ok
	}

	if e.history != nil {
		ok, err := e.history.ManageRosterAdoption(previous, adopted)
		if err != nil {
			return fmt.Errorf("adopt roster %s:\n%w", adopted.Hash(), err)
		}
		handedOff = handedOff || ok
	}

	if !handedOff {
		return fmt.Errorf("adopt roster %s: no construction for the transition", adopted.Hash())
	}

	e.SetRosters(roster.NewHandoff(previous, adopted))

	return nil
}

// Sign requests an aggregate signature over message with the active scheme
// and waits for it.
func (e *Engine) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if e.hints == nil {
		return nil, ErrHintsDisabled
	}

	session, err := e.hints.SignFuture(message)
	if err != nil {
		return nil, err
	}

	return session.Wait(ctx)
}

// Run applies rounds from the channel until it closes or ctx is done.
func (e *Engine) Run(ctx context.Context, rounds <-chan sequencer.Round) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-rounds:
			if !ok {
				return nil
			}

			if err := e.ApplyRound(r); err != nil {
				return err
			}
		}
	}
}
