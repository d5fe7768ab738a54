package hints

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"Tessera/internal/config"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/submit"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

// Options configures a Service.
type Options struct {
	SelfID  uint64            // SelfID is this node's id
	BLSKey  []byte            // BLSKey is this node's BLS private key
	Store   *state.HintsStore // Store holds the persisted constructions
	Library Library           // Library provides the crypto
	Pool    *work.Pool        // Pool runs background crypto
	Submit  submit.Channel    // Submit carries this node's transactions
	Config  *config.TSS       // Config holds the protocol timings
	Metrics *metrics.Metrics  // Metrics receives the service's collectors
}

// Service runs the CRS ceremony and hinTS constructions, and signs with the
// active scheme.
type Service struct {
	selfID  uint64
	blsKey  []byte
	store   *state.HintsStore
	lib     Library
	pool    *work.Pool
	submit  submit.Channel
	cfg     *config.TSS
	metrics *metrics.Metrics
	log     *slog.Logger

	signing     *Context
	controllers *Controllers
	signings    *signings
	validated   *lru.Cache // validated caches partial signature checks

	current  atomic.Pointer[roster.Roster] // current is the roster weighing signatures
	finished chan state.HintsConstruction
}

// NewService restores the signing context from the store and returns a service.
func NewService(o Options) (*Service, error) {
	cache, err := lru.New(o.Config.SignatureCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create signature cache:\n%w", err)
	}

	s := &Service{
		selfID:    o.SelfID,
		blsKey:    o.BLSKey,
		store:     o.Store,
		lib:       o.Library,
		pool:      o.Pool,
		submit:    o.Submit,
		cfg:       o.Config,
		metrics:   o.Metrics,
		log:       logger.Component("hints").With("node", o.SelfID),
		signing:   NewContext(o.Library),
		signings:  newSignings(),
		validated: cache,
		finished:  make(chan state.HintsConstruction, 16),
	}

	s.controllers = newControllers(deps{
		selfID:   o.SelfID,
		blsKey:   o.BLSKey,
		store:    o.Store,
		lib:      o.Library,
		pool:     o.Pool,
		submit:   o.Submit,
		signing:  s.signing,
		cfg:      o.Config,
		metrics:  o.Metrics,
		log:      s.log,
		finished: s.emitFinished,
	})

	s.syncCRS()

	if active := o.Store.ActiveConstruction(); active.HasScheme() {
		s.signing.SetConstruction(active)
	}

	return s, nil
}

// Finished delivers every construction that adopts a scheme.
func (s *Service) Finished() <-chan state.HintsConstruction {
	return s.finished
}

func (s *Service) emitFinished(hc state.HintsConstruction) {
	select {
	case s.finished <- hc:
	default:
		s.log.Warn("finished event dropped", "construction", hc.ID)
	}
}

// Context returns the signing context.
func (s *Service) Context() *Context {
	return s.signing
}

// IsReady reports whether the service can sign.
func (s *Service) IsReady() bool {
	return s.signing.IsReady()
}

// Reconcile ensures a construction exists for the roster transition and
// advances it. It also records the roster that weighs signatures.
func (s *Service) Reconcile(ar *roster.ActiveRosters, now time.Time, isActive bool) error {
	if err := s.ensureCRS(ar, now); err != nil {
		return err
	}

	switch ar.Phase() {
	case roster.Bootstrap, roster.Transition:
		hc, err := s.store.GetOrCreateConstruction(ar, now, s.cfg)
		if err != nil {
			return fmt.Errorf("get hints construction:\n%w", err)
		}

		if !hc.HasScheme() {
			if err := s.controllers.GetOrCreateFor(ar, hc).Advance(now, isActive); err != nil {
				return fmt.Errorf("advance hints construction %d:\n%w", hc.ID, err)
			}
		}
	case roster.Handoff:
	}

	s.current.Store(ar.CurrentRoster())

	return nil
}

// ensureCRS starts the ceremony the first time any roster is seen.
func (s *Service) ensureCRS(ar *roster.ActiveRosters, now time.Time) error {
	if _, ok := s.store.CRSState(); ok {
		return nil
	}

	n := max(s.cfg.CRSParties, roster.PartySize(ar.TargetRoster().Size()))
	weights := ar.Weights()

	st := state.CRSState{
		CRS:                 s.lib.NewCRS(n),
		Stage:               state.GatheringContributions,
		NextContributor:     weights.FirstSourceNode(),
		HasNextContributor:  true,
		ContributionEndTime: now.Add(s.cfg.CRSUpdateContributionTime),
	}

	if err := s.store.SetCRSState(st); err != nil {
		return fmt.Errorf("initialize crs:\n%w", err)
	}

	s.log.Info("crs ceremony started", "parties", n, "first", st.NextContributor)

	return nil
}

// ExecuteCRSWork advances the CRS ceremony while it is not complete.
func (s *Service) ExecuteCRSWork(now time.Time, isActive bool) error {
	st, ok := s.store.CRSState()
	if !ok || st.Stage == state.CRSCompleted {
		return nil
	}

	c, ok := s.controllers.AnyInProgress()
	if !ok {
		return nil
	}

	if err := c.AdvanceCRSWork(now, isActive); err != nil {
		return fmt.Errorf("advance crs:\n%w", err)
	}

	s.syncCRS()

	return nil
}

// syncCRS installs the completed CRS into the signing context.
func (s *Service) syncCRS() {
	if st, ok := s.store.CRSState(); ok && st.Stage == state.CRSCompleted && s.signing.CRS() == nil {
		s.signing.SetCRS(st.CRS)
		s.metrics.CRSStage.Set(float64(st.Stage))
	}
}

// SignFuture joins or opens the signing session for message and submits
// this node's partial signature.
func (s *Service) SignFuture(message []byte) (*Signing, error) {
	cid, err := s.signing.ConstructionID()
	if err != nil || !s.signing.IsReady() {
		return nil, ErrNotReady
	}

	session, err := s.session(cid, message)
	if err != nil {
		return nil, err
	}

	work.Go(s.pool, func(ctx context.Context) (struct{}, error) {
		sig, err := s.lib.SignBLS(message, s.blsKey)
		if err == nil {
			err = s.submit.Submit(ctx, txn.PartialSignatureBody{ConstructionID: cid, Message: message, Signature: sig})
		}

		if err != nil {
			s.log.Warn("partial signature not submitted", "construction", cid, "error", err)
		}

		return struct{}{}, err
	})

	return session, nil
}

// session returns the open session for message, opening one if needed.
func (s *Service) session(constructionID uint64, message []byte) (*Signing, error) {
	current := s.current.Load()
	if current == nil {
		return nil, ErrNotReady
	}

	key := signingKey{constructionID: constructionID, message: string(message)}

	session, created, err := s.signings.getOrCreate(key, func(onFinish func()) (*Signing, error) {
		return s.signing.NewSigning(message, current, s.cfg.SigningAttemptTimeout, func(completed bool) {
			onFinish()
			s.finishSession(key, completed)
		})
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.log.Debug("signing session opened", "construction", constructionID, "message_len", len(message))
	}

	return session, nil
}

// finishSession records how a session ended.
func (s *Service) finishSession(key signingKey, completed bool) {
	if completed {
		s.metrics.Signings.WithLabelValues("completed").Inc()
		s.log.Debug("signing session completed", "construction", key.constructionID)
		return
	}

	s.metrics.Signings.WithLabelValues("expired").Inc()
	s.log.Warn("signing session expired", "construction", key.constructionID)
}

// ManageRosterAdoption hands the constructions over to the adopted roster
// and installs the newly active scheme.
func (s *Service) ManageRosterAdoption(previous, adopted *roster.Roster) (bool, error) {
	ok, err := s.store.Handoff(previous, adopted, adopted.Hash())
	if err != nil {
		return false, fmt.Errorf("hints handoff:\n%w", err)
	}

	if !ok {
		return false, nil
	}

	active := s.store.ActiveConstruction()
	if active.HasScheme() {
		s.signing.SetConstruction(active)
	} else {
		s.log.Warn("adopted roster has no hints scheme", "construction", active.ID)
	}

	s.controllers.Reap(active.ID, s.store.NextConstruction().ID)
	s.current.Store(adopted)
	s.log.Info("hints construction handed off", "active", active.ID, "roster", adopted.Hash())

	return true, nil
}

// VerificationKeyFor returns the verification key of the scheme adopted for
// the rosters, if preprocessing has finished.
func (s *Service) VerificationKeyFor(ar *roster.ActiveRosters) ([]byte, bool) {
	hc, ok := s.store.ConstructionFor(ar)
	if !ok || !hc.HasScheme() {
		return nil, false
	}

	return hc.Scheme.VerificationKey, true
}
