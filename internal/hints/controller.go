package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"Tessera/internal/config"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/submit"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

// Controller advances one hinTS construction.
type Controller interface {
	// ConstructionID returns the id of the construction being advanced.
	ConstructionID() uint64

	// IsStillInProgress reports whether the construction can still adopt a scheme.
	IsStillInProgress() bool

	// HasNumParties reports whether the construction uses n parties.
	HasNumParties(n int) bool

	// PartyIDOf returns the party a target node holds or is expected to take.
	PartyIDOf(nodeID uint64) (int, bool)

	// Advance moves the construction forward at consensus time now.
	Advance(now time.Time, isActive bool) error

	// AdvanceCRSWork moves the CRS ceremony forward at consensus time now.
	AdvanceCRSWork(now time.Time, isActive bool) error

	// AddHintsKeyPublication incorporates a key already recorded in use.
	AddHintsKeyPublication(p state.HintsKeyPublication)

	// AddPreprocessingVote incorporates a vote and reports whether it counted.
	AddPreprocessingVote(nodeID uint64, vote state.PreprocessingVote) (bool, error)

	// AddCRSPublication incorporates the expected contributor's CRS delta.
	AddCRSPublication(p state.CRSPublication, now time.Time) error

	// Cancel abandons all background work.
	Cancel()
}

// deps are the collaborators shared by every controller of a service.
type deps struct {
	selfID   uint64                        // selfID is this node's id
	blsKey   []byte                        // blsKey is this node's BLS private key
	store    *state.HintsStore             // store holds the persisted constructions
	lib      Library                       // lib provides the crypto
	pool     *work.Pool                    // pool runs background crypto
	submit   submit.Channel                // submit carries this node's transactions
	signing  *Context                      // signing receives each adopted scheme
	cfg      *config.TSS                   // cfg holds the protocol timings
	metrics  *metrics.Metrics              // metrics receives stage and outcome counts
	log      *slog.Logger                  // log is the service logger
	finished func(state.HintsConstruction) // finished is told about each adopted scheme
}

// validation is the outcome of checking one hinTS key.
type validation struct {
	partyID int    // partyID is the party the key was published for
	key     []byte // key is the published hinTS key
	valid   bool   // valid reports whether the key checked out against the CRS
}

// activeController runs a construction this node takes part in.
type activeController struct {
	deps

	construction state.HintsConstruction // construction is the persisted record this controller drives
	weights      *roster.Weights         // weights are the source and target rosters
	numParties   int                     // numParties is the party size of the target roster

	nodePartyIDs map[uint64]int                         // nodePartyIDs holds accepted party assignments
	partyNodeIDs map[int]uint64                         // partyNodeIDs is the inverse of nodePartyIDs
	validations  *work.Timeline[*work.Slot[validation]] // validations are key checks keyed by adoption time
	votes        *tally                                 // votes are the preprocessing votes in arrival order

	finalCRS       *work.Slot[crsFold]  // finalCRS folds every observed CRS delta
	crsPublication *work.Slot[struct{}] // crsPublication is this node's CRS contribution
	publication    *work.Slot[struct{}] // publication is this node's key publication
	vote           *work.Slot[struct{}] // vote is this node's preprocessing vote
}

// newActiveController rebuilds a controller from persisted state.
func newActiveController(d deps, hc state.HintsConstruction, weights *roster.Weights) *activeController {
	c := &activeController{
		deps:         d,
		construction: hc,
		weights:      weights,
		numParties:   roster.PartySize(weights.TargetRosterSize()),
		nodePartyIDs: make(map[uint64]int),
		partyNodeIDs: make(map[int]uint64),
		validations:  work.NewTimeline[*work.Slot[validation]](),
		votes:        &tally{},
	}
	c.log = d.log.With("construction", hc.ID)

	stored := d.store.Votes(hc.ID, weights.SourceNodeIDs())
	for _, id := range slices.Sorted(maps.Keys(stored)) {
		if v := stored[id]; !v.Congruent() {
			c.votes.add(ballot{nodeID: id, weight: weights.SourceWeightOf(id), keys: *v.Keys}, weights.SourceWeightThreshold())
		}
	}

	st, ok := d.store.CRSState()
	switch {
	case !ok:
	case st.Stage == state.GatheringContributions:
		for _, p := range d.store.OrderedCRSPublications(weights.SourceNodeIDs()) {
			c.verifyCRSUpdate(p, st.CRS)
		}
	case st.Stage == state.CRSCompleted && !hc.HasScheme():
		cutoff := hc.PreprocessingStart
		for _, p := range d.store.HintsKeyPublications(weights.TargetNodeIDs(), c.numParties) {
			if cutoff.IsZero() || !p.AdoptionTime.After(cutoff) {
				c.maybeUpdateForHintsKey(p, st.CRS)
			}
		}
	}

	return c
}

func (c *activeController) ConstructionID() uint64 {
	return c.construction.ID
}

func (c *activeController) IsStillInProgress() bool {
	return !c.construction.HasScheme()
}

func (c *activeController) HasNumParties(n int) bool {
	return c.numParties == n
}

func (c *activeController) PartyIDOf(nodeID uint64) (int, bool) {
	if !c.weights.TargetIncludes(nodeID) {
		return 0, false
	}

	if party, ok := c.nodePartyIDs[nodeID]; ok {
		return party, true
	}

	return c.expectedPartyID(nodeID)
}

func (c *activeController) Advance(now time.Time, isActive bool) error {
	st, ok := c.store.CRSState()
	if !ok || st.Stage != state.CRSCompleted || c.construction.HasScheme() {
		return nil
	}

	c.vote = c.retryable(c.vote, "preprocessing vote")
	c.publication = c.retryable(c.publication, "hints key publication")

	if !c.construction.PreprocessingStart.IsZero() {
		if isActive && c.vote == nil && !c.votes.has(c.selfID) && c.weights.SourceIncludes(c.selfID) {
			c.startPreprocessingVote(st.CRS)
		}

		return nil
	}

	if c.shouldStartPreprocessing(now) {
		updated, err := c.store.SetPreprocessingStart(c.construction.ID, now)
		if err != nil {
			return fmt.Errorf("start preprocessing:\n%w", err)
		}

		c.construction = updated
		c.log.Info("preprocessing started", "keys", len(c.nodePartyIDs))

		if isActive && c.weights.SourceIncludes(c.selfID) {
			c.startPreprocessingVote(st.CRS)
		}

		return nil
	}

	if isActive {
		c.ensureHintsKeyPublished(st.CRS)
	}

	return nil
}

// retryable clears a finished slot whose task failed so the next tick can
// start it again.
func (c *activeController) retryable(s *work.Slot[struct{}], what string) *work.Slot[struct{}] {
	if s == nil {
		return nil
	}

	_, err, ok := s.Value()
	if !ok || err == nil {
		return s
	}

	if !errors.Is(err, work.ErrAbandoned) {
		c.log.Warn("background task failed, retrying", "task", what, "error", err)
	}

	return nil
}

// shouldStartPreprocessing reports whether the key set can be frozen: every
// target node that is also a source node published, or the grace period is
// over and valid keys carry the target threshold.
func (c *activeController) shouldStartPreprocessing(now time.Time) bool {
	published := 0
	for node := range c.nodePartyIDs {
		if c.weights.SourceIncludes(node) {
			published++
		}
	}

	if published == c.weights.NumTargetNodesInSource() {
		return true
	}

	if now.Before(c.construction.GracePeriodEnd) {
		return false
	}

	var weight uint64
	c.validations.Prefix(now, func(_ time.Time, s *work.Slot[validation]) bool {
		v, err := s.Wait()
		if err == nil && v.valid {
			weight += c.weights.TargetWeightOf(c.partyNodeIDs[v.partyID])
		}

		return true
	})

	return weight >= c.weights.TargetWeightThreshold()
}

// ensureHintsKeyPublished computes and submits this node's key if it has
// no accepted party yet and no publication is in flight.
func (c *activeController) ensureHintsKeyPublished(crs []byte) {
	if c.publication != nil || !c.weights.TargetIncludes(c.selfID) {
		return
	}

	if _, ok := c.nodePartyIDs[c.selfID]; ok {
		return
	}

	party, ok := c.expectedPartyID(c.selfID)
	if !ok {
		return
	}

	n := c.numParties
	c.log.Debug("publishing hints key", "party", party, "parties", n)

	c.publication = work.Go(c.pool, func(ctx context.Context) (struct{}, error) {
		key, err := c.lib.ComputeHints(crs, c.blsKey, party, n)
		if err != nil {
			return struct{}{}, fmt.Errorf("compute hints:\n%w", err)
		}

		return struct{}{}, c.submit.Submit(ctx, txn.HintsKeyBody{PartyID: party, NumParties: n, HintsKey: key})
	})
}

// startPreprocessingVote preprocesses the keys valid at the cutoff and
// votes for the output, pointing at an identical earlier vote if any.
func (c *activeController) startPreprocessingVote(crs []byte) {
	var pending []*work.Slot[validation]
	c.validations.Prefix(c.construction.PreprocessingStart, func(_ time.Time, s *work.Slot[validation]) bool {
		pending = append(pending, s)
		return true
	})

	weights := make(map[int]uint64, len(c.partyNodeIDs))
	for party, node := range c.partyNodeIDs {
		weights[party] = c.weights.TargetWeightOf(node)
	}

	id, n, votes := c.construction.ID, c.numParties, c.votes

	c.vote = work.Go(c.pool, func(ctx context.Context) (struct{}, error) {
		keys := make(map[int][]byte, len(pending))
		for _, s := range pending {
			v, err := s.WaitContext(ctx)
			if ctx.Err() != nil {
				return struct{}{}, ctx.Err()
			}

			if err == nil && v.valid {
				keys[v.partyID] = v.key
			}
		}

		out, err := c.lib.Preprocess(crs, keys, weights, n)
		if err != nil {
			return struct{}{}, fmt.Errorf("preprocess:\n%w", err)
		}

		pk := state.PreprocessedKeys{AggregationKey: out.AggregationKey, VerificationKey: out.VerificationKey}

		vote := state.PreprocessingVote{Keys: &pk}
		if node, ok := votes.congruentWith(pk); ok {
			vote = state.PreprocessingVote{CongruentNodeID: node}
		}

		if err := ctx.Err(); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, c.submit.Submit(ctx, txn.PreprocessingVoteBody{ConstructionID: id, Vote: vote})
	})
}

func (c *activeController) AddHintsKeyPublication(p state.HintsKeyPublication) {
	if c.construction.GracePeriodEnd.IsZero() {
		c.log.Debug("ignoring late hints key", "node", p.NodeID)
		c.metrics.HintsKeys.WithLabelValues("late").Inc()
		return
	}

	st, ok := c.store.CRSState()
	if !ok || st.Stage != state.CRSCompleted {
		return
	}

	c.maybeUpdateForHintsKey(p, st.CRS)
}

// maybeUpdateForHintsKey assigns the publisher its party if the key claims
// the expected one, and starts validating the key.
func (c *activeController) maybeUpdateForHintsKey(p state.HintsKeyPublication, crs []byte) {
	expected, ok := c.expectedPartyID(p.NodeID)
	if !ok || p.PartyID != expected {
		c.log.Debug("dropping hints key for unexpected party", "node", p.NodeID, "party", p.PartyID, "expected", expected)
		c.metrics.HintsKeys.WithLabelValues("rejected").Inc()
		return
	}

	c.nodePartyIDs[p.NodeID] = p.PartyID
	c.partyNodeIDs[p.PartyID] = p.NodeID
	c.metrics.HintsKeys.WithLabelValues("accepted").Inc()

	party, key, n := p.PartyID, p.Key, c.numParties
	c.validations.Put(p.AdoptionTime, work.Go(c.pool, func(ctx context.Context) (validation, error) {
		return validation{partyID: party, key: key, valid: c.lib.ValidateHintsKey(crs, key, party, n)}, nil
	}))
}

// expectedPartyID zips the unassigned target nodes, ascending, with the
// unused party ids, ascending. The result does not depend on the order in
// which earlier assignments were made.
func (c *activeController) expectedPartyID(nodeID uint64) (int, bool) {
	if !c.weights.TargetIncludes(nodeID) {
		return 0, false
	}

	var unassigned []uint64
	for _, id := range c.weights.TargetNodeIDs() {
		if _, ok := c.nodePartyIDs[id]; !ok {
			unassigned = append(unassigned, id)
		}
	}

	i, found := slices.BinarySearch(unassigned, nodeID)
	if !found {
		return 0, false
	}

	for party := 1; party <= c.numParties; party++ {
		if _, used := c.partyNodeIDs[party]; used {
			continue
		}

		if i == 0 {
			return party, true
		}
		i--
	}

	return 0, false
}

func (c *activeController) AddPreprocessingVote(nodeID uint64, vote state.PreprocessingVote) (bool, error) {
	if c.construction.HasScheme() || !c.weights.SourceIncludes(nodeID) || c.votes.has(nodeID) {
		return false, nil
	}

	keys := vote.Keys
	if vote.Congruent() {
		ref, ok := c.votes.get(vote.CongruentNodeID)
		if !ok {
			c.log.Debug("dropping congruent vote with no referent", "node", nodeID, "congruent", vote.CongruentNodeID)
			return false, nil
		}
		keys = &ref
	}

	if err := c.store.AddVote(nodeID, c.construction.ID, state.PreprocessingVote{Keys: keys}); err != nil {
		return false, fmt.Errorf("record preprocessing vote:\n%w", err)
	}

	c.metrics.PreprocessingVotes.Inc()

	b := ballot{nodeID: nodeID, weight: c.weights.SourceWeightOf(nodeID), keys: *keys}
	if winner, ok := c.votes.add(b, c.weights.SourceWeightThreshold()); ok {
		if err := c.adopt(winner); err != nil {
			return true, err
		}
	}

	return true, nil
}

// adopt records the winning output as the construction's scheme.
func (c *activeController) adopt(keys state.PreprocessedKeys) error {
	updated, err := c.store.SetScheme(c.construction.ID, keys, maps.Clone(c.nodePartyIDs))
	if err != nil {
		return fmt.Errorf("adopt scheme:\n%w", err)
	}

	c.construction = updated
	c.metrics.SchemesAdopted.Inc()
	c.log.Info("hints scheme adopted", "parties", len(updated.Scheme.NodePartyIDs))

	if c.store.ActiveConstruction().ID == updated.ID {
		c.signing.SetConstruction(updated)
	}

	c.finished(updated)

	return nil
}

func (c *activeController) Cancel() {
	for _, s := range c.validations.Values() {
		s.Abandon()
	}

	if c.finalCRS != nil {
		c.finalCRS.Abandon()
	}

	for _, s := range []*work.Slot[struct{}]{c.crsPublication, c.publication, c.vote} {
		if s != nil {
			s.Abandon()
		}
	}
}

// inertController stands in for a construction that cannot make progress
// with this roster pair.
type inertController struct {
	constructionID uint64
}

func (c inertController) ConstructionID() uint64 { return c.constructionID }

func (c inertController) IsStillInProgress() bool { return false }

func (c inertController) HasNumParties(int) bool { return false }

func (c inertController) PartyIDOf(uint64) (int, bool) { return 0, false }

func (c inertController) Advance(time.Time, bool) error { return nil }

func (c inertController) AdvanceCRSWork(time.Time, bool) error { return nil }

func (c inertController) AddHintsKeyPublication(state.HintsKeyPublication) {}

func (c inertController) AddPreprocessingVote(uint64, state.PreprocessingVote) (bool, error) {
	return false, nil
}

func (c inertController) AddCRSPublication(state.CRSPublication, time.Time) error { return nil }

func (c inertController) Cancel() {}
