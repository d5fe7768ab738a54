package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"Tessera/internal/config"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/submit"
	"Tessera/internal/tsslib"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

// ErrHistoryMismatch is returned when the history chosen by the source
// roster does not commit to the locally known target address book.
var ErrHistoryMismatch = errors.New("history: chosen history does not match target address book")

// Controller advances one chain-of-trust construction.
type Controller interface {
	// ConstructionID returns the id of the construction being advanced.
	ConstructionID() uint64

	// IsStillInProgress reports whether the construction can still adopt a proof.
	IsStillInProgress() bool

	// Advance moves the construction forward at consensus time now. metadata
	// is the hinTS verification key of the target roster, nil until known.
	Advance(now time.Time, metadata []byte, isActive bool) error

	// AddProofKeyPublication incorporates a proof key already recorded in use.
	AddProofKeyPublication(p state.ProofKeyPublication)

	// AddSignaturePublication incorporates a history signature and reports
	// whether it should be recorded.
	AddSignaturePublication(p state.SignaturePublication) bool

	// AddProofVote incorporates a vote and reports whether it counted.
	AddProofVote(nodeID uint64, vote state.HistoryProofVote) (bool, error)

	// Cancel abandons all background work.
	Cancel()
}

// deps are the collaborators shared by every controller of a service.
type deps struct {
	selfID   uint64                        // selfID is this node's id
	proofKey tsslib.SchnorrKeyPair         // proofKey signs this node's histories
	store    *state.HistoryStore           // store holds the persisted constructions
	lib      Library                       // lib provides the crypto
	pool     *work.Pool                    // pool runs background crypto
	submit   submit.Channel                // submit carries this node's transactions
	gate     *semaphore.Weighted           // gate admits one proof generation at a time
	cfg      *config.TSS                   // cfg holds the protocol timings
	metrics  *metrics.Metrics              // metrics receives stage and outcome counts
	log      *slog.Logger                  // log is the service logger
	finished func(state.ProofConstruction) // finished is told about each completed proof
}

// verification is the outcome of checking one history signature.
type verification struct {
	nodeID    uint64        // nodeID is the signer
	history   state.History // history is the signed address book and metadata
	signature []byte        // signature is the Schnorr signature
	valid     bool          // valid reports whether it verified under the signer's key
}

// choice is the first history whose valid signatures reach the source
// threshold, and the consensus time at which they did.
type choice struct {
	history state.History // history is the chosen address book and metadata
	cutoff  time.Time     // cutoff is when its signatures reached the threshold
}

// activeController runs a construction this node takes part in.
type activeController struct {
	deps

	construction state.ProofConstruction // construction is the persisted record this controller drives
	weights      *roster.Weights         // weights are the source and target rosters

	targetProofKeys map[uint64][]byte                        // targetProofKeys holds the accepted keys of target nodes
	signers         map[uint64]bool                          // signers are the nodes whose signature was accepted
	verifications   *work.Timeline[*work.Slot[verification]] // verifications are signature checks keyed by adoption time
	votes           *tally                                   // votes are the proof votes in arrival order

	publication *work.Slot[struct{}] // publication is this node's proof key publication
	signing     *work.Slot[struct{}] // signing is this node's history signature
	proof       *work.Slot[struct{}] // proof is this node's proof generation and vote
}

// newActiveController rebuilds a controller from persisted state.
func newActiveController(d deps, pc state.ProofConstruction, weights *roster.Weights) *activeController {
	c := &activeController{
		deps:            d,
		construction:    pc,
		weights:         weights,
		targetProofKeys: make(map[uint64][]byte),
		signers:         make(map[uint64]bool),
		verifications:   work.NewTimeline[*work.Slot[verification]](),
		votes:           newTally(),
	}
	c.log = d.log.With("construction", pc.ID)

	cutoff := pc.AssemblyStart
	for _, p := range d.store.ProofKeyPublications(weights.TargetNodeIDs()) {
		if cutoff.IsZero() || !p.AdoptionTime.After(cutoff) {
			c.maybeUpdateForProofKey(p)
		}
	}

	for _, p := range d.store.SignaturePublications(pc.ID, weights.SourceNodeIDs()) {
		c.AddSignaturePublication(p)
	}

	stored := d.store.Votes(pc.ID, weights.SourceNodeIDs())
	for _, id := range slices.Sorted(maps.Keys(stored)) {
		if v := stored[id]; !v.Congruent() {
			c.votes.add(id, weights.SourceWeightOf(id), *v.Proof, weights.SourceWeightThreshold())
		}
	}

	return c
}

func (c *activeController) ConstructionID() uint64 {
	return c.construction.ID
}

func (c *activeController) IsStillInProgress() bool {
	return !c.construction.HasTargetProof() && !c.construction.Failed()
}

func (c *activeController) Advance(now time.Time, metadata []byte, isActive bool) error {
	if !c.IsStillInProgress() {
		return nil
	}

	c.publication = c.retryable(c.publication, "proof key publication")
	c.signing = c.retryable(c.signing, "history signature")
	c.proof = c.retryable(c.proof, "history proof")

	switch {
	case len(metadata) == 0:
		if isActive {
			c.ensureProofKeyPublished()
		}
	case !c.construction.AssemblyStart.IsZero():
		return c.assemble(now, metadata, isActive)
	case c.shouldAssemble(now):
		updated, err := c.store.SetAssemblyTime(c.construction.ID, now)
		if err != nil {
			return fmt.Errorf("start assembly:\n%w", err)
		}

		c.construction = updated
		c.log.Info("proof assembly started", "keys", len(c.targetProofKeys))

		if isActive {
			c.startSigning(metadata)
		}
	case isActive:
		c.ensureProofKeyPublished()
	}

	return nil
}

// assemble checks that the source roster can still endorse some history,
// then signs or proves on this node's behalf.
func (c *activeController) assemble(now time.Time, metadata []byte, isActive bool) error {
	if c.livenessCheckDue(now) && !c.couldStillGetSufficientSignatures() {
		return c.fail("insufficient signatures")
	}

	if !isActive || c.proof != nil || c.votes.has(c.selfID) {
		return nil
	}

	if ch, ok := c.firstSufficientSignatures(); ok {
		c.startProof(ch)
		return nil
	}

	c.startSigning(metadata)

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

// shouldAssemble reports whether the target address book can be frozen:
// every target node already in the source roster has a key, or the grace
// period is over and keyed nodes hold the target threshold.
func (c *activeController) shouldAssemble(now time.Time) bool {
	keyed := 0
	for node := range c.targetProofKeys {
		if c.weights.SourceIncludes(node) {
			keyed++
		}
	}

	if keyed == c.weights.NumTargetNodesInSource() {
		return true
	}

	if now.Before(c.construction.GracePeriodEnd) {
		return false
	}

	var weight uint64
	for node := range c.targetProofKeys {
		weight += c.weights.TargetWeightOf(node)
	}

	return weight >= c.weights.TargetWeightThreshold()
}

// livenessCheckDue reports whether now falls on a multiple of the check
// interval since assembly started. Every node evaluates it on the same
// consensus times.
func (c *activeController) livenessCheckDue(now time.Time) bool {
	interval := max(int64(c.cfg.InsufficientSignaturesCheckInterval/time.Second), 1)
	elapsed := max(now.Unix()-c.construction.AssemblyStart.Unix(), 1)

	return elapsed%interval == 0
}

// couldStillGetSufficientSignatures reports whether the best supported
// history plus all source weight not yet heard from can reach the source
// threshold.
func (c *activeController) couldStillGetSufficientSignatures() bool {
	byHistory := make(map[string]uint64)
	var invalid, valid uint64

	c.verifications.All(func(_ time.Time, s *work.Slot[verification]) bool {
		v, err := s.Wait()
		if err != nil {
			return true
		}

		weight := c.weights.SourceWeightOf(v.nodeID)
		if !v.valid {
			invalid += weight
			return true
		}

		byHistory[historyKey(v.history)] += weight
		valid += weight

		return true
	})

	var best uint64
	for _, w := range byHistory {
		best = max(best, w)
	}

	outstanding := c.weights.TotalSourceWeight() - invalid - valid

	return best+outstanding >= c.weights.SourceWeightThreshold()
}

// firstSufficientSignatures scans signatures in consensus order and returns
// the first history whose valid signatures reach the source threshold.
func (c *activeController) firstSufficientSignatures() (choice, bool) {
	var (
		found choice
		ok    bool
	)
	byHistory := make(map[string]uint64)

	c.verifications.All(func(at time.Time, s *work.Slot[verification]) bool {
		v, err := s.Wait()
		if err != nil || !v.valid {
			return true
		}

		k := historyKey(v.history)
		byHistory[k] += c.weights.SourceWeightOf(v.nodeID)
		if byHistory[k] >= c.weights.SourceWeightThreshold() {
			found, ok = choice{history: v.history, cutoff: at}, true
			return false
		}

		return true
	})

	return found, ok
}

func historyKey(h state.History) string {
	return string(h.AddressBookHash[:]) + string(h.Metadata)
}

// ensureProofKeyPublished submits this node's proof key if the target
// roster includes it, it has no key yet and no publication is in flight.
func (c *activeController) ensureProofKeyPublished() {
	if c.publication != nil || !c.weights.TargetIncludes(c.selfID) {
		return
	}

	if _, ok := c.targetProofKeys[c.selfID]; ok {
		return
	}

	key := c.proofKey.PublicKey
	c.log.Debug("publishing proof key")

	c.publication = work.Go(c.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.submit.Submit(ctx, txn.ProofKeyBody{ProofKey: key})
	})
}

// startSigning signs the target address book bound to metadata, once.
func (c *activeController) startSigning(metadata []byte) {
	if c.signing != nil || c.signers[c.selfID] || !c.weights.SourceIncludes(c.selfID) {
		return
	}

	book, _ := c.targetBook()
	history := state.History{AddressBookHash: c.lib.HashAddressBook(book), Metadata: bytes.Clone(metadata)}
	id, priv := c.construction.ID, c.proofKey.PrivateKey

	c.signing = work.Go(c.pool, func(ctx context.Context) (struct{}, error) {
		sig, err := c.lib.SignSchnorr(c.lib.HistoryMessage(history.AddressBookHash, history.Metadata), priv)
		if err != nil {
			return struct{}{}, fmt.Errorf("sign history:\n%w", err)
		}

		body := txn.HistorySignatureBody{
			ConstructionID: id,
			Signature:      state.HistorySignature{History: history, Signature: sig},
		}

		return struct{}{}, c.submit.Submit(ctx, body)
	})
}

// startProof extends the source proof to the chosen history using the
// signatures gathered up to its cutoff, and votes for the result.
func (c *activeController) startProof(ch choice) {
	sigs := make(map[uint64][]byte)
	c.verifications.Prefix(ch.cutoff, func(_ time.Time, s *work.Slot[verification]) bool {
		if v, err, ok := s.Value(); ok && err == nil && v.valid && sameHistory(v.history, ch.history) {
			sigs[v.nodeID] = v.signature
		}

		return true
	})

	source, sourceIDs := c.sourceBook()
	signatures := make([][]byte, len(sourceIDs))
	for i, id := range sourceIDs {
		signatures[i] = sigs[id]
	}

	target, targetKeys := c.targetBook()
	sourceHash := c.lib.HashAddressBook(source)

	genesis := sourceHash
	if ledgerID := c.store.LedgerID(); len(ledgerID) >= len(genesis) {
		copy(genesis[:], ledgerID)
	}

	var sourceProof []byte
	if c.construction.SourceProof != nil {
		sourceProof = c.construction.SourceProof.Proof
	}

	req := tsslib.ChainOfTrustRequest{
		GenesisHash:  genesis,
		SourceProof:  sourceProof,
		Source:       source,
		Target:       target,
		Signatures:   signatures,
		MetadataHash: c.lib.HashHintsVerificationKey(ch.history.Metadata),
	}

	id, votes, log := c.construction.ID, c.votes, c.log
	log.Info("proving chain of trust", "signers", len(sigs))

	c.proof = work.Go(c.pool, func(ctx context.Context) (struct{}, error) {
		if c.lib.HashAddressBook(target) != ch.history.AddressBookHash {
			return struct{}{}, ErrHistoryMismatch
		}

		if err := c.gate.Acquire(ctx, 1); err != nil {
			return struct{}{}, err
		}
		defer c.gate.Release(1)

		start := time.Now()
		proof, err := c.lib.ProveChainOfTrust(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("prove chain of trust:\n%w", err)
		}

		log.Info("chain of trust proven", logger.Timed(start))

		hp := state.HistoryProof{
			SourceAddressBookHash: sourceHash,
			TargetProofKeys:       targetKeys,
			TargetHistory:         ch.history,
			Proof:                 proof,
		}

		vote := state.HistoryProofVote{Proof: &hp}
		if node, ok := votes.congruentWith(hp); ok {
			vote = state.HistoryProofVote{CongruentNodeID: node}
		}

		if err := ctx.Err(); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, c.submit.Submit(ctx, txn.HistoryProofVoteBody{ConstructionID: id, Vote: vote})
	})
}

// targetBook returns the target address book, ordered by node id with an
// empty key for nodes without one, and the keys it holds.
func (c *activeController) targetBook() (tsslib.AddressBook, []state.ProofKey) {
	ids := c.weights.TargetNodeIDs()
	book := tsslib.AddressBook{Weights: make([]uint64, len(ids)), ProofKeys: make([][]byte, len(ids))}

	var keys []state.ProofKey
	for i, id := range ids {
		book.Weights[i] = c.weights.TargetWeightOf(id)
		if key, ok := c.targetProofKeys[id]; ok {
			book.ProofKeys[i] = key
			keys = append(keys, state.ProofKey{NodeID: id, Key: key})
		}
	}

	return book, keys
}

// sourceBook returns the source address book and its node ids.
func (c *activeController) sourceBook() (tsslib.AddressBook, []uint64) {
	ids := c.weights.SourceNodeIDs()
	book := tsslib.AddressBook{Weights: make([]uint64, len(ids)), ProofKeys: make([][]byte, len(ids))}

	for i, id := range ids {
		book.Weights[i] = c.weights.SourceWeightOf(id)
		book.ProofKeys[i], _ = c.sourceKeyOf(id)
	}

	return book, ids
}

// sourceKeyOf returns the key a source node signs with: the key the source
// proof commits to, or at genesis the node's accepted target key.
func (c *activeController) sourceKeyOf(nodeID uint64) ([]byte, bool) {
	if sp := c.construction.SourceProof; sp != nil {
		for _, k := range sp.TargetProofKeys {
			if k.NodeID == nodeID {
				return k.Key, true
			}
		}

		return nil, false
	}

	key, ok := c.targetProofKeys[nodeID]

	return key, ok
}

func (c *activeController) AddProofKeyPublication(p state.ProofKeyPublication) {
	if c.construction.GracePeriodEnd.IsZero() {
		c.log.Debug("ignoring late proof key", "node", p.NodeID)
		return
	}

	c.maybeUpdateForProofKey(p)
}

// maybeUpdateForProofKey accepts the key of a target node.
func (c *activeController) maybeUpdateForProofKey(p state.ProofKeyPublication) {
	if c.weights.TargetIncludes(p.NodeID) {
		c.targetProofKeys[p.NodeID] = p.Key
	}
}

func (c *activeController) AddSignaturePublication(p state.SignaturePublication) bool {
	if c.construction.HasTargetProof() || c.signers[p.NodeID] || !c.weights.SourceIncludes(p.NodeID) {
		return false
	}

	key, ok := c.sourceKeyOf(p.NodeID)
	if !ok {
		c.log.Debug("dropping history signature from node without proof key", "node", p.NodeID)
		return false
	}

	c.signers[p.NodeID] = true

	c.verifications.Put(p.At, work.Go(c.pool, func(ctx context.Context) (verification, error) {
		h := p.Signature.History
		valid := c.lib.VerifySchnorr(p.Signature.Signature, c.lib.HistoryMessage(h.AddressBookHash, h.Metadata), key)

		result := "valid"
		if !valid {
			result = "invalid"
		}
		c.metrics.HistorySignatures.WithLabelValues(result).Inc()

		return verification{nodeID: p.NodeID, history: h, signature: p.Signature.Signature, valid: valid}, nil
	}))

	return true
}

func (c *activeController) AddProofVote(nodeID uint64, vote state.HistoryProofVote) (bool, error) {
	if !c.IsStillInProgress() || !c.weights.SourceIncludes(nodeID) || c.votes.has(nodeID) {
		return false, nil
	}

	proof := vote.Proof
	if vote.Congruent() {
		ref, ok := c.votes.get(vote.CongruentNodeID)
		if !ok {
			c.log.Debug("dropping congruent proof vote with no referent", "node", nodeID, "congruent", vote.CongruentNodeID)
			return false, nil
		}
		proof = &ref
	}

	if err := c.store.AddProofVote(nodeID, c.construction.ID, state.HistoryProofVote{Proof: proof}); err != nil {
		return false, fmt.Errorf("record proof vote:\n%w", err)
	}

	winner, ok := c.votes.add(nodeID, c.weights.SourceWeightOf(nodeID), *proof, c.weights.SourceWeightThreshold())
	if ok {
		if err := c.complete(winner); err != nil {
			return true, err
		}
	}

	return true, nil
}

// complete records the winning proof. The first proof completed for the
// active construction fixes the ledger id.
func (c *activeController) complete(proof state.HistoryProof) error {
	updated, err := c.store.CompleteProof(c.construction.ID, &proof)
	if err != nil {
		return fmt.Errorf("complete proof:\n%w", err)
	}

	c.construction = updated
	c.metrics.Proofs.WithLabelValues("completed").Inc()
	c.log.Info("history proof adopted", "keys", len(proof.TargetProofKeys))

	if c.store.ActiveConstruction().ID == updated.ID && len(c.store.LedgerID()) == 0 {
		ledgerID := append(slices.Clone(proof.SourceAddressBookHash[:]), c.lib.ChainOfTrustVerificationKey()...)
		if err := c.store.SetLedgerID(ledgerID); err != nil {
			return err
		}

		c.log.Info("ledger id set")
	}

	c.Cancel()
	c.finished(updated)

	return nil
}

// fail marks the construction as failed and stops its background work.
func (c *activeController) fail(reason string) error {
	updated, err := c.store.FailForReason(c.construction.ID, reason)
	if err != nil {
		return fmt.Errorf("fail construction:\n%w", err)
	}

	c.construction = updated
	c.metrics.Proofs.WithLabelValues("failed").Inc()
	c.log.Warn("proof construction failed", "reason", reason)
	c.Cancel()

	return nil
}

func (c *activeController) Cancel() {
	for _, s := range c.verifications.Values() {
		s.Abandon()
	}

	for _, s := range []*work.Slot[struct{}]{c.publication, c.signing, c.proof} {
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

func (c inertController) Advance(time.Time, []byte, bool) error { return nil }

func (c inertController) AddProofKeyPublication(state.ProofKeyPublication) {}

func (c inertController) AddSignaturePublication(state.SignaturePublication) bool { return false }

func (c inertController) AddProofVote(uint64, state.HistoryProofVote) (bool, error) {
	return false, nil
}

func (c inertController) Cancel() {}
