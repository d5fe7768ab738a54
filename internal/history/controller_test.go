package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"Tessera/internal/config"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/storage"
	"Tessera/internal/submit"
	"Tessera/internal/tsslib"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

var (
	genesis = roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 10},
		roster.Entry{NodeID: 2, Weight: 10},
		roster.Entry{NodeID: 3, Weight: 10},
	)
	epoch = time.Unix(1_700_000_000, 0).UTC()
	lib   = tsslib.New()
	vk    = []byte("hints verification key")
)

// fixture is one node's controller collaborators.
type fixture struct {
	store    *state.HistoryStore
	pool     *work.Pool
	rec      *submit.Recorder
	cfg      config.TSS
	gate     *semaphore.Weighted
	metrics  *metrics.Metrics
	finished []state.ProofConstruction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := state.OpenHistoryStore(storage.NewMemForTest(t))
	require.NoError(t, err)

	pool := work.NewPool(2)
	t.Cleanup(func() { pool.Close() })

	return &fixture{
		store:   store,
		pool:    pool,
		rec:     submit.NewRecorder(),
		cfg:     config.Default(),
		gate:    semaphore.NewWeighted(1),
		metrics: metrics.New(),
	}
}

func (f *fixture) deps(selfID uint64) deps {
	return deps{
		selfID:   selfID,
		proofKey: proofKey(selfID),
		store:    f.store,
		lib:      lib,
		pool:     f.pool,
		submit:   f.rec,
		gate:     f.gate,
		cfg:      &f.cfg,
		metrics:  f.metrics,
		log:      logger.Component("history-test"),
		finished: func(pc state.ProofConstruction) { f.finished = append(f.finished, pc) },
	}
}

// controller creates the bootstrap construction of r and its controller.
func (f *fixture) controller(t *testing.T, selfID uint64, r *roster.Roster) *activeController {
	t.Helper()

	ar := roster.NewBootstrap(r)
	pc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	return newActiveController(f.deps(selfID), pc, ar.Weights())
}

// publishKeys records the nodes' proof keys and hands them to c.
func (f *fixture) publishKeys(t *testing.T, c *activeController, ids ...uint64) {
	t.Helper()

	for _, id := range ids {
		key := proofKey(id).PublicKey
		inUse, err := f.store.SetProofKey(id, key, epoch)
		require.NoError(t, err)
		require.True(t, inUse)

		c.AddProofKeyPublication(state.ProofKeyPublication{NodeID: id, Key: key, AdoptionTime: epoch})
	}
}

func proofKey(id uint64) tsslib.SchnorrKeyPair {
	kp, err := lib.SchnorrKeyPairFromSeed([]byte{byte(id)})
	if err != nil {
		panic(err)
	}

	return kp
}

// signature is node's signature on c's current target address book.
func signature(t *testing.T, c *activeController, node uint64, at time.Time) state.SignaturePublication {
	t.Helper()

	book, _ := c.targetBook()
	h := state.History{AddressBookHash: lib.HashAddressBook(book), Metadata: vk}

	sig, err := lib.SignSchnorr(lib.HistoryMessage(h.AddressBookHash, h.Metadata), proofKey(node).PrivateKey)
	require.NoError(t, err)

	return state.SignaturePublication{NodeID: node, Signature: state.HistorySignature{History: h, Signature: sig}, At: at}
}

func TestActiveNodePublishesProofKey(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 2, genesis)

	require.NoError(t, c.Advance(epoch.Add(time.Second), nil, true))
	_, err := c.publication.Wait()
	require.NoError(t, err)

	bodies := f.rec.Bodies(txn.KindProofKey)
	require.Len(t, bodies, 1)
	require.Equal(t, proofKey(2).PublicKey, bodies[0].(txn.ProofKeyBody).ProofKey)

	require.NoError(t, c.Advance(epoch.Add(2*time.Second), nil, true))
	require.Len(t, f.rec.Bodies(txn.KindProofKey), 1)
}

func TestNonTargetNodeDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 9, genesis)

	require.NoError(t, c.Advance(epoch.Add(time.Second), nil, true))
	require.Nil(t, c.publication)
}

func TestAssemblyStartsOnceSourceNodesKeyed(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)

	// Without metadata the construction only gathers keys.
	require.NoError(t, c.Advance(epoch.Add(time.Second), nil, true))
	require.True(t, c.construction.AssemblyStart.IsZero())

	now := epoch.Add(2 * time.Second)
	require.NoError(t, c.Advance(now, vk, true))
	require.True(t, c.construction.AssemblyStart.Equal(now))
	require.True(t, c.construction.GracePeriodEnd.IsZero())

	_, err := c.signing.Wait()
	require.NoError(t, err)

	bodies := f.rec.Bodies(txn.KindHistorySignature)
	require.Len(t, bodies, 1)

	sig := bodies[0].(txn.HistorySignatureBody).Signature
	msg := lib.HistoryMessage(sig.History.AddressBookHash, sig.History.Metadata)
	require.True(t, lib.VerifySchnorr(sig.Signature, msg, proofKey(1).PublicKey))
	require.Equal(t, vk, sig.History.Metadata)
}

func TestAssemblyWaitsForGracePeriodAndWeight(t *testing.T) {
	uneven := roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 10},
		roster.Entry{NodeID: 2, Weight: 10},
		roster.Entry{NodeID: 3, Weight: 5},
	)

	f := newFixture(t)
	c := f.controller(t, 1, uneven)
	f.publishKeys(t, c, 1, 2)

	require.NoError(t, c.Advance(epoch.Add(time.Second), vk, false))
	require.True(t, c.construction.AssemblyStart.IsZero())

	after := epoch.Add(f.cfg.BootstrapProofKeyGracePeriod)
	require.NoError(t, c.Advance(after, vk, false))
	require.True(t, c.construction.AssemblyStart.Equal(after))
}

func TestLateProofKeyIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)
	require.NoError(t, c.Advance(epoch.Add(time.Second), vk, false))

	c.targetProofKeys = map[uint64][]byte{}
	c.AddProofKeyPublication(state.ProofKeyPublication{NodeID: 2, Key: proofKey(2).PublicKey, AdoptionTime: epoch.Add(2 * time.Second)})
	require.Empty(t, c.targetProofKeys)
}

func TestSignaturePublicationFilters(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2)

	now := epoch.Add(time.Second)
	require.True(t, c.AddSignaturePublication(signature(t, c, 1, now)))
	require.False(t, c.AddSignaturePublication(signature(t, c, 1, now)), "second signature from one node")
	require.False(t, c.AddSignaturePublication(signature(t, c, 3, now)), "signer without proof key")
	require.False(t, c.AddSignaturePublication(signature(t, c, 9, now)), "signer outside source roster")
	require.Equal(t, 1, c.verifications.Len())
}

func TestProofIsProvenVotedAndAdopted(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)

	t1 := epoch.Add(time.Second)
	require.NoError(t, c.Advance(t1, vk, true))
	_, err := c.signing.Wait()
	require.NoError(t, err)

	own := f.rec.Bodies(txn.KindHistorySignature)[0].(txn.HistorySignatureBody)
	require.True(t, c.AddSignaturePublication(state.SignaturePublication{NodeID: 1, Signature: own.Signature, At: t1}))

	require.NoError(t, c.Advance(t1.Add(time.Second), vk, true))
	require.NotNil(t, c.proof)
	_, err = c.proof.Wait()
	require.NoError(t, err)

	votes := f.rec.Bodies(txn.KindHistoryProofVote)
	require.Len(t, votes, 1)

	vote := votes[0].(txn.HistoryProofVoteBody).Vote
	require.False(t, vote.Congruent())
	require.Len(t, vote.Proof.TargetProofKeys, 3)

	cot, err := lib.VerifyChainOfTrust(vote.Proof.Proof)
	require.NoError(t, err)
	require.Equal(t, 1, cot.Depth)
	require.Equal(t, vote.Proof.SourceAddressBookHash, cot.GenesisHash)
	require.Equal(t, own.Signature.History.AddressBookHash, cot.TargetHash)

	counted, err := c.AddProofVote(1, vote)
	require.NoError(t, err)
	require.True(t, counted)

	require.True(t, c.construction.HasTargetProof())
	require.False(t, c.IsStillInProgress())
	require.Len(t, f.finished, 1)

	ledgerID := f.store.LedgerID()
	require.Equal(t, cot.GenesisHash[:], ledgerID[:32])
	require.Equal(t, lib.ChainOfTrustVerificationKey(), ledgerID[32:])
}

func TestProofGenerationWaitsForGate(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)

	t1 := epoch.Add(time.Second)
	require.NoError(t, c.Advance(t1, vk, false))
	require.True(t, c.AddSignaturePublication(signature(t, c, 2, t1)))

	require.NoError(t, f.gate.Acquire(context.Background(), 1))

	require.NoError(t, c.Advance(t1.Add(time.Second), vk, true))
	require.NotNil(t, c.proof)
	require.Never(t, c.proof.Ready, 100*time.Millisecond, 10*time.Millisecond)

	f.gate.Release(1)
	_, err := c.proof.Wait()
	require.NoError(t, err)
	require.Len(t, f.rec.Bodies(txn.KindHistoryProofVote), 1)
}

func TestInsufficientSignaturesFailConstruction(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)

	t0 := epoch.Add(time.Second)
	require.NoError(t, c.Advance(t0, vk, false))

	for _, node := range genesis.NodeIDs() {
		p := signature(t, c, node, t0)
		p.Signature.Signature = []byte("not a signature")
		require.True(t, c.AddSignaturePublication(p))
	}

	// Off-interval ticks do not check.
	require.NoError(t, c.Advance(t0.Add(3*time.Second), vk, false))
	require.True(t, c.IsStillInProgress())

	require.NoError(t, c.Advance(t0.Add(f.cfg.InsufficientSignaturesCheckInterval), vk, false))
	require.False(t, c.IsStillInProgress())
	require.Equal(t, "insufficient signatures", f.store.ActiveConstruction().FailureReason)

	require.NoError(t, c.Advance(t0.Add(2*f.cfg.InsufficientSignaturesCheckInterval), vk, true))
	require.Nil(t, c.proof)
}

func TestCancelLeavesRecordedDecisionsUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		settle func(t *testing.T, c *activeController, h state.History)
	}{
		{
			name: "proof completed",
			settle: func(t *testing.T, c *activeController, h state.History) {
				hp := state.HistoryProof{TargetHistory: h, Proof: []byte("proof")}
				for _, node := range []uint64{2, 3} {
					_, err := c.AddProofVote(node, state.HistoryProofVote{Proof: &hp})
					require.NoError(t, err)
				}
				require.True(t, c.construction.HasTargetProof())
			},
		},
		{
			name: "construction failed",
			settle: func(t *testing.T, c *activeController, _ state.History) {
				require.NoError(t, c.fail("insufficient signatures"))
				require.True(t, c.construction.Failed())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.controller(t, 1, genesis)
			f.publishKeys(t, c, 1, 2, 3)

			t1 := epoch.Add(time.Second)
			require.NoError(t, c.Advance(t1, vk, false))

			sig := signature(t, c, 2, t1)
			require.True(t, c.AddSignaturePublication(sig))

			// The held gate keeps the proof in flight.
			require.NoError(t, f.gate.Acquire(context.Background(), 1))

			require.NoError(t, c.Advance(t1.Add(time.Second), vk, true))
			require.NotNil(t, c.proof)

			tt.settle(t, c, sig.Signature.History)
			require.False(t, c.IsStillInProgress())

			id := c.ConstructionID()
			before, ok := f.store.ConstructionByID(id)
			require.True(t, ok)
			votes := f.store.Votes(id, genesis.NodeIDs())
			ledgerID := f.store.LedgerID()
			finished := len(f.finished)

			c.Cancel()

			_, err := c.proof.Wait()
			require.ErrorIs(t, err, context.Canceled)
			f.gate.Release(1)

			require.NoError(t, c.Advance(t1.Add(time.Minute), vk, true))

			after, ok := f.store.ConstructionByID(id)
			require.True(t, ok)
			require.Equal(t, before, after)
			require.Equal(t, votes, f.store.Votes(id, genesis.NodeIDs()))
			require.Equal(t, ledgerID, f.store.LedgerID())
			require.Empty(t, f.rec.Bodies(txn.KindHistoryProofVote))
			require.Len(t, f.finished, finished)
		})
	}
}

func TestCongruentVoteWithoutReferentIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)

	counted, err := c.AddProofVote(2, state.HistoryProofVote{CongruentNodeID: 3})
	require.NoError(t, err)
	require.False(t, counted)
	require.Empty(t, f.store.Votes(c.ConstructionID(), genesis.NodeIDs()))
}

func TestVotesAreReplayedFromStore(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)

	proof := state.HistoryProof{Proof: []byte("proof")}
	require.NoError(t, f.store.AddProofVote(2, c.ConstructionID(), state.HistoryProofVote{Proof: &proof}))

	replayed := newActiveController(f.deps(1), c.construction, roster.NewBootstrap(genesis).Weights())
	require.True(t, replayed.votes.has(2))

	counted, err := replayed.AddProofVote(2, state.HistoryProofVote{Proof: &proof})
	require.NoError(t, err)
	require.False(t, counted)
}

func TestSignaturesAndKeysAreReplayedFromStore(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)
	f.publishKeys(t, c, 1, 2, 3)

	p := signature(t, c, 2, epoch.Add(time.Second))
	require.True(t, c.AddSignaturePublication(p))
	require.NoError(t, f.store.AddSignature(c.ConstructionID(), p))

	replayed := newActiveController(f.deps(1), c.construction, roster.NewBootstrap(genesis).Weights())
	require.Len(t, replayed.targetProofKeys, 3)
	require.True(t, replayed.signers[2])

	ch, ok := replayed.firstSufficientSignatures()
	require.True(t, ok)
	require.Equal(t, p.Signature.History.AddressBookHash, ch.history.AddressBookHash)
}

func TestInertControllerWhenSourceLacksTargetWeight(t *testing.T) {
	f := newFixture(t)

	candidate := roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 1},
		roster.Entry{NodeID: 7, Weight: 50},
		roster.Entry{NodeID: 8, Weight: 50},
	)

	ar := roster.NewTransition(genesis, candidate)
	pc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	r := newControllers(f.deps(1))
	c := r.GetOrCreateFor(ar, pc)
	require.IsType(t, inertController{}, c)

	_, ok := r.AnyInProgress()
	require.False(t, ok)
}

func TestControllersReplaceOnNewConstruction(t *testing.T) {
	f := newFixture(t)
	r := newControllers(f.deps(1))

	ar := roster.NewBootstrap(genesis)
	pc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	first := r.GetOrCreateFor(ar, pc)
	require.Same(t, first, r.GetOrCreateFor(ar, pc))

	_, ok := r.InProgressByID(pc.ID)
	require.True(t, ok)

	_, ok = r.InProgressByID(pc.ID + 1)
	require.False(t, ok)

	r.Reap(pc.ID + 1)
	_, ok = r.AnyInProgress()
	require.False(t, ok)
}
