package hints

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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
)

// fixture is one node's controller collaborators.
type fixture struct {
	store    *state.HintsStore
	pool     *work.Pool
	rec      *submit.Recorder
	cfg      config.TSS
	signing  *Context
	finished []state.HintsConstruction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := state.OpenHintsStore(storage.NewMemForTest(t))
	require.NoError(t, err)

	pool := work.NewPool(2)
	t.Cleanup(func() { pool.Close() })

	cfg := config.Default()
	cfg.CRSParties = 8

	return &fixture{store: store, pool: pool, rec: submit.NewRecorder(), cfg: cfg, signing: NewContext(lib)}
}

func (f *fixture) deps(selfID uint64) deps {
	return deps{
		selfID:   selfID,
		blsKey:   blsKey(selfID),
		store:    f.store,
		lib:      lib,
		pool:     f.pool,
		submit:   f.rec,
		signing:  f.signing,
		cfg:      &f.cfg,
		metrics:  metrics.New(),
		log:      logger.Component("hints-test"),
		finished: func(hc state.HintsConstruction) { f.finished = append(f.finished, hc) },
	}
}

// controller creates the bootstrap construction of r and its controller.
func (f *fixture) controller(t *testing.T, selfID uint64, r *roster.Roster) *activeController {
	t.Helper()

	ar := roster.NewBootstrap(r)
	hc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	return newActiveController(f.deps(selfID), hc, ar.Weights())
}

func (f *fixture) completeCRS(t *testing.T) []byte {
	t.Helper()

	crs := lib.NewCRS(f.cfg.CRSParties)
	require.NoError(t, f.store.SetCRSState(state.CRSState{CRS: crs, Stage: state.CRSCompleted}))

	return crs
}

func blsKey(id uint64) []byte {
	sk, err := lib.BLSPrivateKeyFromSeed(bytes.Repeat([]byte{byte(id)}, 32))
	if err != nil {
		panic(err)
	}

	return sk
}

func TestPartyAssignmentIsOrderIndependent(t *testing.T) {
	orders := [][]uint64{{1, 2, 3}, {3, 1, 2}, {2, 3, 1}}

	var first map[uint64]int
	for _, order := range orders {
		f := newFixture(t)
		crs := lib.NewCRS(f.cfg.CRSParties)
		c := f.controller(t, 1, genesis)

		for _, node := range order {
			party, ok := c.PartyIDOf(node)
			require.True(t, ok)
			c.maybeUpdateForHintsKey(state.HintsKeyPublication{NodeID: node, Key: []byte{1}, PartyID: party, AdoptionTime: epoch}, crs)
		}

		if first == nil {
			first = c.nodePartyIDs
			continue
		}

		require.Equal(t, first, c.nodePartyIDs, "order %v", order)
	}

	require.Equal(t, map[uint64]int{1: 1, 2: 2, 3: 3}, first)
}

func TestHintsKeyForWrongPartyIsDropped(t *testing.T) {
	f := newFixture(t)
	crs := lib.NewCRS(f.cfg.CRSParties)
	c := f.controller(t, 1, genesis)

	c.maybeUpdateForHintsKey(state.HintsKeyPublication{NodeID: 2, Key: []byte{1}, PartyID: 1, AdoptionTime: epoch}, crs)
	require.Empty(t, c.nodePartyIDs)

	_, ok := c.PartyIDOf(9)
	require.False(t, ok)
}

func TestLateHintsKeyIsNoop(t *testing.T) {
	f := newFixture(t)
	f.completeCRS(t)
	c := f.controller(t, 1, genesis)

	hc, err := f.store.SetPreprocessingStart(c.ConstructionID(), epoch.Add(time.Second))
	require.NoError(t, err)
	c.construction = hc

	c.AddHintsKeyPublication(state.HintsKeyPublication{NodeID: 1, Key: []byte{1}, PartyID: 1, AdoptionTime: epoch.Add(2 * time.Second)})

	require.Empty(t, c.nodePartyIDs)
	require.Zero(t, c.validations.Len())
}

func TestActiveNodePublishesItsKey(t *testing.T) {
	f := newFixture(t)
	crs := f.completeCRS(t)
	c := f.controller(t, 2, genesis)

	require.NoError(t, c.Advance(epoch.Add(time.Second), true))
	_, err := c.publication.Wait()
	require.NoError(t, err)

	bodies := f.rec.Bodies(txn.KindHintsKey)
	require.Len(t, bodies, 1)

	body := bodies[0].(txn.HintsKeyBody)
	require.Equal(t, 2, body.PartyID)
	require.Equal(t, roster.PartySize(3), body.NumParties)
	require.True(t, lib.ValidateHintsKey(crs, body.HintsKey, body.PartyID, body.NumParties))

	// A second tick with the publication in flight or done submits nothing new.
	require.NoError(t, c.Advance(epoch.Add(2*time.Second), true))
	require.Len(t, f.rec.Bodies(txn.KindHintsKey), 1)
}

func TestPreprocessingStartsOnceAllSourceNodesPublished(t *testing.T) {
	f := newFixture(t)
	crs := f.completeCRS(t)
	c := f.controller(t, 1, genesis)

	for _, node := range genesis.NodeIDs() {
		key, err := lib.ComputeHints(crs, blsKey(node), int(node), c.numParties)
		require.NoError(t, err)

		c.AddHintsKeyPublication(state.HintsKeyPublication{NodeID: node, Key: key, PartyID: int(node), AdoptionTime: epoch})
	}

	now := epoch.Add(time.Second)
	require.NoError(t, c.Advance(now, true))
	require.True(t, c.construction.PreprocessingStart.Equal(now))
	require.True(t, c.construction.GracePeriodEnd.IsZero())

	_, err := c.vote.Wait()
	require.NoError(t, err)

	votes := f.rec.Bodies(txn.KindPreprocessingVote)
	require.Len(t, votes, 1)
	require.False(t, votes[0].(txn.PreprocessingVoteBody).Vote.Congruent())
}

func TestPreprocessingWaitsForGracePeriodAndWeight(t *testing.T) {
	f := newFixture(t)
	crs := f.completeCRS(t)
	c := f.controller(t, 9, genesis)

	// Two of three nodes publish: 20 of the 21 needed.
	for _, node := range []uint64{1, 2} {
		key, err := lib.ComputeHints(crs, blsKey(node), int(node), c.numParties)
		require.NoError(t, err)

		c.AddHintsKeyPublication(state.HintsKeyPublication{NodeID: node, Key: key, PartyID: int(node), AdoptionTime: epoch})
	}

	require.NoError(t, c.Advance(epoch.Add(time.Second), false))
	require.True(t, c.construction.PreprocessingStart.IsZero())

	afterGrace := epoch.Add(f.cfg.BootstrapHintsKeyGracePeriod + time.Second)
	require.NoError(t, c.Advance(afterGrace, false))
	require.True(t, c.construction.PreprocessingStart.IsZero())
}

func TestCongruentVoteCollapsesIntoReferent(t *testing.T) {
	f := newFixture(t)
	f.completeCRS(t)

	// Total 10, source threshold 4.
	r := roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 4},
		roster.Entry{NodeID: 2, Weight: 3},
		roster.Entry{NodeID: 3, Weight: 3},
	)
	c := f.controller(t, 1, r)

	keys := state.PreprocessedKeys{AggregationKey: []byte("agg"), VerificationKey: []byte("vk")}

	counted, err := c.AddPreprocessingVote(2, state.PreprocessingVote{Keys: &keys})
	require.NoError(t, err)
	require.True(t, counted)
	require.True(t, c.IsStillInProgress())

	counted, err = c.AddPreprocessingVote(3, state.PreprocessingVote{CongruentNodeID: 2})
	require.NoError(t, err)
	require.True(t, counted)
	require.False(t, c.IsStillInProgress())

	active := f.store.ActiveConstruction()
	require.True(t, active.HasScheme())
	require.Equal(t, keys.VerificationKey, active.Scheme.VerificationKey)

	stored := f.store.Votes(active.ID, []uint64{3})
	require.False(t, stored[3].Congruent())

	id, err := f.signing.ConstructionID()
	require.NoError(t, err)
	require.Equal(t, active.ID, id)
	require.Len(t, f.finished, 1)

	counted, err = c.AddPreprocessingVote(1, state.PreprocessingVote{Keys: &keys})
	require.NoError(t, err)
	require.False(t, counted)
}

func TestCongruentVoteWithoutReferentIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)

	counted, err := c.AddPreprocessingVote(2, state.PreprocessingVote{CongruentNodeID: 3})
	require.NoError(t, err)
	require.False(t, counted)
	require.Empty(t, f.store.Votes(c.ConstructionID(), genesis.NodeIDs()))

	counted, err = c.AddPreprocessingVote(7, state.PreprocessingVote{Keys: &state.PreprocessedKeys{}})
	require.NoError(t, err)
	require.False(t, counted)
}

func TestVotesAreReplayedFromStore(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 1, genesis)

	keys := state.PreprocessedKeys{AggregationKey: []byte("a"), VerificationKey: []byte("v")}
	require.NoError(t, f.store.AddVote(2, c.ConstructionID(), state.PreprocessingVote{Keys: &keys}))

	hc, ok := f.store.ConstructionByID(c.ConstructionID())
	require.True(t, ok)

	restarted := newActiveController(f.deps(1), hc, roster.NewBootstrap(genesis).Weights())
	require.True(t, restarted.votes.has(2))

	counted, err := restarted.AddPreprocessingVote(2, state.PreprocessingVote{Keys: &keys})
	require.NoError(t, err)
	require.False(t, counted)
}

func TestCancelAbandonsBackgroundWork(t *testing.T) {
	f := newFixture(t)
	crs := lib.NewCRS(f.cfg.CRSParties)
	c := f.controller(t, 1, genesis)

	c.maybeUpdateForHintsKey(state.HintsKeyPublication{NodeID: 1, Key: []byte{1}, PartyID: 1, AdoptionTime: epoch}, crs)
	c.Cancel()

	for _, s := range c.validations.Values() {
		require.True(t, s.Abandoned())
		_, err := s.Wait()
		if err != nil {
			require.ErrorIs(t, err, work.ErrAbandoned)
		}
	}
}

// stallingLibrary holds Preprocess until release is closed.
type stallingLibrary struct {
	Library
	started chan struct{}
	release chan struct{}
}

func (l stallingLibrary) Preprocess(crs []byte, hintsKeys map[int][]byte, weights map[int]uint64, numParties int) (tsslib.PreprocessedKeys, error) {
	close(l.started)
	<-l.release

	return l.Library.Preprocess(crs, hintsKeys, weights, numParties)
}

func TestCancelLeavesRecordedDecisionsUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		adopt bool
	}{
		{name: "preprocessing started"},
		{name: "scheme adopted", adopt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			crs := f.completeCRS(t)

			ar := roster.NewBootstrap(genesis)
			hc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
			require.NoError(t, err)

			l := stallingLibrary{Library: lib, started: make(chan struct{}), release: make(chan struct{})}
			d := f.deps(1)
			d.lib = l
			c := newActiveController(d, hc, ar.Weights())

			for _, node := range genesis.NodeIDs() {
				key, err := lib.ComputeHints(crs, blsKey(node), int(node), c.numParties)
				require.NoError(t, err)

				c.AddHintsKeyPublication(state.HintsKeyPublication{NodeID: node, Key: key, PartyID: int(node), AdoptionTime: epoch})
			}

			require.NoError(t, c.Advance(epoch.Add(time.Second), true))
			require.NotNil(t, c.vote)

			select {
			case <-l.started:
			case <-time.After(5 * time.Second):
				t.Fatal("preprocessing vote never started")
			}

			if tt.adopt {
				keys := state.PreprocessedKeys{AggregationKey: []byte("agg"), VerificationKey: []byte("vk")}
				for _, node := range []uint64{2, 3} {
					_, err := c.AddPreprocessingVote(node, state.PreprocessingVote{Keys: &keys})
					require.NoError(t, err)
				}
				require.True(t, c.construction.HasScheme())
			}

			before, ok := f.store.ConstructionByID(hc.ID)
			require.True(t, ok)
			votes := f.store.Votes(hc.ID, genesis.NodeIDs())
			finished := len(f.finished)

			c.Cancel()
			close(l.release)

			_, err = c.vote.Wait()
			require.ErrorIs(t, err, context.Canceled)

			after, ok := f.store.ConstructionByID(hc.ID)
			require.True(t, ok)
			require.Equal(t, before, after)
			require.Equal(t, votes, f.store.Votes(hc.ID, genesis.NodeIDs()))
			require.Empty(t, f.rec.Bodies(txn.KindPreprocessingVote))
			require.Len(t, f.finished, finished)
		})
	}
}

// faultyLibrary panics while validating hinTS keys.
type faultyLibrary struct {
	Library
}

func (faultyLibrary) ValidateHintsKey(crs, hintsKey []byte, partyID, numParties int) bool {
	panic("binding fault")
}

func TestValidationPanicDoesNotStallAdvance(t *testing.T) {
	f := newFixture(t)
	crs := f.completeCRS(t)

	ar := roster.NewBootstrap(genesis)
	hc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	d := f.deps(9)
	d.lib = faultyLibrary{Library: lib}
	c := newActiveController(d, hc, ar.Weights())

	c.maybeUpdateForHintsKey(state.HintsKeyPublication{NodeID: 1, Key: []byte{1}, PartyID: 1, AdoptionTime: epoch}, crs)

	afterGrace := epoch.Add(f.cfg.BootstrapHintsKeyGracePeriod + time.Second)
	advanced := make(chan error, 1)
	go func() { advanced <- c.Advance(afterGrace, false) }()

	select {
	case err := <-advanced:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Advance blocked on a panicked validation")
	}

	require.True(t, c.construction.PreprocessingStart.IsZero(), "a failed validation carries no weight")
}

func TestInertControllerWhenSourceLacksTargetWeight(t *testing.T) {
	f := newFixture(t)

	candidate := roster.MustNew(
		roster.Entry{NodeID: 3, Weight: 10},
		roster.Entry{NodeID: 4, Weight: 10},
		roster.Entry{NodeID: 5, Weight: 10},
	)
	ar := roster.NewTransition(genesis, candidate)

	hc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	r := newControllers(f.deps(1))
	c := r.GetOrCreateFor(ar, hc)

	require.IsType(t, inertController{}, c)
	require.False(t, c.IsStillInProgress())

	_, ok := r.AnyInProgress()
	require.False(t, ok)
}

func TestControllersReplaceOnNewConstruction(t *testing.T) {
	f := newFixture(t)
	r := newControllers(f.deps(1))

	ar := roster.NewBootstrap(genesis)
	hc, err := f.store.GetOrCreateConstruction(ar, epoch, &f.cfg)
	require.NoError(t, err)

	c1 := r.GetOrCreateFor(ar, hc)
	require.Same(t, c1, r.GetOrCreateFor(ar, hc))

	got, ok := r.InProgressByID(hc.ID)
	require.True(t, ok)
	require.Same(t, c1, got)

	_, ok = r.InProgressForNumParties(roster.PartySize(genesis.Size()))
	require.True(t, ok)

	_, ok = r.InProgressForNumParties(64)
	require.False(t, ok)

	r.Reap(hc.ID + 1)
	_, ok = r.AnyInProgress()
	require.False(t, ok)
}
