package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Tessera/internal/config"
	"Tessera/internal/roster"
	"Tessera/internal/storage"
)

var (
	genesis = roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 10},
		roster.Entry{NodeID: 2, Weight: 10},
		roster.Entry{NodeID: 3, Weight: 10},
	)
	candidate = roster.MustNew(
		roster.Entry{NodeID: 2, Weight: 10},
		roster.Entry{NodeID: 3, Weight: 10},
		roster.Entry{NodeID: 4, Weight: 10},
	)
	epoch = time.Unix(1_700_000_000, 0).UTC()
)

func newHintsStore(t *testing.T) (*HintsStore, *storage.Storage) {
	t.Helper()

	db := storage.NewMemForTest(t)
	s, err := OpenHintsStore(db)
	require.NoError(t, err)

	return s, db
}

func TestHintsConstructionSlots(t *testing.T) {
	s, _ := newHintsStore(t)
	cfg := config.Default()

	boot := roster.NewBootstrap(genesis)
	c1, err := s.GetOrCreateConstruction(boot, epoch, &cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1), c1.ID)
	require.True(t, c1.GracePeriodEnd.Equal(epoch.Add(cfg.BootstrapHintsKeyGracePeriod)))
	require.Equal(t, c1.ID, s.ActiveConstruction().ID)

	again, err := s.GetOrCreateConstruction(boot, epoch.Add(time.Minute), &cfg)
	require.NoError(t, err)
	require.Equal(t, c1.ID, again.ID)

	trans := roster.NewTransition(genesis, candidate)
	c2, err := s.GetOrCreateConstruction(trans, epoch, &cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(2), c2.ID)
	require.True(t, c2.GracePeriodEnd.Equal(epoch.Add(cfg.TransitionHintsKeyGracePeriod)))
	require.Equal(t, c2.ID, s.NextConstruction().ID)

	got, ok := s.ConstructionFor(trans)
	require.True(t, ok)
	require.Equal(t, c2.ID, got.ID)

	_, ok = s.ConstructionFor(roster.NewHandoff(genesis, candidate))
	require.False(t, ok)
}

func TestHintsGetOrCreatePanicsDuringHandoff(t *testing.T) {
	s, _ := newHintsStore(t)
	cfg := config.Default()

	require.Panics(t, func() {
		_, _ = s.GetOrCreateConstruction(roster.NewHandoff(genesis, candidate), epoch, &cfg)
	})
}

func TestHintsReplacingNextPurgesItsVotes(t *testing.T) {
	s, _ := newHintsStore(t)
	cfg := config.Default()

	_, err := s.GetOrCreateConstruction(roster.NewBootstrap(genesis), epoch, &cfg)
	require.NoError(t, err)

	c2, err := s.GetOrCreateConstruction(roster.NewTransition(genesis, candidate), epoch, &cfg)
	require.NoError(t, err)

	vote := PreprocessingVote{Keys: &PreprocessedKeys{AggregationKey: []byte{1}, VerificationKey: []byte{2}}}
	require.NoError(t, s.AddVote(1, c2.ID, vote))
	require.Len(t, s.Votes(c2.ID, genesis.NodeIDs()), 1)

	other := roster.MustNew(roster.Entry{NodeID: 1, Weight: 5}, roster.Entry{NodeID: 9, Weight: 5})
	c3, err := s.GetOrCreateConstruction(roster.NewTransition(genesis, other), epoch, &cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(3), c3.ID)
	require.Empty(t, s.Votes(c2.ID, genesis.NodeIDs()))
}

func TestHintsKeyInUseThenRotated(t *testing.T) {
	s, _ := newHintsStore(t)
	cfg := config.Default()

	inUse, err := s.SetHintsKey(2, 1, 8, []byte("first"), epoch)
	require.NoError(t, err)
	require.True(t, inUse)

	inUse, err = s.SetHintsKey(2, 1, 8, []byte("second"), epoch.Add(time.Second))
	require.NoError(t, err)
	require.False(t, inUse)

	pubs := s.HintsKeyPublications([]uint64{2}, 8)
	require.Len(t, pubs, 1)
	require.Equal(t, []byte("first"), pubs[0].Key)
	require.Equal(t, 1, pubs[0].PartyID)

	_, err = s.GetOrCreateConstruction(roster.NewBootstrap(genesis), epoch.Add(time.Minute), &cfg)
	require.NoError(t, err)

	pubs = s.HintsKeyPublications([]uint64{2}, 8)
	require.Len(t, pubs, 1)
	require.Equal(t, []byte("second"), pubs[0].Key)
	require.True(t, pubs[0].AdoptionTime.Equal(epoch.Add(time.Minute)))

	require.Empty(t, s.HintsKeyPublications([]uint64{3}, 8))
	require.Empty(t, s.HintsKeyPublications([]uint64{2}, 16))
}

func TestHintsSchemeAndReload(t *testing.T) {
	s, db := newHintsStore(t)
	cfg := config.Default()

	c, err := s.GetOrCreateConstruction(roster.NewBootstrap(genesis), epoch, &cfg)
	require.NoError(t, err)

	_, err = s.SetPreprocessingStart(c.ID, epoch.Add(time.Second))
	require.NoError(t, err)

	keys := PreprocessedKeys{AggregationKey: []byte("agg"), VerificationKey: []byte("vk")}
	_, err = s.SetScheme(c.ID, keys, map[uint64]int{1: 1, 2: 2, 3: 3})
	require.NoError(t, err)

	_, err = s.SetScheme(99, keys, nil)
	require.ErrorIs(t, err, ErrNoConstruction)

	require.NoError(t, s.SetCRSState(CRSState{CRS: []byte("crs"), Stage: CRSCompleted}))
	require.NoError(t, s.AddCRSPublication(CRSPublication{NodeID: 3, NewCRS: []byte("c3"), Proof: []byte("p3")}))
	require.NoError(t, s.AddCRSPublication(CRSPublication{NodeID: 1, NewCRS: []byte("c1"), Proof: []byte("p1")}))

	reopened, err := OpenHintsStore(db)
	require.NoError(t, err)

	active := reopened.ActiveConstruction()
	require.Equal(t, c.ID, active.ID)
	require.True(t, active.PreprocessingStart.Equal(epoch.Add(time.Second)))
	require.True(t, active.HasScheme())
	require.Equal(t, []byte("vk"), reopened.ActiveVerificationKey())
	require.Equal(t, 2, active.Scheme.NodePartyIDs[2])

	st, ok := reopened.CRSState()
	require.True(t, ok)
	require.Equal(t, CRSCompleted, st.Stage)

	pubs := reopened.OrderedCRSPublications([]uint64{3, 2, 1})
	require.Len(t, pubs, 2)
	require.Equal(t, uint64(1), pubs[0].NodeID)
	require.Equal(t, uint64(3), pubs[1].NodeID)
}

func TestHintsMoveToNextContributor(t *testing.T) {
	s, _ := newHintsStore(t)

	require.NoError(t, s.SetCRSState(CRSState{Stage: GatheringContributions, NextContributor: 1, HasNextContributor: true}))

	require.NoError(t, s.MoveToNextContributor(2, true, epoch))
	st, _ := s.CRSState()
	require.Equal(t, GatheringContributions, st.Stage)
	require.Equal(t, uint64(2), st.NextContributor)

	require.NoError(t, s.MoveToNextContributor(0, false, epoch.Add(time.Second)))
	st, _ = s.CRSState()
	require.Equal(t, WaitingForAdoptingFinalCRS, st.Stage)
	require.False(t, st.HasNextContributor)
	require.True(t, st.ContributionEndTime.Equal(epoch.Add(time.Second)))
}

func TestHintsHandoff(t *testing.T) {
	s, _ := newHintsStore(t)
	cfg := config.Default()

	c1, err := s.GetOrCreateConstruction(roster.NewBootstrap(genesis), epoch, &cfg)
	require.NoError(t, err)
	require.NoError(t, s.AddVote(1, c1.ID, PreprocessingVote{CongruentNodeID: 2}))

	_, err = s.SetHintsKey(1, 1, 8, []byte("k1"), epoch)
	require.NoError(t, err)
	_, err = s.SetHintsKey(2, 2, 8, []byte("k2"), epoch)
	require.NoError(t, err)

	ok, err := s.Handoff(genesis, candidate, candidate.Hash())
	require.NoError(t, err)
	require.False(t, ok, "no next construction yet")

	c2, err := s.GetOrCreateConstruction(roster.NewTransition(genesis, candidate), epoch, &cfg)
	require.NoError(t, err)

	ok, err = s.Handoff(genesis, candidate, candidate.Hash())
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, c2.ID, s.ActiveConstruction().ID)
	require.True(t, s.NextConstruction().Empty())
	require.Empty(t, s.Votes(c1.ID, genesis.NodeIDs()))
	require.Empty(t, s.HintsKeyPublications([]uint64{1}, 8), "node 1 left the roster")
	require.Len(t, s.HintsKeyPublications([]uint64{2}, 8), 1)
}
