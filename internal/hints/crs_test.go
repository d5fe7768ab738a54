package hints

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"Tessera/internal/state"
	"Tessera/internal/txn"
)

// ceremony sets up a gathering CRS ceremony over genesis.
func ceremony(t *testing.T, selfID uint64) (*fixture, *activeController, []byte) {
	t.Helper()

	f := newFixture(t)
	crs := lib.NewCRS(f.cfg.CRSParties)
	require.NoError(t, f.store.SetCRSState(state.CRSState{
		CRS:                 crs,
		Stage:               state.GatheringContributions,
		NextContributor:     1,
		HasNextContributor:  true,
		ContributionEndTime: epoch.Add(f.cfg.CRSUpdateContributionTime),
	}))

	return f, f.controller(t, selfID, genesis), crs
}

// publish delivers a CRS delta the way the handler does.
func publish(t *testing.T, f *fixture, c *activeController, node uint64, next, proof []byte, at time.Time) {
	t.Helper()

	p := state.CRSPublication{NodeID: node, NewCRS: next, Proof: proof}
	require.NoError(t, f.store.AddCRSPublication(p))
	require.NoError(t, c.AddCRSPublication(p, at))
}

func update(t *testing.T, old []byte) ([]byte, []byte) {
	t.Helper()

	entropy := make([]byte, 32)
	_, err := rand.Read(entropy)
	require.NoError(t, err)

	next, proof, err := lib.UpdateCRS(old, entropy)
	require.NoError(t, err)

	return next, proof
}

func crsState(t *testing.T, f *fixture) state.CRSState {
	t.Helper()

	st, ok := f.store.CRSState()
	require.True(t, ok)

	return st
}

func TestCRSCompletesWithEnoughWeight(t *testing.T) {
	f, c, _ := ceremony(t, 1)

	require.NoError(t, c.AdvanceCRSWork(epoch.Add(time.Second), true))
	_, err := c.crsPublication.Wait()
	require.NoError(t, err)

	bodies := f.rec.Bodies(txn.KindCRSPublication)
	require.Len(t, bodies, 1)
	own := bodies[0].(txn.CRSPublicationBody)

	publish(t, f, c, 1, own.NewCRS, own.Proof, epoch.Add(2*time.Second))
	require.Equal(t, uint64(2), crsState(t, f).NextContributor)

	crs2, proof2 := update(t, own.NewCRS)
	publish(t, f, c, 2, crs2, proof2, epoch.Add(3*time.Second))

	crs3, proof3 := update(t, crs2)
	publish(t, f, c, 3, crs3, proof3, epoch.Add(4*time.Second))

	st := crsState(t, f)
	require.Equal(t, state.WaitingForAdoptingFinalCRS, st.Stage)
	require.False(t, st.HasNextContributor)
	require.True(t, st.ContributionEndTime.Equal(epoch.Add(4*time.Second+f.cfg.CRSFinalizationDelay)))

	require.NoError(t, c.AdvanceCRSWork(epoch.Add(5*time.Second), true))
	require.Equal(t, state.WaitingForAdoptingFinalCRS, crsState(t, f).Stage)

	require.NoError(t, c.AdvanceCRSWork(st.ContributionEndTime.Add(time.Second), true))

	st = crsState(t, f)
	require.Equal(t, state.CRSCompleted, st.Stage)
	require.Equal(t, crs3, st.CRS)
	require.True(t, st.ContributionEndTime.IsZero())
}

func TestCRSRestartKeepsFoldAndCountsContributorsOnce(t *testing.T) {
	f, c, initial := ceremony(t, 9)

	crs1, proof1 := update(t, initial)
	publish(t, f, c, 1, crs1, proof1, epoch.Add(time.Second))
	publish(t, f, c, 2, []byte("garbage"), []byte("proof"), epoch.Add(2*time.Second))

	crs3, proof3 := update(t, crs1)
	publish(t, f, c, 3, crs3, proof3, epoch.Add(3*time.Second))

	// 20 of the 21 needed.
	require.NoError(t, c.AdvanceCRSWork(epoch.Add(14*time.Second), false))

	st := crsState(t, f)
	require.Equal(t, state.GatheringContributions, st.Stage)
	require.Equal(t, uint64(1), st.NextContributor)
	require.Equal(t, initial, st.CRS)
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.CRSRestarts))

	// Node 1 misses its window; node 2 now contributes on top of the kept fold.
	require.NoError(t, c.AdvanceCRSWork(epoch.Add(45*time.Second), false))
	require.Equal(t, uint64(2), crsState(t, f).NextContributor)

	crs2, proof2 := update(t, crs3)
	publish(t, f, c, 2, crs2, proof2, epoch.Add(46*time.Second))

	require.NoError(t, c.AdvanceCRSWork(epoch.Add(77*time.Second), false))
	require.Equal(t, state.WaitingForAdoptingFinalCRS, crsState(t, f).Stage)

	require.NoError(t, c.AdvanceCRSWork(epoch.Add(88*time.Second), false))

	st = crsState(t, f)
	require.Equal(t, state.CRSCompleted, st.Stage)
	require.Equal(t, crs2, st.CRS)

	fold, err := c.finalCRS.Wait()
	require.NoError(t, err)
	require.Equal(t, uint64(30), fold.weight)
}

func TestCRSRestartIsIdempotent(t *testing.T) {
	f, c, initial := ceremony(t, 9)

	cycle := func(start time.Time) time.Time {
		now := start
		for range genesis.Size() {
			now = now.Add(f.cfg.CRSUpdateContributionTime + time.Second)
			require.NoError(t, c.AdvanceCRSWork(now, false))
		}

		require.Equal(t, state.WaitingForAdoptingFinalCRS, crsState(t, f).Stage)

		now = now.Add(f.cfg.CRSFinalizationDelay + time.Second)
		require.NoError(t, c.AdvanceCRSWork(now, false))

		return now
	}

	now := cycle(epoch)
	first := crsState(t, f)

	now = cycle(now)
	second := crsState(t, f)

	require.Equal(t, state.GatheringContributions, second.Stage)
	require.Equal(t, first.NextContributor, second.NextContributor)
	require.Equal(t, initial, second.CRS)
	require.True(t, second.ContributionEndTime.Equal(now.Add(f.cfg.CRSUpdateContributionTime)))
}

func TestCRSPublicationsReplayedOnRestart(t *testing.T) {
	f, c, initial := ceremony(t, 9)

	crs1, proof1 := update(t, initial)
	publish(t, f, c, 1, crs1, proof1, epoch.Add(time.Second))

	crs2, proof2 := update(t, crs1)
	publish(t, f, c, 2, crs2, proof2, epoch.Add(2*time.Second))

	restarted := f.controller(t, 9, genesis)

	fold, err := restarted.finalCRS.Wait()
	require.NoError(t, err)
	require.Equal(t, crs2, fold.crs)
	require.Equal(t, uint64(20), fold.weight)
}

func TestCRSIgnoresOwnTurnWhenInactive(t *testing.T) {
	f, c, _ := ceremony(t, 1)

	require.NoError(t, c.AdvanceCRSWork(epoch.Add(time.Second), false))
	require.Nil(t, c.crsPublication)
	require.Zero(t, f.rec.Len())
}
