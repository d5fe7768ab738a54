package hints

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Tessera/internal/config"
	"Tessera/internal/metrics"
	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/storage"
	"Tessera/internal/submit"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

type clusterNode struct {
	id    uint64
	svc   *Service
	store *state.HintsStore
	rec   *submit.Recorder
}

// cluster runs hinTS services over a shared in-memory transaction order.
type cluster struct {
	t     *testing.T
	nodes []*clusterNode
	ar    *roster.ActiveRosters
	now   time.Time
}

func newCluster(t *testing.T, ar *roster.ActiveRosters, ids ...uint64) *cluster {
	t.Helper()

	cfg := config.Default()
	cfg.CRSParties = 8

	c := &cluster{t: t, ar: ar, now: epoch}

	for _, id := range ids {
		store, err := state.OpenHintsStore(storage.NewMemForTest(t))
		require.NoError(t, err)

		pool := work.NewPool(2)
		t.Cleanup(func() { pool.Close() })

		rec := submit.NewRecorder()
		svc, err := NewService(Options{
			SelfID:  id,
			BLSKey:  blsKey(id),
			Store:   store,
			Library: lib,
			Pool:    pool,
			Submit:  rec,
			Config:  &cfg,
			Metrics: metrics.New(),
		})
		require.NoError(t, err)

		c.nodes = append(c.nodes, &clusterNode{id: id, svc: svc, store: store, rec: rec})
	}

	return c
}

// round orders every body submitted since the last round, applies it on
// every node, then reconciles.
func (c *cluster) round() {
	c.t.Helper()
	c.now = c.now.Add(time.Second)

	type ordered struct {
		creator uint64
		body    txn.Body
	}

	var txs []ordered
	for _, n := range c.nodes {
		for _, b := range n.rec.Take() {
			txs = append(txs, ordered{creator: n.id, body: b})
		}
	}

	for _, n := range c.nodes {
		for _, tx := range txs {
			require.NoError(c.t, dispatch(n.svc, tx.creator, tx.body, c.now))
		}

		require.NoError(c.t, n.svc.Reconcile(c.ar, c.now, true))
		require.NoError(c.t, n.svc.ExecuteCRSWork(c.now, true))
	}
}

// until runs rounds until cond holds.
func (c *cluster) until(what string, cond func() bool) {
	c.t.Helper()

	for range 3000 {
		if cond() {
			return
		}

		c.round()
		time.Sleep(time.Millisecond)
	}

	c.t.Fatalf("timed out waiting for %s", what)
}

func (c *cluster) allReady() bool {
	for _, n := range c.nodes {
		if !n.svc.IsReady() {
			return false
		}
	}

	return true
}

func dispatch(s *Service, creator uint64, body txn.Body, now time.Time) error {
	switch b := body.(type) {
	case txn.HintsKeyBody:
		return s.HandleHintsKey(creator, b, now)
	case txn.PreprocessingVoteBody:
		return s.HandlePreprocessingVote(creator, b)
	case txn.CRSPublicationBody:
		return s.HandleCRSPublication(creator, b, now)
	case txn.PartialSignatureBody:
		s.HandlePartialSignature(creator, b)
	}

	return nil
}

// signEverywhere asks every node to sign msg and waits for node 0's aggregate.
func (c *cluster) signEverywhere(msg []byte) []byte {
	c.t.Helper()

	var sessions []*Signing
	for _, n := range c.nodes {
		s, err := n.svc.SignFuture(msg)
		require.NoError(c.t, err)
		sessions = append(sessions, s)
	}

	c.until("aggregate signature", func() bool {
		select {
		case <-sessions[0].Done():
			return true
		default:
			return false
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	agg, err := sessions[0].Wait(ctx)
	require.NoError(c.t, err)

	return agg
}

func TestServiceBootstrapToAggregateSignature(t *testing.T) {
	c := newCluster(t, roster.NewBootstrap(genesis), 1, 2, 3)

	_, err := c.nodes[0].svc.SignFuture([]byte("early"))
	require.ErrorIs(t, err, ErrNotReady)

	c.until("scheme on every node", c.allReady)

	// Every node adopted the same scheme.
	vk, err := c.nodes[0].svc.Context().VerificationKey()
	require.NoError(t, err)
	for _, n := range c.nodes[1:] {
		other, err := n.svc.Context().VerificationKey()
		require.NoError(t, err)
		require.Equal(t, vk, other)
	}

	select {
	case hc := <-c.nodes[0].svc.Finished():
		require.True(t, hc.HasScheme())
	default:
		t.Fatal("no finished event")
	}

	msg := []byte("state root 1")
	agg := c.signEverywhere(msg)
	require.True(t, lib.VerifyAggregate(agg, msg, vk, 1, 3))
}

func TestServiceTransitionAndAdoption(t *testing.T) {
	candidate := roster.MustNew(
		roster.Entry{NodeID: 1, Weight: 10},
		roster.Entry{NodeID: 2, Weight: 10},
		roster.Entry{NodeID: 3, Weight: 10},
		roster.Entry{NodeID: 4, Weight: 10},
	)

	c := newCluster(t, roster.NewBootstrap(genesis), 1, 2, 3, 4)
	c.until("bootstrap scheme", func() bool {
		for _, n := range c.nodes[:3] {
			if !n.svc.IsReady() {
				return false
			}
		}
		return true
	})

	c.ar = roster.NewTransition(genesis, candidate)
	c.until("candidate scheme", func() bool {
		for _, n := range c.nodes {
			if !n.store.NextConstruction().HasScheme() {
				return false
			}
		}
		return true
	})

	candidateVK, ok := c.nodes[0].svc.VerificationKeyFor(c.ar)
	require.True(t, ok)
	require.Equal(t, c.nodes[0].store.NextConstruction().Scheme.VerificationKey, candidateVK)

	_, ok = c.nodes[0].svc.VerificationKeyFor(roster.NewHandoff(genesis, candidate))
	require.False(t, ok, "no construction during a handoff")

	bootstrapID, err := c.nodes[0].svc.Context().ConstructionID()
	require.NoError(t, err)

	for _, n := range c.nodes {
		ok, err := n.svc.ManageRosterAdoption(genesis, candidate)
		require.NoError(t, err)
		require.True(t, ok)

		id, err := n.svc.Context().ConstructionID()
		require.NoError(t, err)
		require.NotEqual(t, bootstrapID, id)
		require.Equal(t, n.store.ActiveConstruction().ID, id)
	}

	c.ar = roster.NewHandoff(genesis, candidate)
	c.round()

	vk, err := c.nodes[3].svc.Context().VerificationKey()
	require.NoError(t, err)

	msg := []byte("state root 2")
	agg := c.signEverywhere(msg)
	require.True(t, lib.VerifyAggregate(agg, msg, vk, 1, 3))
}
