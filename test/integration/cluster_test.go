package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Tessera/internal/engine"
)

func genesisMembers(ids ...uint64) []Member {
	members := make([]Member, len(ids))
	for i, id := range ids {
		members[i] = Member{ID: id, Weight: 10, Genesis: true}
	}

	return members
}

func signingReady(st engine.Status) bool {
	return st.SigningReady && st.LedgerID != ""
}

// TestClusterBootstrapAndSign brings up three genesis nodes and signs once
// the bootstrap scheme and proof exist.
func TestClusterBootstrapAndSign(t *testing.T) {
	c := NewCluster(t, genesisMembers(1, 2, 3), false)

	statuses := c.WaitAll("bootstrap scheme and proof", 2*time.Minute, signingReady)

	ledgerID := statuses[1].LedgerID
	for id, st := range statuses {
		require.Equal(t, ledgerID, st.LedgerID, "node %d ledger id", id)
		require.Equal(t, "BOOTSTRAP", st.Phase)
		require.True(t, st.Active)
	}

	for _, n := range c.Nodes() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		sig, err := n.Client().Sign(ctx, []byte("block 42"), 20*time.Second)
		cancel()

		require.NoError(t, err, "node %d", n.ID())
		require.NotEmpty(t, sig)
	}
}

// TestClusterRosterHandoff adds a fourth node through a candidate roster and
// hands off once its constructions complete.
func TestClusterRosterHandoff(t *testing.T) {
	members := []Member{
		{ID: 1, Weight: 10, Genesis: true, Candidate: true},
		{ID: 2, Weight: 10, Genesis: true, Candidate: true},
		{ID: 3, Weight: 10, Genesis: true, Candidate: true},
		{ID: 4, Weight: 10, Candidate: true},
	}

	c := NewCluster(t, members, true)

	before := c.WaitAll("bootstrap", 2*time.Minute, signingReady)
	ledgerID := before[1].LedgerID

	after := c.WaitAll("handoff", 3*time.Minute, func(st engine.Status) bool {
		return st.Phase == "HANDOFF" && st.SigningReady
	})

	for id, st := range after {
		require.Equal(t, ledgerID, st.LedgerID, "node %d keeps the ledger id", id)
		require.True(t, st.Active)
		require.Equal(t, after[1].Source, st.Source)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sig, err := c.Node(4).Client().Sign(ctx, []byte("after handoff"), 20*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

// TestReplicaRestartResumes restarts a replica and checks it resumes from
// its stored round and keeps its constructions.
func TestReplicaRestartResumes(t *testing.T) {
	c := NewCluster(t, genesisMembers(1, 2, 3), false)

	before := c.WaitAll("bootstrap", 2*time.Minute, signingReady)

	replica := c.Node(3)
	c.Restart(replica)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := replica.Client().WaitFor(ctx, 200*time.Millisecond, func(st engine.Status) bool {
		return st.Round > before[3].Round
	})
	require.NoError(t, err)
	require.Equal(t, before[3].LedgerID, st.LedgerID)
	require.True(t, st.SigningReady)
}
