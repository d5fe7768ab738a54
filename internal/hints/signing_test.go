package hints

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Tessera/internal/roster"
	"Tessera/internal/state"
)

// skewed has total weight 30 and signing threshold 10.
var skewed = roster.MustNew(
	roster.Entry{NodeID: 1, Weight: 5},
	roster.Entry{NodeID: 2, Weight: 5},
	roster.Entry{NodeID: 3, Weight: 20},
)

// readyContext installs a scheme preprocessed from the keys of r's nodes,
// with node i holding party i.
func readyContext(t *testing.T, r *roster.Roster) (*Context, state.HintsConstruction) {
	t.Helper()

	crs := lib.NewCRS(8)
	n := roster.PartySize(r.Size())

	keys := make(map[int][]byte)
	weights := make(map[int]uint64)
	parties := make(map[uint64]int)

	for _, id := range r.NodeIDs() {
		key, err := lib.ComputeHints(crs, blsKey(id), int(id), n)
		require.NoError(t, err)

		keys[int(id)] = key
		weights[int(id)] = r.WeightOf(id)
		parties[id] = int(id)
	}

	out, err := lib.Preprocess(crs, keys, weights, n)
	require.NoError(t, err)

	hc := state.HintsConstruction{
		ID: 5,
		Scheme: &state.HintsScheme{
			AggregationKey:  out.AggregationKey,
			VerificationKey: out.VerificationKey,
			NodePartyIDs:    parties,
		},
	}

	c := NewContext(lib)
	c.SetCRS(crs)
	c.SetConstruction(hc)

	return c, hc
}

func sign(t *testing.T, node uint64, msg []byte) []byte {
	t.Helper()

	sig, err := lib.SignBLS(msg, blsKey(node))
	require.NoError(t, err)

	return sig
}

func TestContextRejectsConstructionWithoutScheme(t *testing.T) {
	c := NewContext(lib)

	require.Panics(t, func() { c.SetConstruction(state.HintsConstruction{ID: 1}) })
	require.False(t, c.IsReady())

	_, err := c.ConstructionID()
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.VerificationKey()
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.NewSigning([]byte("m"), skewed, time.Second, nil)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestContextValidate(t *testing.T) {
	c, hc := readyContext(t, skewed)
	msg := []byte("block 12")

	require.True(t, c.Validate(1, hc.ID, msg, sign(t, 1, msg)))
	require.False(t, c.Validate(1, hc.ID+1, msg, sign(t, 1, msg)))
	require.False(t, c.Validate(2, hc.ID, msg, sign(t, 1, msg)))
	require.False(t, c.Validate(9, hc.ID, msg, sign(t, 1, msg)))
	require.False(t, NewContext(lib).Validate(1, hc.ID, msg, sign(t, 1, msg)))
}

func TestSigningCompletesExactlyOnce(t *testing.T) {
	c, hc := readyContext(t, skewed)
	msg := []byte("block 13")

	var outcomes []bool
	s, err := c.NewSigning(msg, skewed, time.Minute, func(completed bool) { outcomes = append(outcomes, completed) })
	require.NoError(t, err)

	require.False(t, s.Incorporate(1, sign(t, 1, msg)))
	require.False(t, s.Incorporate(1, sign(t, 1, msg)), "repeated party must not add weight")
	require.True(t, s.Incorporate(2, sign(t, 2, msg)))
	require.False(t, s.Incorporate(3, sign(t, 3, msg)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	agg, err := s.Wait(ctx)
	require.NoError(t, err)
	require.True(t, lib.VerifyAggregate(agg, msg, hc.Scheme.VerificationKey, 1, 3))
	require.Equal(t, []bool{true}, outcomes)
}

func TestSigningIgnoresNodesOutsideScheme(t *testing.T) {
	c, _ := readyContext(t, skewed)

	s, err := c.NewSigning([]byte("m"), skewed, time.Minute, nil)
	require.NoError(t, err)

	require.False(t, s.Incorporate(42, []byte("sig")))
}

func TestSigningExpires(t *testing.T) {
	c, _ := readyContext(t, skewed)

	finished := make(chan bool, 1)
	s, err := c.NewSigning([]byte("m"), skewed, 10*time.Millisecond, func(completed bool) { finished <- completed })
	require.NoError(t, err)

	_, err = s.Wait(context.Background())
	require.ErrorIs(t, err, ErrSigningExpired)
	require.False(t, <-finished)
}

func TestSigningIgnoresSignaturesAfterExpiry(t *testing.T) {
	c, _ := readyContext(t, skewed)
	msg := []byte("late block")

	finished := make(chan bool, 2)
	s, err := c.NewSigning(msg, skewed, 10*time.Millisecond, func(completed bool) { finished <- completed })
	require.NoError(t, err)

	require.False(t, <-finished)

	// Node 3 alone carries the threshold.
	require.False(t, s.Incorporate(3, sign(t, 3, msg)))

	select {
	case <-s.Done():
		t.Fatal("expired session completed")
	default:
	}

	for range 50 {
		_, err = s.Wait(context.Background())
		require.ErrorIs(t, err, ErrSigningExpired)
	}
	require.Empty(t, finished)
}

func TestSigningsRegistry(t *testing.T) {
	c, hc := readyContext(t, skewed)
	r := newSignings()
	key := signingKey{constructionID: hc.ID, message: "m"}

	create := func(onFinish func()) (*Signing, error) {
		return c.NewSigning([]byte("m"), skewed, time.Minute, func(bool) { onFinish() })
	}

	s1, created, err := r.getOrCreate(key, create)
	require.NoError(t, err)
	require.True(t, created)

	s2, created, err := r.getOrCreate(key, create)
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, s1, s2)

	require.True(t, s1.Incorporate(3, sign(t, 3, []byte("m"))))
	require.Zero(t, r.len())
}
