package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Tessera/internal/api"
	"Tessera/internal/engine"
	"Tessera/internal/hints"
)

type fakeNode struct {
	round atomic.Uint64
	err   error
}

func (f *fakeNode) Status() engine.Status {
	return engine.Status{
		NodeID:       7,
		Round:        f.round.Load(),
		Phase:        "BOOTSTRAP",
		SigningReady: f.round.Load() >= 3,
		Hints: []engine.ConstructionStatus{
			{Slot: "active", ID: 1, Complete: true},
		},
	}
}

func (f *fakeNode) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	return append([]byte("sig:"), message...), nil
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()

	srv := httptest.NewServer(api.New("", node, node, nil).Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestNewAddsScheme(t *testing.T) {
	require.Equal(t, "http://127.0.0.1:8080", New("127.0.0.1:8080").baseURL)
	require.Equal(t, "https://node.example", New("https://node.example/").baseURL)
}

func TestHealthAndStatus(t *testing.T) {
	node := &fakeNode{}
	node.round.Store(2)
	c := newTestClient(t, node)

	require.NoError(t, c.Health(context.Background()))

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), st.NodeID)
	require.Equal(t, uint64(2), st.Round)
	require.Len(t, st.Hints, 1)
	require.True(t, st.Hints[0].Complete)
}

func TestSign(t *testing.T) {
	c := newTestClient(t, &fakeNode{})

	sig, err := c.Sign(context.Background(), []byte("root"), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("sig:root"), sig)
}

func TestSignReportsNodeError(t *testing.T) {
	c := newTestClient(t, &fakeNode{err: hints.ErrNotReady})

	_, err := c.Sign(context.Background(), []byte("root"), 0)
	require.Error(t, err)
	require.True(t, IsUnavailable(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.Code)
	require.NotEmpty(t, se.Message)
}

func TestWaitFor(t *testing.T) {
	node := &fakeNode{}
	c := newTestClient(t, node)

	go func() {
		for range 3 {
			time.Sleep(5 * time.Millisecond)
			node.round.Add(1)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.WaitFor(ctx, time.Millisecond, func(s engine.Status) bool { return s.SigningReady })
	require.NoError(t, err)
	require.GreaterOrEqual(t, st.Round, uint64(3))
}

func TestWaitForTimesOut(t *testing.T) {
	c := newTestClient(t, &fakeNode{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.WaitFor(ctx, time.Millisecond, func(s engine.Status) bool { return false })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL).Status(context.Background())
	require.Error(t, err)
}
