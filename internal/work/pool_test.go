package work

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	s := Go(p, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	v, err := s.Wait()
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.True(t, s.Ready())
}

func TestPoolPropagatesErrors(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	boom := errors.New("boom")
	s := Go(p, func(ctx context.Context) (int, error) {
		return 0, boom
	})

	_, err := s.Wait()
	require.ErrorIs(t, err, boom)
}

func TestSlotValueBeforeReady(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	s := Go(p, func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	})

	_, _, ok := s.Value()
	require.False(t, ok)

	close(release)
	<-s.Done()

	v, err, ok := s.Value()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, "done", v)
}

func TestAbandonBeforeStartSkipsTask(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	blocker := Go(p, func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})

	var ran atomic.Bool
	s := Go(p, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	s.Abandon()
	close(release)

	_, err := blocker.Wait()
	require.NoError(t, err)

	_, err = s.Wait()
	require.ErrorIs(t, err, ErrAbandoned)
	require.False(t, ran.Load())
}

func TestAbandonCancelsRunningTask(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	started := make(chan struct{})
	s := Go(p, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 7, nil
	})

	<-started
	s.Abandon()

	_, err := s.Wait()
	require.ErrorIs(t, err, ErrAbandoned)
	require.True(t, s.Abandoned())
}

func TestThenChainsWithoutBlockingWorker(t *testing.T) {
	// A single worker must not deadlock while the parent is pending.
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	parent := Go(p, func(ctx context.Context) (int, error) {
		<-release
		return 2, nil
	})

	child := Then(p, parent, func(ctx context.Context, v int) (int, error) {
		return v * 10, nil
	})

	require.False(t, child.Ready())
	close(release)

	v, err := child.Wait()
	require.NoError(t, err)
	require.Equal(t, 20, v)
}

func TestThenSkipsOnParentError(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	boom := errors.New("boom")
	parent := Go(p, func(ctx context.Context) (int, error) {
		return 0, boom
	})

	var ran atomic.Bool
	child := Then(p, parent, func(ctx context.Context, v int) (int, error) {
		ran.Store(true)
		return v, nil
	})

	_, err := child.Wait()
	require.ErrorIs(t, err, boom)
	require.False(t, ran.Load())
}

func TestThenOnCompletedSlot(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	child := Then(p, Completed("seed"), func(ctx context.Context, v string) (string, error) {
		return v + "-next", nil
	})

	v, err := child.Wait()
	require.NoError(t, err)
	require.Equal(t, "seed-next", v)
}

func TestGoAfterClose(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Close())

	s := Go(p, func(ctx context.Context) (int, error) {
		return 1, nil
	})

	_, err := s.Wait()
	require.ErrorIs(t, err, ErrClosed)
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	bad := Go(p, func(ctx context.Context) (int, error) {
		panic("bad task")
	})

	chained := Then(p, Completed(1), func(ctx context.Context, v int) (int, error) {
		panic("bad continuation")
	})

	s := Go(p, func(ctx context.Context) (int, error) {
		return 3, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := bad.WaitContext(ctx)
	require.ErrorIs(t, err, ErrPanicked)
	require.ErrorContains(t, err, "bad task")

	_, err = chained.WaitContext(ctx)
	require.ErrorIs(t, err, ErrPanicked)

	v, err := s.WaitContext(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}
