// Package work runs expensive computations off the round-apply goroutine.
//
// A Pool drains an unbounded task queue with a fixed set of workers. Each
// submission returns a Slot that the caller polls or waits on. Abandoning a
// slot skips the task if it has not started and drops its result otherwise.
package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"Tessera/internal/logger"
)

var (
	// ErrAbandoned is the error of a slot whose result was abandoned.
	ErrAbandoned = errors.New("work: abandoned")

	// ErrClosed is the error of a slot submitted after Close.
	ErrClosed = errors.New("work: pool closed")

	// ErrPanicked is the error of a slot whose task panicked.
	ErrPanicked = errors.New("work: task panicked")
)

// task is one queued unit of work.
type task struct {
	id  uint64                   // id is the pool-wide task id
	run func(ctx context.Context) // run executes the task, completing its slot
}

// Pool executes tasks on a fixed number of workers.
type Pool struct {
	mu     sync.Mutex // mu protects queue and closed
	cond   *sync.Cond // cond wakes workers when tasks arrive or the pool closes
	queue  []task     // queue holds pending tasks in submission order
	closed bool       // closed rejects new submissions

	nextID atomic.Uint64 // nextID allocates task ids

	ctx    context.Context    // ctx is cancelled on Close
	cancel context.CancelFunc // cancel stops in-flight tasks
	group  *errgroup.Group    // group tracks worker goroutines
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	p := &Pool{ctx: gctx, cancel: cancel, group: g}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		g.Go(p.worker)
	}

	return p
}

// worker pulls tasks until the pool closes.
func (p *Pool) worker() error {
	for {
		t, ok := p.next()
		if !ok {
			return nil
		}

		p.runTask(t)
	}
}

// runTask executes one task, containing panics to that task.
func (p *Pool) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("work task panicked", "task", t.id, "panic", r)
		}
	}()

	t.run(p.ctx)
}

// guard runs fn, turning a panic into an ErrPanicked result so the slot
// still resolves.
func guard[T any](id uint64, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("work task panicked", "task", id, "panic", r)

			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()

	return fn()
}

// next blocks until a task is available or the pool closes.
func (p *Pool) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}

	if p.closed {
		return task{}, false
	}

	t := p.queue[0]
	p.queue[0] = task{}
	p.queue = p.queue[1:]

	return t, true
}

// enqueue appends a task; it never blocks the caller.
func (p *Pool) enqueue(t task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.queue = append(p.queue, t)
	p.cond.Signal()

	return true
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// Close stops the workers and waits for running tasks to return.
// Queued tasks never run; their slots stay unresolved.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}

	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()

	return p.group.Wait()
}

// Go submits fn and returns the slot that will hold its result.
func Go[T any](p *Pool, fn func(ctx context.Context) (T, error)) *Slot[T] {
	s := newSlot[T](p.nextID.Add(1))

	ok := p.enqueue(task{id: s.id, run: func(ctx context.Context) {
		if s.abandoned.Load() {
			s.complete(*new(T), ErrAbandoned)
			return
		}

		tctx, cancel := context.WithCancel(ctx)
		s.setCancel(cancel)
		defer cancel()

		v, err := guard(s.id, func() (T, error) { return fn(tctx) })
		s.complete(v, err)
	}})

	if !ok {
		s.complete(*new(T), ErrClosed)
	}

	return s
}

// Then schedules fn on the result of s once s completes, without holding a
// worker while s is pending. Errors of s propagate without running fn.
func Then[T, U any](p *Pool, s *Slot[T], fn func(ctx context.Context, v T) (U, error)) *Slot[U] {
	out := newSlot[U](p.nextID.Add(1))

	s.onComplete(func(v T, err error) {
		if err != nil {
			out.complete(*new(U), err)
			return
		}

		ok := p.enqueue(task{id: out.id, run: func(ctx context.Context) {
			if out.abandoned.Load() {
				out.complete(*new(U), ErrAbandoned)
				return
			}

			tctx, cancel := context.WithCancel(ctx)
			out.setCancel(cancel)
			defer cancel()

			u, err := guard(out.id, func() (U, error) { return fn(tctx, v) })
			out.complete(u, err)
		}})

		if !ok {
			out.complete(*new(U), ErrClosed)
		}
	})

	return out
}
