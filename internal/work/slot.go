package work

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot holds the eventual result of a submitted task.
type Slot[T any] struct {
	id   uint64        // id is the task id
	done chan struct{} // done is closed once the result is set

	mu        sync.Mutex         // mu protects cancel and callbacks
	cancel    context.CancelFunc // cancel stops the running task
	callbacks []func(T, error)   // callbacks run on completion
	abandoned atomic.Bool        // abandoned drops the result
	completed atomic.Bool        // completed guards against double completion

	value T     // value is the task result
	err   error // err is the task error
}

// newSlot returns an unresolved slot.
func newSlot[T any](id uint64) *Slot[T] {
	return &Slot[T]{id: id, done: make(chan struct{})}
}

// Completed returns a slot already resolved to v.
func Completed[T any](v T) *Slot[T] {
	s := newSlot[T](0)
	s.complete(v, nil)

	return s
}

// ID returns the task id.
func (s *Slot[T]) ID() uint64 {
	return s.id
}

// Ready reports whether the result is available.
func (s *Slot[T]) Ready() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the result is available.
func (s *Slot[T]) Done() <-chan struct{} {
	return s.done
}

// Value returns the result without blocking; ok is false while pending.
func (s *Slot[T]) Value() (v T, err error, ok bool) {
	if !s.Ready() {
		return v, nil, false
	}

	return s.value, s.err, true
}

// Wait blocks until the result is available.
func (s *Slot[T]) Wait() (T, error) {
	<-s.done
	return s.value, s.err
}

// WaitContext blocks until the result is available or ctx ends.
func (s *Slot[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Abandon marks the result as unwanted and cancels the task if running.
func (s *Slot[T]) Abandon() {
	if s.abandoned.Swap(true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Abandoned reports whether Abandon was called.
func (s *Slot[T]) Abandoned() bool {
	return s.abandoned.Load()
}

// setCancel records the running task's cancel function.
func (s *Slot[T]) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.abandoned.Load() {
		cancel()
	}
}

// onComplete registers fn to run with the result; it runs immediately if already complete.
func (s *Slot[T]) onComplete(fn func(T, error)) {
	s.mu.Lock()
	if !s.completed.Load() {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fn(s.value, s.err)
}

// complete sets the result once. Abandoned slots resolve to ErrAbandoned.
func (s *Slot[T]) complete(v T, err error) {
	if s.abandoned.Load() {
		var zero T
		v, err = zero, ErrAbandoned
	}

	s.mu.Lock()
	if s.completed.Swap(true) {
		s.mu.Unlock()
		return
	}

	s.value, s.err = v, err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
}
