// Package submit carries controller output back into the ordered stream.
package submit

import (
	"context"
	"fmt"
	"sync"

	"Tessera/internal/txn"
)

// Channel submits transaction bodies on behalf of this node.
// Submission is fire-and-forget: an error means the body was not handed
// to the orderer and the caller may try again on a later round.
type Channel interface {
	Submit(ctx context.Context, body txn.Body) error
}

// Sink delivers a sealed transaction to the orderer.
type Sink func(ctx context.Context, tx []byte) error

// Sealer seals bodies with the node id and hands them to a sink.
type Sealer struct {
	nodeID uint64 // nodeID is the creator stamped on every envelope
	sink   Sink   // sink delivers sealed transactions
}

// New returns a channel that seals as nodeID and delivers to sink.
func New(nodeID uint64, sink Sink) *Sealer {
	return &Sealer{nodeID: nodeID, sink: sink}
}

// Submit seals and delivers body.
func (s *Sealer) Submit(ctx context.Context, body txn.Body) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.sink(ctx, txn.Seal(s.nodeID, body)); err != nil {
		return fmt.Errorf("submit %s:\n%w", body.Kind(), err)
	}

	return nil
}

// Recorder is a Channel that keeps submitted bodies in memory.
type Recorder struct {
	mu     sync.Mutex
	bodies []txn.Body
	err    error // err is returned by every Submit when set
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Submit records body.
func (r *Recorder) Submit(ctx context.Context, body txn.Body) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.bodies = append(r.bodies, body)

	return nil
}

// FailWith makes later submissions fail with err (nil to succeed again).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Bodies returns the recorded bodies of the given kind.
func (r *Recorder) Bodies(kind txn.Kind) []txn.Body {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []txn.Body
	for _, b := range r.bodies {
		if b.Kind() == kind {
			out = append(out, b)
		}
	}

	return out
}

// Len returns the number of recorded bodies.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.bodies)
}

// Take returns the bodies recorded since the last call and forgets them.
func (r *Recorder) Take() []txn.Body {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.bodies
	r.bodies = nil

	return out
}
