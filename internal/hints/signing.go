package hints

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Tessera/internal/roster"
	"Tessera/internal/state"
)

var (
	// ErrNotReady is returned by signing entry points before a scheme is installed.
	ErrNotReady = errors.New("hints: no scheme installed")

	// ErrSigningExpired is returned when a session times out before completing.
	ErrSigningExpired = errors.New("hints: signing attempt expired")
)

// Context holds the scheme currently used for signing and the CRS it was
// preprocessed against.
type Context struct {
	lib Library

	mu           sync.RWMutex
	crs          []byte                   // crs is the completed CRS
	construction *state.HintsConstruction // construction is the installed construction, nil if none
}

// NewContext returns an empty signing context.
func NewContext(lib Library) *Context {
	return &Context{lib: lib}
}

// SetCRS installs the completed CRS.
func (c *Context) SetCRS(crs []byte) {
	c.mu.Lock()
	c.crs = crs
	c.mu.Unlock()
}

// CRS returns the installed CRS, or nil.
func (c *Context) CRS() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.crs
}

// SetConstruction installs a construction's scheme. Installing a
// construction without a scheme is a programming error.
func (c *Context) SetConstruction(hc state.HintsConstruction) {
	if !hc.HasScheme() {
		panic(fmt.Sprintf("hints: construction %d has no scheme", hc.ID))
	}

	c.mu.Lock()
	c.construction = &hc
	c.mu.Unlock()
}

// IsReady reports whether messages can be signed.
func (c *Context) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.crs != nil && c.construction != nil
}

// ConstructionID returns the id of the installed construction.
func (c *Context) ConstructionID() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.construction == nil {
		return 0, ErrNotReady
	}

	return c.construction.ID, nil
}

// VerificationKey returns the installed scheme's verification key.
func (c *Context) VerificationKey() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.construction == nil {
		return nil, ErrNotReady
	}

	return c.construction.Scheme.VerificationKey, nil
}

// Validate checks a node's partial signature on message under the installed
// scheme. It is false without a scheme, for another construction, or for a
// node outside the scheme.
func (c *Context) Validate(nodeID, constructionID uint64, message, signature []byte) bool {
	c.mu.RLock()
	crs, hc := c.crs, c.construction
	c.mu.RUnlock()

	if crs == nil || hc == nil || hc.ID != constructionID {
		return false
	}

	party, ok := hc.Scheme.NodePartyIDs[nodeID]
	if !ok {
		return false
	}

	return c.lib.VerifyBLS(crs, signature, message, hc.Scheme.AggregationKey, party)
}

// NewSigning opens a session collecting partial signatures on message. The
// session completes once signers hold at least a third of the current
// roster's weight. onFinish runs once, on completion or after timeout, and
// is told whether the session completed.
func (c *Context) NewSigning(message []byte, current *roster.Roster, timeout time.Duration, onFinish func(completed bool)) (*Signing, error) {
	c.mu.RLock()
	crs, hc := c.crs, c.construction
	c.mu.RUnlock()

	if crs == nil || hc == nil {
		return nil, ErrNotReady
	}

	s := &Signing{
		lib:             c.lib,
		crs:             crs,
		constructionID:  hc.ID,
		aggregationKey:  hc.Scheme.AggregationKey,
		verificationKey: hc.Scheme.VerificationKey,
		partyIDs:        hc.Scheme.NodePartyIDs,
		message:         bytes.Clone(message),
		current:         current,
		threshold:       roster.AtLeastOneThirdOfTotal(current.TotalWeight()),
		signatures:      make(map[int][]byte),
		done:            make(chan struct{}),
		expired:         make(chan struct{}),
		onFinish:        onFinish,
	}

	s.timer = time.AfterFunc(timeout, s.expire)

	return s, nil
}

// Signing collects partial signatures on one message until their signers
// reach the threshold, then aggregates them exactly once.
type Signing struct {
	lib             Library        // lib aggregates the partial signatures
	crs             []byte         // crs is the CRS the scheme was built on
	constructionID  uint64         // constructionID is the construction whose scheme signs
	aggregationKey  []byte         // aggregationKey is the scheme's aggregation key
	verificationKey []byte         // verificationKey is the scheme's verification key
	partyIDs        map[uint64]int // partyIDs maps scheme nodes to parties
	message         []byte         // message is the message being signed
	current         *roster.Roster // current weighs the signers
	threshold       uint64         // threshold is the signer weight that completes the session

	mu         sync.Mutex
	signatures map[int][]byte // signatures by party id
	weight     uint64         // weight is the current weight of the signers so far
	completed  bool           // completed is set once the aggregate is computed
	timedOut   bool           // timedOut is set when the session expired first
	finished   bool           // finished is set once onFinish ran
	signature  []byte         // signature is the aggregate, once completed
	err        error          // err is the aggregation error, if any

	done     chan struct{}        // done is closed on completion
	expired  chan struct{}        // expired is closed on timeout before completion
	timer    *time.Timer          // timer fires expire
	onFinish func(completed bool) // onFinish is told once how the session ended
}

// Message returns the message being signed.
func (s *Signing) Message() []byte {
	return s.message
}

// ConstructionID returns the construction whose scheme signs.
func (s *Signing) ConstructionID() uint64 {
	return s.constructionID
}

// Done returns a channel closed once the aggregate is available.
func (s *Signing) Done() <-chan struct{} {
	return s.done
}

// Incorporate adds a verified partial signature. It reports whether this
// signature completed the session. Signatures after completion, from nodes
// outside the scheme, or repeated for a party are ignored, as are all
// signatures once the session expired.
func (s *Signing) Incorporate(nodeID uint64, signature []byte) bool {
	s.mu.Lock()

	if s.completed || s.timedOut {
		s.mu.Unlock()
		return false
	}

	party, ok := s.partyIDs[nodeID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if _, dup := s.signatures[party]; dup {
		s.mu.Unlock()
		return false
	}

	s.signatures[party] = signature
	s.weight += s.current.WeightOf(nodeID)

	if s.weight < s.threshold {
		s.mu.Unlock()
		return false
	}

	s.completed = true
	s.signature, s.err = s.lib.AggregateSignatures(s.crs, s.aggregationKey, s.verificationKey, s.signatures)
	s.timer.Stop()
	close(s.done)
	s.mu.Unlock()

	s.finish(true)

	return true
}

// Wait blocks until the aggregate is available, the session expires, or ctx ends.
func (s *Signing) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return s.signature, s.err
	case <-s.expired:
		return nil, ErrSigningExpired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// expire ends an unfinished session.
func (s *Signing) expire() {
	s.mu.Lock()
	completed := s.completed
	if !completed && !s.timedOut {
		s.timedOut = true
		close(s.expired)
	}
	s.mu.Unlock()

	s.finish(completed)
}

// finish runs onFinish once.
func (s *Signing) finish(completed bool) {
	s.mu.Lock()
	first := !s.finished
	s.finished = true
	s.mu.Unlock()

	if first && s.onFinish != nil {
		s.onFinish(completed)
	}
}

// signingKey identifies a session.
type signingKey struct {
	constructionID uint64
	message        string
}

// signings tracks open sessions so partial signatures from other nodes find
// the session for their message.
type signings struct {
	mu       sync.Mutex
	sessions map[signingKey]*Signing
}

func newSignings() *signings {
	return &signings{sessions: make(map[signingKey]*Signing)}
}

// getOrCreate returns the open session for key, creating it with create.
func (r *signings) getOrCreate(key signingKey, create func(onFinish func()) (*Signing, error)) (*Signing, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}

	var s *Signing
	s, err := create(func() { r.remove(key, s) })
	if err != nil {
		return nil, false, err
	}

	r.sessions[key] = s

	return s, true, nil
}

// remove drops the session if it is still the one registered for key.
func (r *signings) remove(key signingKey, s *Signing) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// len returns the number of open sessions.
func (r *signings) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
