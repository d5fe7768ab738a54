package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"Tessera/internal/logger"
)

// ErrClosed is returned by Submit once the sequencer has stopped.
var ErrClosed = errors.New("sequencer: closed")

// Sequencer is the single orderer. Transactions submitted between two cuts
// form one round; every subscriber receives every round.
type Sequencer struct {
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	cut sync.Mutex // cut serializes round production and delivery

	mu      sync.Mutex
	pending [][]byte     // pending are the transactions of the next round
	number  uint64       // number is the last round number cut
	last    time.Time    // last is the time of the last round
	subs    []chan Round // subs are the subscriber channels
	closed  bool
}

// New returns a sequencer cutting a round every interval once Run starts.
func New(interval time.Duration) *Sequencer {
	return &Sequencer{
		interval: interval,
		now:      time.Now,
		log:      logger.Component("sequencer"),
	}
}

// Submit queues a sealed transaction for the next round.
func (s *Sequencer) Submit(ctx context.Context, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := make([]byte, len(tx))
	copy(cp, tx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.pending = append(s.pending, cp)

	return nil
}

// Subscribe returns a channel receiving every round cut after the call.
// The channel is closed when Run returns. A subscriber that stops reading
// stalls the sequencer.
func (s *Sequencer) Subscribe(buffer int) <-chan Round {
	ch := make(chan Round, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch
	}

	s.subs = append(s.subs, ch)

	return ch
}

// Cut closes the pending transactions into a round and delivers it to every
// subscriber. Empty rounds are cut too: they carry consensus time forward.
func (s *Sequencer) Cut(ctx context.Context) (Round, error) {
	s.cut.Lock()
	defer s.cut.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Round{}, ErrClosed
	}

	at := s.now().UTC().Truncate(time.Millisecond)
	if !at.After(s.last) {
		at = s.last.Add(time.Millisecond)
	}

	s.number++
	s.last = at

	round := Round{Number: s.number, Time: at, Txs: s.pending}
	s.pending = nil
	subs := append([]chan Round(nil), s.subs...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- round:
		case <-ctx.Done():
			return round, ctx.Err()
		}
	}

	if len(round.Txs) > 0 {
		s.log.Debug("round cut", "round", round.Number, "txs", len(round.Txs))
	}

	return round, nil
}

// Run cuts rounds until ctx is done, then closes the subscriptions.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.close()

	s.log.Info("sequencer started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Cut(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func (s *Sequencer) close() {
	s.cut.Lock()
	defer s.cut.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}
