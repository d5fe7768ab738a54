package sequencer

import (
	"sync"

	"github.com/google/btree"
)

// roundBuffer holds rounds received out of order until the rounds before
// them arrive.
type roundBuffer struct {
	mu     sync.Mutex
	rounds *btree.BTreeG[Round] // rounds are keyed by number
	next   uint64               // next is the number of the next round to release
}

func newRoundBuffer(next uint64) *roundBuffer {
	return &roundBuffer{
		rounds: btree.NewG(16, func(a, b Round) bool { return a.Number < b.Number }),
		next:   next,
	}
}

// add stores r unless it was already released. It reports whether r is new.
func (b *roundBuffer) add(r Round) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Number < b.next {
		return false
	}

	_, replaced := b.rounds.ReplaceOrInsert(r)

	return !replaced
}

// release removes and returns the rounds that continue the sequence.
func (b *roundBuffer) release() []Round {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Round
	for {
		first, ok := b.rounds.Min()
		if !ok || first.Number != b.next {
			return out
		}

		b.rounds.DeleteMin()
		out = append(out, first)
		b.next++
	}
}

// gap returns the range of missing rounds before the first buffered one.
// To is zero when nothing is buffered, meaning the gap is open-ended.
func (b *roundBuffer) gap() (replayRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first, ok := b.rounds.Min()
	if !ok {
		return replayRequest{From: b.next}, false
	}

	if first.Number == b.next {
		return replayRequest{}, false
	}

	return replayRequest{From: b.next, To: first.Number - 1}, true
}

// nextNumber returns the number of the next round to release.
func (b *roundBuffer) nextNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.next
}

// len returns the number of buffered rounds.
func (b *roundBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rounds.Len()
}
