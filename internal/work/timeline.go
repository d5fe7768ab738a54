package work

import (
	"time"

	"github.com/google/btree"
)

// entry is one timeline element; seq breaks ties between equal times.
type entry[V any] struct {
	at    time.Time
	seq   uint64
	value V
}

// Timeline is a time-ordered multimap supporting prefix queries.
// It is not safe for concurrent use.
type Timeline[V any] struct {
	tree *btree.BTreeG[entry[V]] // tree orders entries by (at, seq)
	seq  uint64                  // seq is the next insertion sequence
}

// NewTimeline returns an empty timeline.
func NewTimeline[V any]() *Timeline[V] {
	less := func(a, b entry[V]) bool {
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}

		return a.seq < b.seq
	}

	return &Timeline[V]{tree: btree.NewG(8, less)}
}

// Put inserts v at time at; equal times keep insertion order.
func (t *Timeline[V]) Put(at time.Time, v V) {
	t.tree.ReplaceOrInsert(entry[V]{at: at, seq: t.seq, value: v})
	t.seq++
}

// Len returns the number of entries.
func (t *Timeline[V]) Len() int {
	return t.tree.Len()
}

// Prefix visits entries with time not after cutoff, in order, until fn returns false.
func (t *Timeline[V]) Prefix(cutoff time.Time, fn func(at time.Time, v V) bool) {
	t.tree.Ascend(func(e entry[V]) bool {
		if e.at.After(cutoff) {
			return false
		}

		return fn(e.at, e.value)
	})
}

// All visits every entry in order until fn returns false.
func (t *Timeline[V]) All(fn func(at time.Time, v V) bool) {
	t.tree.Ascend(func(e entry[V]) bool {
		return fn(e.at, e.value)
	})
}

// Values returns all values in order.
func (t *Timeline[V]) Values() []V {
	out := make([]V, 0, t.tree.Len())
	t.All(func(_ time.Time, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}
