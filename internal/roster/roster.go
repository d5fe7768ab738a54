package roster

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"
)

// Hash identifies a roster by the blake3 digest of its sorted entries.
type Hash [32]byte

// IsZero returns true for the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns a short hex prefix suitable for logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:6])
}

// Entry is one node of a roster.
type Entry struct {
	NodeID  uint64 // NodeID is the stable identifier of the node
	Weight  uint64 // Weight is the node's consensus weight
	Address string // Address is the node's QUIC endpoint, informational only
}

// Roster is an immutable, node-id ordered set of weighted entries.
type Roster struct {
	entries []Entry        // entries sorted by NodeID
	index   map[uint64]int // index maps node id to its position in entries
	total   uint64         // total is the sum of all weights
	hash    Hash           // hash is computed once at construction
}

// New validates and sorts the entries into a Roster.
func New(entries []Entry) (*Roster, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("roster has no entries")
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		switch {
		case a.NodeID < b.NodeID:
			return -1
		case a.NodeID > b.NodeID:
			return 1
		}
		return 0
	})

	r := &Roster{
		entries: sorted,
		index:   make(map[uint64]int, len(sorted)),
	}

	for i, e := range sorted {
		if _, dup := r.index[e.NodeID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", e.NodeID)
		}

		if e.Weight == 0 {
			return nil, fmt.Errorf("node %d has zero weight", e.NodeID)
		}

		r.index[e.NodeID] = i
		r.total += e.Weight
	}

	r.hash = hashEntries(sorted)

	return r, nil
}

// MustNew is New for static rosters; it panics on invalid input.
func MustNew(entries ...Entry) *Roster {
	r, err := New(entries)
	if err != nil {
		panic(err)
	}

	return r
}

// hashEntries digests (node id, weight) pairs in order.
func hashEntries(entries []Entry) Hash {
	h := blake3.New()

	var buf [16]byte
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[0:8], e.NodeID)
		binary.BigEndian.PutUint64(buf[8:16], e.Weight)
		h.Write(buf[:])
	}

	var out Hash
	h.Sum(out[:0])

	return out
}

// Hash returns the roster hash.
func (r *Roster) Hash() Hash {
	return r.hash
}

// Entries returns a copy of the sorted entries.
func (r *Roster) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Size returns the number of nodes.
func (r *Roster) Size() int {
	return len(r.entries)
}

// TotalWeight returns the sum of all node weights.
func (r *Roster) TotalWeight() uint64 {
	return r.total
}

// Contains reports whether the node is in the roster.
func (r *Roster) Contains(nodeID uint64) bool {
	_, ok := r.index[nodeID]
	return ok
}

// WeightOf returns the node's weight, or zero if absent.
func (r *Roster) WeightOf(nodeID uint64) uint64 {
	i, ok := r.index[nodeID]
	if !ok {
		return 0
	}

	return r.entries[i].Weight
}

// NodeIDs returns the node ids in ascending order.
func (r *Roster) NodeIDs() []uint64 {
	ids := make([]uint64, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.NodeID
	}

	return ids
}

// IsWeightRotation reports whether other has exactly the same node ids as r.
func (r *Roster) IsWeightRotation(other *Roster) bool {
	if len(r.entries) != len(other.entries) {
		return false
	}

	for _, e := range r.entries {
		if !other.Contains(e.NodeID) {
			return false
		}
	}

	return true
}
