package network

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a message hash suppresses repeats.
	defaultDedupTTL = 5 * time.Second

	// defaultDedupSize bounds the number of remembered hashes.
	defaultDedupSize = 1 << 16
)

// Dedup remembers recently seen messages by blake3 hash. Old entries fall
// out by age or, under load, by recency.
type Dedup struct {
	seen *lru.Cache    // seen maps a message hash to when it was first seen
	ttl  time.Duration // ttl is how long a hash suppresses repeats
	now  func() time.Time
}

// NewDedup creates a tracker remembering up to size hashes for ttl.
func NewDedup(size int, ttl time.Duration) *Dedup {
	cache, err := lru.New(size)
	if err != nil {
		panic(err) // only for a non-positive size
	}

	return &Dedup{seen: cache, ttl: ttl, now: time.Now}
}

// Check reports whether data is new and records it.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := d.now()

	if at, ok := d.seen.Get(hash); ok && now.Sub(at.(time.Time)) < d.ttl {
		return false
	}

	// ContainsOrAdd closes the race between two streams carrying the same
	// message; an expired entry is refreshed.
	if found, _ := d.seen.ContainsOrAdd(hash, now); found {
		if at, ok := d.seen.Peek(hash); ok && now.Sub(at.(time.Time)) < d.ttl {
			return false
		}
		d.seen.Add(hash, now)
	}

	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	return d.seen.Len()
}
