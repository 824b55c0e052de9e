package metrics

import (
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

// A Snapshot is a point-in-time copy of a set of counters.
type Snapshot map[string]uint64

// Keys returns the snapshot's counter names in sorted order.
func (s Snapshot) Keys() []string {
	keys := maps.Keys(s)
	slices.Sort(keys)
	return keys
}

// Counters is a set of named, monotonically increasing counters. It is safe for concurrent use.
type Counters struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewCounters(names ...string) *Counters {
	c := &Counters{
		counts: make(map[string]uint64, len(names)),
	}
	// Pre-register names so they show up in snapshots before their first increment.
	for _, name := range names {
		c.counts[name] = 0
	}
	return c
}

// Add increases the named counter by n. Negative values are ignored.
func (c *Counters) Add(name string, n int) {
	if n < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[name] += uint64(n)
}

func (c *Counters) Get(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := make(Snapshot, len(c.counts))
	for name, count := range c.counts {
		s[name] = count
	}
	return s
}
