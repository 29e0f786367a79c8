package state

import "sync"

// RoundCache is a bounded map of per-round state. Inserting past capacity
// evicts the round least recently observed (oldest LastSeen), never the
// current round. Map and current-pointer manipulation is locked; the
// RoundState values themselves stay single-writer (the ingest loop).
type RoundCache struct {
	mu       sync.RWMutex
	capacity int
	rounds   map[string]*RoundState
	current  string

	currentSnap RoundSnapshot
	hasSnap     bool
}

func NewRoundCache(capacity int) *RoundCache {
	if capacity < 1 {
		capacity = 1
	}
	return &RoundCache{
		capacity: capacity,
		rounds:   make(map[string]*RoundState, capacity),
	}
}

func (c *RoundCache) Get(roundID string) (*RoundState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.rounds[roundID]
	return rs, ok
}

// Put inserts a round, evicting if needed.
func (c *RoundCache) Put(rs *RoundState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds[rs.RoundID] = rs
	for len(c.rounds) > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *RoundCache) evictOldestLocked() {
	var oldest string
	for id, rs := range c.rounds {
		if id == c.current {
			continue
		}
		if oldest == "" || rs.LastSeen.Before(c.rounds[oldest].LastSeen) {
			oldest = id
		}
	}
	if oldest == "" {
		return
	}
	delete(c.rounds, oldest)
}

// SetCurrent marks the round now being tracked.
func (c *RoundCache) SetCurrent(roundID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = roundID
}

func (c *RoundCache) CurrentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// PublishSnapshot stores a value copy of the current round for readers
// outside the ingest loop. Only the ingest goroutine calls this; it is the
// one place a RoundState crosses the goroutine boundary.
func (c *RoundCache) PublishSnapshot(snap RoundSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentSnap = snap
	c.hasSnap = true
}

// CurrentSnapshot returns the last published copy of the current round.
func (c *RoundCache) CurrentSnapshot() (RoundSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSnap, c.hasSnap
}

func (c *RoundCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rounds)
}
