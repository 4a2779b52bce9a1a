package tag

import (
	"sync"
	"time"
)

// Default bounds for the recent-match registry. Tags rotate addresses
// every few minutes, so entries older than the TTL are useless anyway.
const (
	defaultRegistryCapacity = 256
	defaultRegistryTTL      = 15 * time.Minute
)

// Registry remembers addresses that recently classified as tag matches.
//
// Membership is advisory evidence only: it lets the classifier accept a
// follow-up advertisement whose content alone is inconclusive (tags do
// not advertise identical data on every beacon interval). It is bounded
// by capacity and entry age; expired entries are swept on insertion and
// the oldest entry is evicted when full, so accept/reject semantics are
// unchanged while memory stays bounded over long uptimes.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	cap     int
	ttl     time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewRegistry creates a bounded recent-match registry.
// Non-positive capacity or TTL select the defaults.
func NewRegistry(capacity int, ttl time.Duration) *Registry {
	if capacity <= 0 {
		capacity = defaultRegistryCapacity
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	return &Registry{
		entries: make(map[string]time.Time, capacity),
		cap:     capacity,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add records an address as a recent match, refreshing it if present.
func (r *Registry) Add(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	if _, ok := r.entries[address]; !ok && len(r.entries) >= r.cap {
		r.evictOldestLocked()
	}
	r.entries[address] = now
}

// Contains reports whether the address matched within the TTL.
func (r *Registry) Contains(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.entries[address]
	if !ok {
		return false
	}
	if r.now().Sub(seen) > r.ttl {
		delete(r.entries, address)
		return false
	}
	return true
}

// Len returns the number of live entries. Expired entries still waiting
// for a sweep are counted; Len is for monitoring, not decisions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweepLocked drops entries older than the TTL. Caller holds r.mu.
func (r *Registry) sweepLocked(now time.Time) {
	for addr, seen := range r.entries {
		if now.Sub(seen) > r.ttl {
			delete(r.entries, addr)
		}
	}
}

// evictOldestLocked removes the stalest entry. Caller holds r.mu.
func (r *Registry) evictOldestLocked() {
	var (
		oldestAddr string
		oldestSeen time.Time
		first      = true
	)
	for addr, seen := range r.entries {
		if first || seen.Before(oldestSeen) {
			oldestAddr = addr
			oldestSeen = seen
			first = false
		}
	}
	if !first {
		delete(r.entries, oldestAddr)
	}
}
