package auth

import (
	"sync"
	"time"
)

// NonceCache tracks the nonces of outstanding authorization
// tokens. A nonce is live from Issue until it is consumed or
// its TTL passes; expired entries are evicted inline.
type NonceCache struct { // A
	mu      sync.Mutex
	entries map[[32]byte]time.Time
	ttl     time.Duration
	clock   Clock
}

// NewNonceCache creates a NonceCache with the given TTL
// and clock.
func NewNonceCache( // A
	ttl time.Duration,
	clock Clock,
) *NonceCache {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	return &NonceCache{
		entries: make(map[[32]byte]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue records a nonce and returns true if it was fresh.
// Returns false if the nonce is already live or is zero.
func (nc *NonceCache) Issue( // A
	nonce [32]byte,
) bool {
	if nonce == [32]byte{} {
		return false
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()

	nc.cleanup()

	if _, exists := nc.entries[nonce]; exists {
		return false
	}

	nc.entries[nonce] = nc.clock.Now()
	return true
}

// Consume removes a live nonce and returns true. Unknown,
// expired and already consumed nonces return false.
func (nc *NonceCache) Consume( // A
	nonce [32]byte,
) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	nc.cleanup()

	if _, exists := nc.entries[nonce]; !exists {
		return false
	}
	delete(nc.entries, nonce)
	return true
}

// Len returns the number of live nonces.
func (nc *NonceCache) Len() int { // A
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.cleanup()
	return len(nc.entries)
}

// cleanup evicts expired entries. Must be called with
// mu held.
func (nc *NonceCache) cleanup() { // A
	cutoff := nc.clock.Now().Add(-nc.ttl)
	for k, v := range nc.entries {
		if !v.After(cutoff) {
			delete(nc.entries, k)
		}
	}
}
