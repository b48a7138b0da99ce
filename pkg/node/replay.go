package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// errReplayCacheFull is returned when every remembered request id is still valid.
// Dropping one of them would let its request be replayed.
var errReplayCacheFull = errors.New("too many signed requests in flight")

// replayCache remembers signed request ids until they can no longer be valid.
// Entries are never evicted before their request expires.
type replayCache struct {
	mu   sync.Mutex
	size int
	seen *expirable.LRU[string, int64]
}

func newReplayCache(size int, ttl time.Duration) (*replayCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("replay cache size must be positive, got %d", size)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("replay cache ttl must be positive, got %s", ttl)
	}
	return &replayCache{
		size: size,
		// one spare slot so Add never evicts; capacity is enforced in Remember
		seen: expirable.NewLRU[string, int64](size+1, nil, ttl),
	}, nil
}

// Remember records id and reports whether it was new. It returns
// errReplayCacheFull when the cache holds only requests that expire after now.
func (r *replayCache) Remember(id string, expiresAt int64, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen.Contains(id) {
		return false, nil
	}
	if r.seen.Len() >= r.size {
		r.pruneExpired(now)
		if r.seen.Len() >= r.size {
			return false, errReplayCacheFull
		}
	}
	r.seen.Add(id, expiresAt)
	return true, nil
}

// pruneExpired drops ids whose requests are rejected as expired at now anyway
func (r *replayCache) pruneExpired(now time.Time) {
	for _, id := range r.seen.Keys() {
		expiresAt, ok := r.seen.Peek(id)
		if !ok || expiresAt <= now.Unix() {
			r.seen.Remove(id)
		}
	}
}

// Forget drops id so the same signed request can be retried
func (r *replayCache) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.Remove(id)
}

// Len returns the number of remembered ids
func (r *replayCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.Len()
}
