package node

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's limiter is kept after its last request
const idleLimiterTTL = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientRateLimiter keeps one token bucket per client address
type clientRateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu        sync.Mutex
	clients   map[string]*limiterEntry
	lastSweep time.Time
	clockNow  func() time.Time
}

func newClientRateLimiter(perSecond float64, burst int) *clientRateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientRateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		clients:   make(map[string]*limiterEntry),
		clockNow:  time.Now,
	}
}

// Allow reports whether the client may make a request now
func (c *clientRateLimiter) Allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clockNow()
	if now.Sub(c.lastSweep) > idleLimiterTTL {
		for id, entry := range c.clients {
			if now.Sub(entry.lastSeen) > idleLimiterTTL {
				delete(c.clients, id)
			}
		}
		c.lastSweep = now
	}

	entry, ok := c.clients[client]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.perSecond, c.burst)}
		c.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// clientID identifies the client a rate limit applies to. Proxy headers are only
// honored when the node sits behind a proxy that sets them.
func clientID(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if parsed := net.ParseIP(first); parsed != nil {
				return parsed.String()
			}
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (n *Node) clientID(r *http.Request) string {
	return clientID(r, n.trustProxyHeaders)
}
