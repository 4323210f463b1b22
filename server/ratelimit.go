package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client's limiter survives before eviction
const staleAfter = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter enforces a fixed request count per rolling window for each
// client IP. Idle entries are evicted lazily so the map does not grow with
// every address that ever connected.
type IPRateLimiter struct {
	mutex    sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	lastScan time.Time
}

// NewIPRateLimiter allows count requests per window for each IP
func NewIPRateLimiter(count int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(window / time.Duration(count)),
		burst:   count,
	}
}

// Allow reports whether ip may proceed with another request
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	if now.Sub(l.lastScan) > staleAfter {
		l.evictStale(now)
		l.lastScan = now
	}

	client, ok := l.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = client
	}
	client.lastSeen = now
	return client.limiter.Allow()
}

func (l *IPRateLimiter) evictStale(now time.Time) {
	for ip, client := range l.clients {
		if now.Sub(client.lastSeen) > staleAfter {
			delete(l.clients, ip)
		}
	}
}
