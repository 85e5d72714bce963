package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const (
	clientIdleTTL = 3 * time.Minute
	sweepEvery    = time.Minute
)

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per client address. Idle buckets are
// swept while handling requests, so no background goroutine is needed.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	r         rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		r:       rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepEvery {
		for k, c := range rl.clients {
			if now.Sub(c.seen) > clientIdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	if c, ok := rl.clients[key]; ok {
		c.seen = now
		return c.lim
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.clients[key] = &client{lim: l, seen: now}
	return l
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware answers 429 once a client exhausts its bucket. m may be nil.
func RateLimitMiddleware(rl *RateLimiter, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientKey(r)) {
				if m != nil {
					m.RateLimited.Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
