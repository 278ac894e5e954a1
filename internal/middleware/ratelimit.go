package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// idleAfter is how long a client may stay silent before its limiter is dropped.
const idleAfter = 10 * time.Minute

// RateLimiter limits requests per client IP with one token bucket each.
// The bucket holds a minute's worth of requests and refills continuously.
type RateLimiter struct {
	perMinute int
	limit     rate.Limit
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client and starts the sweeper.
// Call Stop to release it.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		perMinute: perMinute,
		limit:     rate.Limit(float64(perMinute) / 60),
		now:       time.Now,
		clients:   make(map[string]*client),
		ticker:    time.NewTicker(idleAfter / 2),
		stopCh:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Middleware rejects over-limit requests with 429 and a JSON error body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
		if !rl.allow(clientIP(r)) {
			retry := int(time.Minute.Seconds()) / max(rl.perMinute, 1)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{
				Error: "rate limit exceeded, try again later",
				Code:  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) allow(ip string) bool {
	now := rl.now()
	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.perMinute)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) sweepLoop() {
	for {
		select {
		case <-rl.stopCh:
			return
		case <-rl.ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops clients idle for longer than idleAfter.
func (rl *RateLimiter) sweep() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > idleAfter {
			delete(rl.clients, ip)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.stopCh)
	})
}
