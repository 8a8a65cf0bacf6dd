// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// This file implements an in-process token-bucket limiter on
// golang.org/x/time/rate. Reads (GET, HEAD, OPTIONS) and writes draw from
// separate buckets per caller, so a client polling the feed does not starve
// its own prayer or request submissions. Idempotent replays flagged by
// IdempotencyValidator are never limited.
//
// Buckets live in process memory; a multi-instance deployment enforces
// limits per instance.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultBucketIdle = 10 * time.Minute
	sweepEveryLookups = 5000
	// exhaustedRetryAfter is advertised when a bucket never refills (RPS 0).
	exhaustedRetryAfter = 60
)

// RateLimit is one token-bucket policy.
type RateLimit struct {
	RPS   float64
	Burst int // values < 1 are treated as 1
}

func (p RateLimit) newLimiter() *rate.Limiter {
	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RPS), burst)
}

// KeyFunc names the caller a request is charged to.
type KeyFunc func(*gin.Context) string

// KeyByCaller charges requests to the X-User-ID accepted by Identity, or to
// the client IP for anonymous calls.
func KeyByCaller() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := UserID(c); ok {
			return "user:" + strconv.FormatInt(id, 10)
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one bucket per (read|write, caller) pair. Buckets idle
// for longer than the idle window are evicted during lookups.
type RateLimiter struct {
	read, write RateLimit
	key         KeyFunc
	idle        time.Duration
	now         func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int
}

// NewRateLimiter builds a limiter with separate read and write policies.
func NewRateLimiter(read, write RateLimit, key KeyFunc) *RateLimiter {
	if key == nil {
		key = KeyByCaller()
	}
	return &RateLimiter{
		read:    read,
		write:   write,
		key:     key,
		idle:    defaultBucketIdle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (rl *RateLimiter) limiterFor(key string, p RateLimit, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Evict before the lookup so a stale bucket for key is replaced, not revived.
	rl.lookups++
	if rl.lookups >= sweepEveryLookups {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: p.newLimiter()}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator exempted this request
// from rate limiting.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler enforces the limits. A rejected request gets 429 rate_limited
// with Retry-After set to the whole seconds until a token is available.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		policy, class := rl.read, "read"
		if isWrite(c.Request.Method) {
			policy, class = rl.write, "write"
		}
		now := rl.now()
		lim := rl.limiterFor(class+"|"+rl.key(c), policy, now)

		res := lim.ReserveN(now, 1)
		if !res.OK() {
			c.Header("Retry-After", strconv.Itoa(exhaustedRetryAfter))
			AbortError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		if wait := res.DelayFrom(now); wait > 0 {
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			AbortError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
