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

// bucketIdleTTL is how long an untouched bucket survives a sweep.
const bucketIdleTTL = 10 * time.Minute

// keyFunc selects the identity a request is charged to.
type keyFunc func(*gin.Context) string

// KeyByIP charges requests to gin's ClientIP, which honors trusted proxies.
// The read API is unauthenticated, so the address is the only identity.
func KeyByIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a process-local token bucket per key. Buckets idle for
// longer than the TTL are swept at most once per TTL. Safe for concurrent use.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	key    keyFunc
	exempt map[string]bool

	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1). rps <= 0 disables limiting. Routes listed
// in exemptPaths, matched against gin's route pattern, are never charged.
func NewRateLimiter(rps float64, burst int, key keyFunc, exemptPaths ...string) *RateLimiter {
	rl := &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		exempt:  make(map[string]bool, len(exemptPaths)),
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
		now:     time.Now,
	}
	for _, p := range exemptPaths {
		rl.exempt[p] = true
	}
	rl.lastSweep = rl.now()
	return rl
}

// limiterFor returns the bucket for key, creating it on first use.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() string {
	secs := math.Ceil(1 / float64(rl.limit))
	if secs < 1 || math.IsInf(secs, 0) {
		secs = 1
	}
	return strconv.FormatInt(int64(secs), 10)
}

// Handler rejects requests over budget with 429, a Retry-After header and
// the API error body {request_id, code, message}.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 || rl.exempt[c.FullPath()] || rl.limiterFor(rl.key(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", rl.retryAfter())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
