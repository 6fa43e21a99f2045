package mw

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/utils"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Burst         int
	RefillPerSec  float64
	MaxEntries    int // sweep early once this many clients are tracked
	SweepInterval time.Duration
	IdleTTL       time.Duration
	TrustProxy    bool // resolve IP from proxy headers when true

	// Key picks the bucket for a request. Defaults to the client IP.
	Key func(r *http.Request) string
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerSec <= 0 {
		cfg.RefillPerSec = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Key == nil {
		trust := cfg.TrustProxy
		cfg.Key = func(r *http.Request) string { return utils.ClientIP(r, trust) }
	}
	return &limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket, 64),
	}
}

// take consumes one token for key. When none is left it reports how many
// whole seconds until the next one.
func (l *limiter) take(key string, now time.Time) (remaining int, retryAfter int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSweep.IsZero() {
		l.lastSweep = now
	}
	full := l.cfg.MaxEntries > 0 && len(l.buckets) >= l.cfg.MaxEntries
	if full || now.Sub(l.lastSweep) >= l.cfg.SweepInterval {
		l.sweepLocked(now)
	}

	capacity := float64(l.cfg.Burst)
	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: capacity, refilled: now}
		l.buckets[key] = b
	}
	if dt := now.Sub(b.refilled).Seconds(); dt > 0 {
		b.tokens = math.Min(capacity, b.tokens+dt*l.cfg.RefillPerSec)
		b.refilled = now
	}

	if b.tokens < 1 {
		wait := int(math.Ceil((1 - b.tokens) / l.cfg.RefillPerSec))
		return 0, max(wait, 1), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// A bucket idle for IdleTTL has refilled completely, so dropping it loses
// nothing.
func (l *limiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.refilled) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit throttles each client with a token bucket and answers 429 with
// Retry-After and a JSON error body once the bucket is empty.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return rateLimit(newLimiter(cfg))
}

func rateLimit(l *limiter) func(http.Handler) http.Handler {
	limit := strconv.Itoa(l.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retry, ok := l.take(l.cfg.Key(r), l.now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
