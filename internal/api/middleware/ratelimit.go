package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per IP.
	Rate rate.Limit
	// Burst is the maximum burst size per IP.
	Burst int
	// CleanupInterval is how often idle limiters are evicted.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter is kept.
	MaxAge time.Duration
}

// AdminRateLimitConfig is the default limit for the admin API: 10 requests
// per second with a burst of 20.
func AdminRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*limiterEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates a limiter and starts its eviction loop. Call Stop
// to end the loop.
func NewIPRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *IPRateLimiter {
	rl := &IPRateLimiter{
		cfg:     cfg,
		logger:  logger.With("subsystem", "ratelimit"),
		entries: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether a request from ip may proceed now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	e, ok := rl.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = time.Now()
	rl.mu.Unlock()

	return e.limiter.Allow()
}

// Len returns the number of tracked IPs.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop ends the eviction loop. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *IPRateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evict(time.Now())
		case <-rl.stop:
			return
		}
	}
}

// evict drops limiters idle since before now minus MaxAge.
func (rl *IPRateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.cfg.MaxAge)
	removed := 0
	for ip, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("evicted idle limiters", "removed", removed, "remaining", len(rl.entries))
	}
}

// RateLimit returns middleware that answers 429 with a Retry-After header once
// a client IP exceeds its limit.
func RateLimit(rl *IPRateLimiter) func(http.Handler) http.Handler {
	retryAfter := "1"
	if rl.cfg.Rate > 0 && rl.cfg.Rate < 1 {
		retryAfter = strconv.Itoa(int(1/float64(rl.cfg.Rate)) + 1)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.Allow(ip) {
				rl.logger.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
