package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ambassador-ledger/internal/cache"
	"ambassador-ledger/internal/logger"
)

// RateLimiter implements a fixed window rate limiter on top of a shared
// counter store, so several API replicas enforce one budget per client.
type RateLimiter struct {
	counters cache.Cache
	rate     int           // requests per window
	window   time.Duration // time window
	now      func() time.Time
	log      *logger.Logger
}

// NewRateLimiter creates a new rate limiter.
// rate: number of requests allowed
// window: time window for the rate limit
func NewRateLimiter(counters cache.Cache, rate int, window time.Duration, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Discard()
	}
	return &RateLimiter{
		counters: counters,
		rate:     rate,
		window:   window,
		now:      time.Now,
		log:      log.WithField("component", "ratelimit"),
	}
}

// Allow checks if a request from the given key should be allowed and
// returns the remaining budget in the current window. Counter store
// failures fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	bucket := rl.now().UnixNano() / int64(rl.window)
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	n, err := rl.counters.Incr(ctx, counterKey, rl.window)
	if err != nil {
		rl.log.WithContext(ctx).WithError(err).Warn("rate limit counter unavailable")
		return true, rl.rate
	}

	remaining := rl.rate - int(n)
	if remaining < 0 {
		return false, 0
	}
	return true, remaining
}

// GetClientKey extracts a client identifier from the request.
// Uses IP address as the key.
func GetClientKey(r *http.Request) string {
	// first entry is the original client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware creates a middleware that rate limits requests.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining := limiter.Allow(r.Context(), GetClientKey(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.rate))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
