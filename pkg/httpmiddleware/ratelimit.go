package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Quota is the outcome of a rate limit check.
type Quota struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Quota, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window, reported in
	// X-RateLimit-Limit.
	Max int
	// KeyFunc extracts the rate limit key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, e.g. health endpoints.
	Skip func(*http.Request) bool
}

// RateLimit rejects requests over the limit with 429 and a JSON body. Every
// limited response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Limiter failures let the request through.
func RateLimit(cfg RateLimitConfig, l Limiter) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			q, err := l.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))
			if !q.Allowed {
				retryAfter := max(q.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// MemoryLimiter is a process-local sliding window limiter.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter allows limit requests per key in any sliding window of
// length per.
func NewMemoryLimiter(limit int, per time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     limit,
		window:  per,
		windows: make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{currStart: now}
		l.windows[key] = w
	}
	if now.Sub(w.currStart) >= l.window {
		w.prevCount, w.prevStart = w.currCount, w.currStart
		w.currCount = 0
		w.currStart = now.Truncate(l.window)
		if now.Sub(w.prevStart) >= 2*l.window {
			w.prevCount = 0
		}
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending at now.
	overlap := max(1-now.Sub(w.currStart).Seconds()/l.window.Seconds(), 0)
	count := w.prevCount*overlap + w.currCount
	q := Quota{ResetAt: w.currStart.Add(l.window)}
	if count >= float64(l.max) {
		return q, nil
	}

	w.currCount++
	q.Allowed = true
	q.Remaining = max(int(float64(l.max)-count-1), 0)
	return q, nil
}

// Cleanup drops keys whose windows have fully expired.
func (l *MemoryLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.window {
			delete(l.windows, key)
		}
	}
}

// Run calls Cleanup every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Cleanup(now)
		}
	}
}

// RedisLimiter is a fixed window limiter shared by every API replica.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows limit requests per key and fixed window of length
// per, counting in keys named prefix+key+":"+windowStart.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, per time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: limit, window: per}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Quota, error) {
	start := now.Truncate(l.window)
	rkey := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, rkey)
		p.PExpire(ctx, rkey, l.window)
		return nil
	}); err != nil {
		return Quota{}, errors.Wrap(err, "count request")
	}

	count := int(incr.Val())
	return Quota{
		Allowed:   count <= l.max,
		Remaining: max(l.max-count, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}
