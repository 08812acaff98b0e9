package middlewares

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is the in-process Limiter, used when Redis is not configured.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	clients map[string]*clientBucket
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]

	if !ok || now.After(b.windowEnd) {
		rl.sweep(now)
		rl.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(rl.window)}
		return Decision{Allowed: true, Count: 1}, nil
	}

	if b.count >= rl.limit {
		return Decision{Allowed: false, Count: b.count, RetryAfter: b.windowEnd.Sub(now)}, nil
	}

	b.count++
	return Decision{Allowed: true, Count: b.count}, nil
}

// sweep drops expired buckets so idle clients do not accumulate.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.clients) < 1024 {
		return
	}
	for k, b := range rl.clients {
		if now.After(b.windowEnd) {
			delete(rl.clients, k)
		}
	}
}

// RateLimit enforces l for the key derived by keyFn, scoped by scope. Limiter
// backend errors let the request through.
func RateLimit(l Limiter, scope string, keyFn func(*gin.Context) string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := l.Allow(c.Request.Context(), scope+":"+key)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate_limit.backend_error", "scope", scope, "err", err)
			c.Next()
			return
		}

		if !d.Allowed {
			retryAfter := int((d.RetryAfter + time.Second - 1) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			Fail(c, apperr.RateLimited("Too many requests. Please try again shortly."))
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok {
		return "user:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
