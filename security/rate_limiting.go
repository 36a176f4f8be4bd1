package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"event-ticketing/monitoring"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a Redis fixed-window counter keyed by scope and caller.
type RateLimiter struct {
	redis   redis.Cmdable
	limit   int64
	window  time.Duration
	monitor *monitoring.Monitor
}

func NewRateLimiter(redisClient redis.Cmdable, limit int, window time.Duration, monitor *monitoring.Monitor) *RateLimiter {
	return &RateLimiter{
		redis:   redisClient,
		limit:   int64(limit),
		window:  window,
		monitor: monitor,
	}
}

func rateLimitKey(scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, id)
}

// Allow counts one request for id in scope. When the window is exhausted it
// returns false with the time left until the window resets.
func (r *RateLimiter) Allow(ctx context.Context, scope, id string) (bool, time.Duration, error) {
	key := rateLimitKey(scope, id)

	// INCR and EXPIRE NX run as one MULTI so a counter can never be left
	// without a window. NX keeps an open window from sliding.
	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, r.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("increment rate counter: %w", err)
	}
	count := incr.Val()
	if count <= r.limit {
		return true, 0, nil
	}

	ttl, err := r.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = r.window
	}
	return false, ttl, nil
}

// Middleware limits requests per authenticated user, falling back to the
// client IP. Redis failures let the request through.
func (r *RateLimiter) Middleware(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := e.RealIP()
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		}

		allowed, retryAfter, err := r.Allow(e.Request.Context(), scope, id)
		if err != nil {
			slog.Error("rate limiter unavailable", "scope", scope, "error", err)
			return e.Next()
		}
		if !allowed {
			r.monitor.TrackRateLimited(scope)
			e.Response.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects requests from obvious crawler user agents.
func AntiBotMiddleware(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
		return e.JSON(http.StatusForbidden, map[string]string{
			"error": "Access denied",
		})
	}
	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
