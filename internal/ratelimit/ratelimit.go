// Package ratelimit guards the connection-establishing endpoints with a
// redis-backed fixed-window counter keyed by caller ip.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Limiter interface {
	Allow(ip string) (bool, error)
}

// RedisLimiter counts connection attempts per ip per window. The counter
// key embeds the window start so it expires on its own.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) Allow(ip string) (bool, error) {
	ctx := context.Background()
	// Bucket by nanoseconds so sub-second windows still divide cleanly.
	windowStart := time.Now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", ip, windowStart)

	pipe := l.client.Pipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(l.limit), nil
}

// Guard wraps a handler with the limiter. A nil limiter disables the check;
// redis errors fail open so an outage never blocks clients.
func Guard(limiter Limiter, logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		allowed, err := limiter.Allow(ip)
		if err != nil {
			logger.Warn("Rate limiter unavailable, admitting request", zap.String("ip", ip), zap.Error(err))
			next(w, r)
			return
		}
		if !allowed {
			logger.Warn("Rate limit exceeded", zap.String("ip", ip))
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// ClientIP picks the first X-Forwarded-For hop when present, otherwise the
// peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
