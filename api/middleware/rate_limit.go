package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter gives every client IP, as resolved by the echo IPExtractor, its own token
// bucket. Buckets idle for longer than ttl are dropped when a new client shows up.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
	}
}

// Middleware answers 429 with a Retry-After in whole seconds once the bucket is empty.
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			reservation := l.limiterFor(c.RealIP(), now).ReserveN(now, 1)
			if !reservation.OK() {
				return tooManyRequests(c, time.Minute)
			}
			if wait := reservation.DelayFrom(now); wait > 0 {
				reservation.CancelAt(now)
				return tooManyRequests(c, wait)
			}
			return next(c)
		}
	}
}

func (l *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[ip]; ok {
		b.lastSeen = now
		return b.limiter
	}
	l.evictIdle(now)
	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[ip] = b
	return b.limiter
}

func (l *RateLimiter) evictIdle(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, ip)
		}
	}
}

func tooManyRequests(c echo.Context, wait time.Duration) error {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
}
