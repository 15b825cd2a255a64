package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig limits how often one client may send direct messages.
type RateLimitConfig struct {
	// PerMinute is the sustained rate. Zero disables limiting.
	PerMinute float64
	// Burst is how many sends may happen back to back.
	Burst int
	// IdleTTL drops a client's bucket after this long without requests.
	IdleTTL time.Duration
}

type bucket struct {
	tokens float64
	last   time.Time
}

type limiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	perSec  float64
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &limiter{
		cfg:     cfg,
		perSec:  cfg.PerMinute / 60,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// take spends one token for key. When none is left it returns the wait
// until the next one.
func (l *limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.cfg.IdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.last) > l.cfg.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), last: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.cfg.Burst), b.tokens+now.Sub(b.last).Seconds()*l.perSec)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	return false, wait
}

// RateLimit throttles requests per client IP. Rejected requests get a 429
// with Retry-After in whole seconds.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newLimiter(cfg))
}

func rateLimit(l *limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if l.perSec <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ok, wait := l.take(c.RealIP())
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many messages, slow down")
			}
			return next(c)
		}
	}
}
