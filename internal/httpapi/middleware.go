package httpapi

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xpadev-net/clipwatch/internal/log"
)

// HeaderAPIKey carries the admin key. "Authorization: Bearer <key>" is
// accepted as well.
const HeaderAPIKey = "X-API-Key"

func requestAPIKey(c *gin.Context) string {
	if key := c.GetHeader(HeaderAPIKey); key != "" {
		return key
	}
	key, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(key)
}

// APIKeyAuth rejects requests that do not present apiKey.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := requestAPIKey(c)
		switch {
		case key == "":
			RespondUnauthorized(c, "API key is required")
		case subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1:
			RespondUnauthorized(c, "Invalid API key")
		default:
			c.Next()
		}
	}
}

const defaultMaxVisitors = 1000

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per caller. Callers idle for longer
// than window are forgotten; at capacity the least recently seen is evicted.
type rateLimiter struct {
	limit       rate.Limit
	burst       int
	window      time.Duration
	maxVisitors int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit < 1 {
		limit = 1
	}
	interval := window / time.Duration(limit)
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{
		limit:       rate.Every(interval),
		burst:       limit,
		window:      window,
		maxVisitors: defaultMaxVisitors,
		visitors:    make(map[string]*visitor),
	}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= l.maxVisitors {
			l.evict(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// evict drops idle visitors, or the oldest one when none is idle.
func (l *rateLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	var oldestKey string
	var oldest time.Time
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			continue
		}
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = k, v.lastSeen
		}
	}
	if len(l.visitors) >= l.maxVisitors && oldestKey != "" {
		delete(l.visitors, oldestKey)
	}
}

// RateLimit returns a middleware that enforces a token-bucket rate limit by key.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	limiter := newRateLimiter(limit, window)
	return func(c *gin.Context) {
		key := requestAPIKey(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.allow(key, time.Now()) {
			RespondTooManyRequests(c, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
