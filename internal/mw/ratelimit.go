package mw

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DeviceHeader lets a terminal identify itself so that terminals behind one NAT
// get separate budgets.
const DeviceHeader = "X-Device-SN"

// limiterIdle is how long an unused key keeps its limiter.
const limiterIdle = 10 * time.Minute

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// DeviceOrIP charges the device serial when the caller sends one, else the client IP.
func DeviceOrIP(c *gin.Context) string {
	if sn := strings.TrimSpace(c.GetHeader(DeviceHeader)); sn != "" {
		return "sn:" + sn
	}
	return "ip:" + c.ClientIP()
}

// KeyedRateLimiter keeps one token bucket per key. Idle buckets expire.
type KeyedRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: cache.New(limiterIdle, 2*limiterIdle),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the limiter for key, creating it on first use.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	if v, ok := k.limiters.Get(key); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(k.r, k.b)
	if err := k.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// Lost the race to another request for the same key.
		if v, ok := k.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Allow consumes one token for key.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.GetLimiter(key).Allow()
}

// RateLimiter is a middleware that rejects requests over budget with 429.
func RateLimiter(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = DeviceOrIP
	}
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
