package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Visitors that stay quiet this long are evicted from the limiter table.
const visitorIdleAfter = 10 * time.Minute

// RateLimiter throttles requests per client IP so a single storefront cannot
// starve the install or formatting endpoints. The sustained rate and burst
// come from RATE_LIMIT_RPM and RATE_LIMIT_BURST.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	idleAfter time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a per-IP limiter from a requests-per-minute budget.
// A non-positive budget disables limiting and returns nil.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		idleAfter: visitorIdleAfter,
		visitors:  make(map[string]*visitor),
	}
}

// Handler returns the gin middleware enforcing the limit. A nil receiver
// passes every request through.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests. Please try again shortly.",
				},
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(clientIP string) bool {
	now := time.Now()

	r.mu.Lock()
	v, ok := r.visitors[clientIP]
	if !ok {
		r.evictIdleLocked(now)
		v = &visitor{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[clientIP] = v
	}
	v.lastSeen = now
	limiter := v.limiter
	r.mu.Unlock()

	return limiter.Allow()
}

func (r *RateLimiter) evictIdleLocked(now time.Time) {
	for clientIP, v := range r.visitors {
		if now.Sub(v.lastSeen) > r.idleAfter {
			delete(r.visitors, clientIP)
		}
	}
}
