// Package middleware holds gin middleware shared by the HTTP routes.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// idleTTL is how long a client's limiter survives without traffic.
const idleTTL = 10 * time.Minute

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, now func() time.Time) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		t := now()

		mu.Lock()
		if t.Sub(lastSweep) > idleTTL {
			for k, v := range clients {
				if t.Sub(v.lastSeen) > idleTTL {
					delete(clients, k)
				}
			}
			lastSweep = t
		}
		cl, ok := clients[ip]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = t
		allowed := cl.limiter.AllowN(t, 1)
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "rate limit exceeded",
				},
			})
			return
		}

		c.Next()
	}
}
