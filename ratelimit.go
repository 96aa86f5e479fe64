package main

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type rateWindow struct {
	windowStart time.Time
	count       int
}

// rateLimiter is a fixed-window request counter per client identity.
// It guards only the expensive routes (backtest, AI report); health checks
// and streaming connects are never limited.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
	window  time.Duration
	limit   int
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*rateWindow),
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// check counts a request for clientID. When rejected, retryAfter is the
// number of seconds left in the current window.
func (r *rateLimiter) check(clientID string) (allowed bool, retryAfter int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	win, ok := r.clients[clientID]
	if !ok || now.Sub(win.windowStart) >= r.window {
		r.clients[clientID] = &rateWindow{windowStart: now, count: 1}
		return true, 0
	}

	win.count++
	if win.count > r.limit {
		remaining := r.window - now.Sub(win.windowStart)
		secs := int(remaining.Seconds())
		if secs < 1 {
			secs = 1
		}
		return false, secs
	}
	return true, 0
}

func rateLimitMiddleware(limiter *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := limiter.check(c.ClientIP())
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": &apiError{
					Code:      codeRateLimited,
					Message:   "too many requests, slow down",
					Retryable: true,
				},
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}
