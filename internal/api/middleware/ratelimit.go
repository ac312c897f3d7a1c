package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RateStore is the shared per-IP request counter. It lives in the record
// store, not in process memory, so the limit holds across server instances.
type RateStore interface {
	IncrementRequestCount(ctx context.Context, ip string, window time.Duration) (int, error)
}

const msgTooManyRequests = "Muitas requisições, aguarde para usar novamente"

// RateLimit admits up to max requests per client IP per window. When the
// counter store is unreachable the middleware fails open: dropping traffic
// because the limiter is down would be worse than not limiting.
func RateLimit(store RateStore, window time.Duration, max int) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := store.IncrementRequestCount(c.Request.Context(), c.ClientIP(), window)
		if err != nil {
			log.Printf("[RATELIMIT] counter unavailable: %v", err)
			c.Next()
			return
		}

		if count > max {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": msgTooManyRequests})
			return
		}

		c.Next()
	}
}
