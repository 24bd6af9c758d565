package middleware

import (
	"context"
	"net/http"
	"strconv"

	"beacon-chat/internal/redis"
	"beacon-chat/internal/services"
	"beacon-chat/internal/transport/httpdto"
	"beacon-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RateCheck is one of the RateLimiter buckets, e.g. AllowMessage.
type RateCheck func(ctx context.Context, userID uuid.UUID) (*redis.RateLimitResult, error)

// RateLimitMiddleware charges the authenticated user against check. It must
// run after AuthMiddleware. A limiter failure lets the request through.
func RateLimitMiddleware(check RateCheck, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := check(c.Request.Context(), userID)
		if err != nil {
			if l != nil {
				l.Ctx(c.Request.Context()).Warn("rate limiter unavailable", zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
