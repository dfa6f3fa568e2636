package middleware

import (
	"fmt"
	"time"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ExtractionRateLimiter limits how often a single user may trigger AI field
// extraction. Each call to the model costs real money, so the limit is
// per-user rather than per-IP. Counting uses Redis INCR with a fixed one-hour
// expiry window; if Redis is unavailable the request is allowed through
// rather than failing the whole pipeline.
func ExtractionRateLimiter(redisClient *redis.Client, extractionsPerHour int) gin.HandlerFunc {
	const window = time.Hour

	return func(c *gin.Context) {
		userID := c.GetString(string(UserIDKey))
		if userID == "" {
			_ = c.Error(apperrors.Unauthorized("missing_auth", "Authentication required"))
			c.Abort()
			return
		}

		key := fmt.Sprintf("ratelimit:extract:%s", userID)

		// Pipeline keeps the increment and expiry atomic
		pipe := redisClient.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, window)

		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			logger.GetLogger().Warnw("Extraction rate limit check failed, allowing request",
				"error", err,
				"userId", userID)
			c.Next()
			return
		}

		count := incr.Val()

		if count > int64(extractionsPerHour) {
			ttl, err := redisClient.TTL(c.Request.Context(), key).Result()
			if err != nil || ttl <= 0 {
				ttl = window
			}

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", extractionsPerHour))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			c.Header("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))

			_ = c.Error(apperrors.RateLimited("Extraction limit reached. Please try again later."))
			c.Abort()
			return
		}

		remaining := extractionsPerHour - int(count)
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", extractionsPerHour))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(window).Unix()))

		c.Next()
	}
}
