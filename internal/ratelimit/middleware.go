package ratelimit

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/file"
	"github.com/abduss/dedupdrive/internal/logger"
	"github.com/abduss/dedupdrive/internal/metrics"
)

// Middleware rejects callers that ran out of tokens with 429. It must run
// after auth.AuthMiddleware; requests without a caller pass through.
func Middleware(limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _, ok := auth.RequireUser(c)
		if !ok || limiter.Allow(userID) {
			c.Next()
			return
		}

		metrics.RecordRateLimited()
		logger.FromContext(c).Debug("request rate limited",
			zap.String("user_id", userID.String()),
			zap.String("path", c.FullPath()),
		)
		file.WriteError(c, apperror.RateLimited(userID.String()))
		c.Abort()
	}
}
