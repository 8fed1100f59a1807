// Package logger configures the process-wide zap logger and the request
// logging middleware.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationKey = "correlation_id"

// Init builds a JSON production logger at LOG_LEVEL (info by default) and
// installs it as the zap global.
func Init() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// Middleware assigns every request a correlation id, echoing the caller's
// when present, and logs the request once it completes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationIDHeader, id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String(correlationKey, id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			zap.L().Error("http request", fields...)
		case status >= 400:
			zap.L().Warn("http request", fields...)
		default:
			zap.L().Info("http request", fields...)
		}
	}
}

// CorrelationID returns the id Middleware assigned to the request.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// FromContext returns the global logger tagged with the request's
// correlation id.
func FromContext(c *gin.Context) *zap.Logger {
	if id := CorrelationID(c); id != "" {
		return zap.L().With(zap.String(correlationKey, id))
	}
	return zap.L()
}
