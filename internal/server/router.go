package server

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/config"
	"github.com/abduss/dedupdrive/internal/file"
	"github.com/abduss/dedupdrive/internal/logger"
	"github.com/abduss/dedupdrive/internal/metrics"
	"github.com/abduss/dedupdrive/internal/presigned"
	"github.com/abduss/dedupdrive/internal/ratelimit"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker is satisfied by *minio.Client.
type BucketChecker interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config      config.Config
	DB          Pinger
	ObjectStore BucketChecker
	Verifier    *auth.Verifier
	FileService *file.Service
	Presigner   *presigned.Service
	// RateLimiter throttles the authenticated routes. Nil disables it.
	RateLimiter *ratelimit.Limiter
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.FileService != nil {
		file.RegisterPublicRoutes(api.Group("/public"), deps.FileService)

		if deps.Verifier != nil {
			protected := api.Group("/")
			protected.Use(auth.AuthMiddleware(deps.Verifier), ratelimit.Middleware(deps.RateLimiter))
			file.RegisterRoutes(protected, deps.FileService)
			if deps.Presigner != nil {
				presigned.RegisterRoutes(protected, deps.FileService, deps.Presigner)
			}
		}
	}

	return router
}
