package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/accounting"
	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/config"
	"github.com/abduss/dedupdrive/internal/content"
	"github.com/abduss/dedupdrive/internal/file"
	"github.com/abduss/dedupdrive/internal/logger"
	"github.com/abduss/dedupdrive/internal/presigned"
	"github.com/abduss/dedupdrive/internal/ratelimit"
	"github.com/abduss/dedupdrive/internal/server"
	"github.com/abduss/dedupdrive/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logg.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres, logg)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	if cfg.Postgres.MigrateOnStart {
		if err := storage.Migrate(cfg.Postgres, logg); err != nil {
			logg.Fatal("migrate postgres", zap.Error(err))
		}
	}

	minioClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		logg.Fatal("connect minio", zap.Error(err))
	}

	if err := storage.PrepareBucket(ctx, minioClient, cfg.MinIO, content.StagingPrefix, logg); err != nil {
		logg.Fatal("prepare bucket", zap.Error(err))
	}

	var entries catalog.Catalog = catalog.NewRepository(dbPool)
	if cfg.CatalogBackend == config.CatalogMemory {
		logg.Warn("using in-memory catalog, entries are lost on restart")
		entries = catalog.NewMemory()
	}

	contentStore := content.NewStore(
		content.NewMinIOStore(minioClient),
		content.NewRefs(dbPool),
		cfg.MinIO.Bucket,
		logg.Named("content"),
	)

	fileService := file.NewService(entries, contentStore, file.Options{
		MaxFileSize:  cfg.Files.MaxFileSize,
		AllowedTypes: cfg.Files.AllowedTypes,
		QuotaBytes:   cfg.Files.QuotaBytes,
		Stats:        accounting.NewCache(cfg.Cache.StatsSize, cfg.Cache.StatsTTL),
		Logger:       logg.Named("file"),
	})

	limiter, err := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.TrackedUsers)
	if err != nil {
		logg.Fatal("rate limiter", zap.Error(err))
	}

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		DB:          dbPool,
		ObjectStore: minioClient,
		Verifier:    auth.NewVerifier(cfg.Auth),
		FileService: fileService,
		Presigner:   presigned.NewService(minioClient, cfg.MinIO.Bucket, cfg.Presign.DefaultTTL, cfg.Presign.MaxTTL),
		RateLimiter: limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("dedupdrive API listening", zap.String("address", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
	}
}
