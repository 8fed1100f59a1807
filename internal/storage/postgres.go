package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/config"
)

const (
	pingTimeout      = 5 * time.Second
	pingRetryBackoff = time.Second
)

// NewPostgresPool opens a pgx pool sized from cfg and waits for the server
// to answer a ping, retrying up to cfg.ConnectAttempts times.
func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pingWithRetry(ctx, pool, max(cfg.ConnectAttempts, 1), logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, attempts int, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn("postgres not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(pingRetryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}
