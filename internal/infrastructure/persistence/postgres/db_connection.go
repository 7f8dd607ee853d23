// Package postgres implements the durable quota and entitlement stores.
// The quota counter runs on a pgx pool because its one critical operation is a
// single conditional SQL statement; entitlement rows go through gorm.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// NewPgxPool creates the pgx connection pool used by the quota store.
func NewPgxPool(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, errors.ErrConfiguration("database config is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, errors.ErrConfiguration("failed to parse database DSN").WithCause(err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.ErrTransientStore("failed to create connection pool").WithCause(err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ErrTransientStore("database ping failed").WithCause(err)
	}

	log.Info(ctx, "postgres connection pool initialized",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database),
		logger.Int("max_conns", cfg.MaxConns),
	)

	return pool, nil
}

// NewGormDB opens a gorm handle on the same database for the entitlement store.
func NewGormDB(cfg *config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.ErrConfiguration("database config is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.ErrTransientStore("failed to open gorm connection").WithCause(err)
	}

	log.Info(context.Background(), "gorm connection initialized",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)

	return db, nil
}
