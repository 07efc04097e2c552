package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/claimsync/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Handle is an opened store together with the function that releases it.
type Handle struct {
	Store
	Driver string
	close  func() error
}

// Close releases the store's connections. Safe to call on a memory store.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects the store selected by the database configuration and applies
// pending migrations when enabled.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Handle, error) {
	driver := strings.ToLower(cfg.Driver)

	switch driver {
	case "memory":
		return &Handle{Store: NewMemoryStore(), Driver: driver}, nil

	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.Path)
		return &Handle{Store: s, Driver: driver, close: s.Close}, nil

	case "postgres":
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}

		if cfg.Migrate {
			db := stdlib.OpenDBFromPool(pool)
			err := Migrate(db, DialectPostgres)
			db.Close()
			if err != nil {
				pool.Close()
				return nil, err
			}
		}

		return &Handle{
			Store:  NewPostgresStore(pool),
			Driver: driver,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
