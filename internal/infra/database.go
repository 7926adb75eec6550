package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pingTimeout = 5 * time.Second

// PostgresOptions tune the credential store pool.
type PostgresOptions struct {
	MaxConns int32
	// Migrate applies the embedded schema once the pool is reachable.
	Migrate bool
}

// NewPostgresPool configures a PostgreSQL pool, verifies it and optionally
// migrates the schema.
func NewPostgresPool(ctx context.Context, url string, opts ...PostgresOptions) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	var o PostgresOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if o.Migrate {
		if err := MigratePool(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}
