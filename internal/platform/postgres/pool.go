package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"bankcri/internal/platform/config"
)

// NewPool connects a pgx pool and verifies the connection before returning.
// Returns nil if the URL is empty (Postgres not configured).
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}
