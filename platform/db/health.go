package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolAdapter wraps a pgxpool.Pool so it satisfies http.HealthChecker.
type PoolAdapter struct {
	pool *pgxpool.Pool
}

// NewPoolAdapter creates a new health checker backed by a connection pool.
func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

// Ping verifies the database connection is reachable.
func (p *PoolAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
