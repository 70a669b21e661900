// Package postgres implements the durable cache and metadata stores on
// PostgreSQL via sqlx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tyeom/zeroquant/internal/config"
)

// DB wraps the shared connection pool and the repositories built on it.
type DB struct {
	pool    *sqlx.DB
	timeout time.Duration

	Klines       *KlineRepo
	Symbols      *SymbolRepo
	Checkpoints  *CheckpointRepo
	Results      *ResultsRepo
}

// Open connects the pool and pings it with a short deadline.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	pool, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	db := &DB{pool: pool, timeout: timeout}
	db.Klines = &KlineRepo{db: pool, timeout: timeout}
	db.Symbols = &SymbolRepo{db: pool, timeout: timeout}
	db.Checkpoints = &CheckpointRepo{db: pool, timeout: timeout}
	db.Results = &ResultsRepo{db: pool, timeout: timeout}
	return db, nil
}

// Close releases the pool.
func (d *DB) Close() error { return d.pool.Close() }
