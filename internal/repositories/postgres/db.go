// Package postgres implements the repositories on PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	driverName         = "postgres"
	defaultMaxOpen     = 10
	defaultConnMaxIdle = 5 * time.Minute
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

// Open opens a pooled connection and verifies it with a ping.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	idle := opts.ConnMaxIdleTime
	if idle <= 0 {
		idle = defaultConnMaxIdle
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxIdleTime(idle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}
