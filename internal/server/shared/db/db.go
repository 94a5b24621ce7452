// Package db opens the PostgreSQL pool shared by the repositories.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
)

// openDB is a test seam.
var openDB = sql.Open

// Options tunes the pool and the startup connection attempts.
type Options struct {
	MaxOpenConns int
	// ConnectAttempts bounds pings while the database comes up.
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
}

// Open opens a pgx-backed pool and waits until the database answers.
func Open(ctx context.Context, dsn string, o Options) (*sql.DB, error) {
	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
		db.SetMaxIdleConns(o.MaxOpenConns)
	}
	if o.ConnectBackoff <= 0 {
		o.ConnectBackoff = 500 * time.Millisecond
	}

	b := retry.WithMaxRetries(o.ConnectAttempts, retry.NewConstant(o.ConnectBackoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
