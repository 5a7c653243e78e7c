// Package store implements the durable candle store: a relational
// table of one-minute bars plus the watched-pairs list, reached over
// database/sql with the pgx stdlib driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"candlecache/internal/config"
)

// Store wraps a *sql.DB connected to the candle_data / coin_pair_watch
// schema, with retrying connect and pooling modeled on the same
// pattern as the rest of the pack's database libraries.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Connect opens a connection pool to PostgreSQL, retrying with
// exponential backoff up to cfg.RetryAttempts times, then creates the
// schema if it doesn't already exist.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: empty DSN")
	}

	var db *sql.DB
	var err error
	delay := cfg.RetryDelay.Std()

	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			continue
		}

		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime.Std())

		if err = db.PingContext(ctx); err != nil {
			db.Close()
			continue
		}

		logger.Info("store connected",
			zap.Int("max_open_conns", cfg.MaxOpenConns),
			zap.Int("attempt", attempt),
		)

		s := &Store{db: db, logger: logger}
		if err := s.initSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: init schema: %w", err)
		}
		return s, nil
	}

	return nil, fmt.Errorf("store: failed to connect after %d attempts: %w", cfg.RetryAttempts+1, err)
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS coin_pair_watch (
			id SERIAL PRIMARY KEY,
			coin_pair TEXT NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS candle_data (
			id BIGSERIAL PRIMARY KEY,
			coin_pair TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			volume_quote DOUBLE PRECISION NOT NULL,
			confirm SMALLINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(coin_pair, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candle_coin_pair ON candle_data(coin_pair)`,
		`CREATE INDEX IF NOT EXISTS idx_candle_timestamp ON candle_data(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_candle_coin_timestamp ON candle_data(coin_pair, timestamp DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// HealthCheck pings the database with a bounded timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
