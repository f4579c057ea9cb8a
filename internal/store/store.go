// Package store persists terminal pipeline outcomes for accuracy tracking
// and audit. The store is optional: pipelines run fine without it, and a
// failed write is logged by the caller rather than failing the request.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridpulse/panelgen/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS visualization_requests (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	request_text  TEXT NOT NULL,
	stage         TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	source_name   TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	dashboard_uid TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
)`

// Config holds the configuration for a Store.
type Config struct {
	Logger *slog.Logger
	DSN    string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DSN == "" {
		return errors.New("DSN is required")
	}
	return nil
}

// Store records visualization requests in Postgres.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// New connects and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping record store: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure record store schema: %w", err)
	}
	cfg.Logger.Info("record store initialized")
	return &Store{log: cfg.Logger, pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Record inserts one terminal pipeline outcome.
func (s *Store) Record(ctx context.Context, rec pipeline.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO visualization_requests
		 (user_id, request_text, stage, reason, source_name, content_hash, dashboard_uid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.UserID, rec.RequestText, string(rec.Stage), string(rec.Reason),
		rec.SourceName, rec.ContentHash, rec.DashboardUID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visualization record: %w", err)
	}
	return nil
}
