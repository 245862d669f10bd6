package lastgood

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a PostgreSQL-backed [Store]. Snapshots survive process
// restarts, so a freshly deployed instance can serve degraded answers for
// cities it has seen before.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the snapshot table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("lastgood store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("lastgood store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lastgood store: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lastgood store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// migrate creates the snapshot table if it does not exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS feature_snapshots (
			feature  TEXT        NOT NULL,
			city     TEXT        NOT NULL,
			payload  JSONB       NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (feature, city)
		)`)
	return err
}

// Put implements [Store].
func (s *PostgresStore) Put(ctx context.Context, feature, city string, payload []byte) error {
	feature, city = key(feature, city)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_snapshots (feature, city, payload, saved_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (feature, city)
		DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`,
		feature, city, payload)
	if err != nil {
		return fmt.Errorf("lastgood store: put %s/%s: %w", feature, city, err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, feature, city string) (*Snapshot, error) {
	feature, city = key(feature, city)
	snap := &Snapshot{Feature: feature, City: city}

	row := s.pool.QueryRow(ctx, `
		SELECT payload, saved_at
		FROM feature_snapshots
		WHERE feature = $1 AND city = $2`,
		feature, city)
	if err := row.Scan(&snap.Payload, &snap.SavedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lastgood store: get %s/%s: %w", feature, city, err)
	}
	return snap, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}
