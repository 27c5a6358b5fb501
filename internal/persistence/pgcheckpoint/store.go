// Package pgcheckpoint implements the checkpoint store on PostgreSQL.
// A transaction-scoped advisory lock serializes read-modify-write per
// (key, table) pair so concurrent advances from different workers never
// regress a watermark.
package pgcheckpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/stratapipe/strata/internal/checkpoint"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

var _ checkpoint.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS strata_checkpoints (
	checkpoint_key TEXT NOT NULL,
	table_name     TEXT NOT NULL,
	value          TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (checkpoint_key, table_name)
)`

// Store is a PostgreSQL-backed checkpoint store.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and ensures the checkpoint table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure checkpoint table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, key, table string) (*checkpoint.Entry, error) {
	var entry checkpoint.Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM strata_checkpoints WHERE checkpoint_key = $1 AND table_name = $2`,
		key, table,
	).Scan(&entry.Value, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", checkpoint.ErrCheckpoint, key, table, err)
	}
	if entry.Value == "" {
		return nil, fmt.Errorf("%w: %s:%s: empty watermark", checkpoint.ErrCheckpoint, key, table)
	}
	return &entry, nil
}

// Advance implements checkpoint.Store.
func (s *Store) Advance(ctx context.Context, key, table, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Advisory lock is released automatically at commit/rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID(key, table)); err != nil {
		return fmt.Errorf("failed to acquire checkpoint lock for %s:%s: %w", key, table, err)
	}

	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM strata_checkpoints WHERE checkpoint_key = $1 AND table_name = $2`,
		key, table,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s:%s: %v", checkpoint.ErrCheckpoint, key, table, err)
	}
	if current.Valid && checkpoint.Compare(current.String, value) >= 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strata_checkpoints (checkpoint_key, table_name, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (checkpoint_key, table_name)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, table, value, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to persist checkpoint %s:%s: %w", key, table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint %s:%s: %w", key, table, err)
	}

	logger.Debug(ctx, "Advanced checkpoint",
		tag.CheckpointKey(key),
		tag.Table(table),
		tag.Watermark(value))
	return nil
}

// Reset implements checkpoint.Store.
func (s *Store) Reset(ctx context.Context, key, table string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM strata_checkpoints WHERE checkpoint_key = $1 AND table_name = $2`,
		key, table,
	); err != nil {
		return fmt.Errorf("failed to reset checkpoint %s:%s: %w", key, table, err)
	}
	logger.Info(ctx, "Checkpoint reset",
		tag.CheckpointKey(key),
		tag.Table(table))
	return nil
}

// lockID converts the pair into a 64-bit advisory lock key using an FNV hash.
func lockID(key, table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(table))
	return int64(h.Sum64())
}
