package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
)

const schema = `CREATE TABLE IF NOT EXISTS defi_snapshots (
	id         BIGSERIAL PRIMARY KEY,
	version    INTEGER NOT NULL,
	taken_at   TIMESTAMPTZ NOT NULL,
	pool_count INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const (
	insertSnapshot = `INSERT INTO defi_snapshots (version, taken_at, pool_count, payload) VALUES ($1, $2, $3, $4)`
	latestSnapshot = `SELECT payload FROM defi_snapshots ORDER BY id DESC LIMIT 1`
)

// PostgresStore appends every snapshot to the defi_snapshots table and loads
// the newest row.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgresStore connects to Postgres and creates the table if needed.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the snapshot table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create defi_snapshots: %w", err)
	}
	return nil
}

// Save inserts a new row.
func (s *PostgresStore) Save(ctx context.Context, snap registry.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertSnapshot, snap.Version, snap.TakenAt, snap.PoolCount(), data); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns the newest row.
func (s *PostgresStore) Load(ctx context.Context) (registry.Snapshot, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, latestSnapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return registry.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return decode(payload)
}

func (s *PostgresStore) Backend() string { return config.BackendPostgres }

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
