// Package snapshot persists registry snapshots and saves them on a schedule.
// Stores keep the latest snapshot in memory, in Redis or in Postgres; the
// Scheduler writes one through a retry policy on every cron tick.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store saves and loads the latest registry snapshot.
type Store interface {
	Save(ctx context.Context, snap registry.Snapshot) error
	Load(ctx context.Context) (registry.Snapshot, error)
	Backend() string
	Close() error
}

// Open builds the store selected by cfg.Backend. It returns nil for the
// "none" backend.
func Open(ctx context.Context, cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		s, err := OpenRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := OpenPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

func encode(snap registry.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return registry.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
