package registry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
)

// SnapshotVersion is the current snapshot layout.
const SnapshotVersion = 1

// Snapshot is the serialisable state of every pool in the registry.
type Snapshot struct {
	Version   int                      `json:"version"`
	TakenAt   time.Time                `json:"taken_at"`
	Staking   []defi.StakingSnapshot   `json:"staking"`
	Lending   []defi.LendingSnapshot   `json:"lending"`
	Liquidity []defi.LiquiditySnapshot `json:"liquidity"`
	DAOs      []defi.DAOSnapshot       `json:"daos"`
}

// PoolCount returns the number of pools in the snapshot.
func (s Snapshot) PoolCount() int {
	return len(s.Staking) + len(s.Lending) + len(s.Liquidity) + len(s.DAOs)
}

// Snapshot captures every pool. Each pool is captured under its own lock, so
// a snapshot taken during traffic is consistent per pool.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Version: SnapshotVersion, TakenAt: r.clock.Now()}
	for _, p := range r.StakingPools() {
		snap.Staking = append(snap.Staking, p.Snapshot())
	}
	for _, p := range r.LendingPools() {
		snap.Lending = append(snap.Lending, p.Snapshot())
	}
	for _, p := range r.LiquidityPools() {
		snap.Liquidity = append(snap.Liquidity, p.Snapshot())
	}
	for _, d := range r.DAOs() {
		snap.DAOs = append(snap.DAOs, d.Snapshot())
	}
	return snap
}

// Restore replaces the registry contents with the pools in snap. Every pool
// is rebuilt and checked first; on any error the registry is left unchanged.
func (r *Registry) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("restore: unsupported snapshot version %d", snap.Version)
	}

	staking := newCatalog[*defi.StakingPool]()
	for _, s := range snap.Staking {
		p, err := defi.RestoreStakingPool(s, r.poolOpts...)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if err := staking.add(p); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	lending := newCatalog[*defi.LendingPool]()
	for _, s := range snap.Lending {
		p, err := defi.RestoreLendingPool(s, r.poolOpts...)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if err := lending.add(p); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	liquidity := newCatalog[*defi.LiquidityPool]()
	for _, s := range snap.Liquidity {
		p, err := defi.RestoreLiquidityPool(s, r.poolOpts...)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if err := liquidity.add(p); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	daos := newCatalog[*defi.GovernanceDAO]()
	for _, s := range snap.DAOs {
		d, err := defi.RestoreGovernanceDAO(s, r.poolOpts...)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if err := daos.add(d); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	r.mu.Lock()
	r.staking, r.lending, r.liquidity, r.daos = staking, lending, liquidity, daos
	r.mu.Unlock()

	r.log.WithField("pools", snap.PoolCount()).
		WithField("taken_at", snap.TakenAt).
		Info("registry restored")
	events.NewEvent(events.EventRegistryRestored).
		At(r.clock.Now()).
		Metadata("pools", strconv.Itoa(snap.PoolCount())).
		Metadata("taken_at", snap.TakenAt.Format(time.RFC3339)).
		LogTo(r.journal)
	r.recordCounts()
	return nil
}
