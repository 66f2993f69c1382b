// Package domains groups the protocol implementations hosted by the engine.
//
// # Architecture Overview
//
// Each domain package owns a family of pools. A pool is a self-contained unit
// of state guarded by its own mutex; the registry in internal/engine/registry
// owns the set of pools and aggregates their totals.
//
// # Available Domains
//
//   - defi: time-weighted staking, collateralized lending, a constant-product
//     liquidity pool and token-weighted governance.
//
// # Implementation Pattern
//
// Pools in a domain package should:
//
//  1. Take a validated config struct and functional options for the clock,
//     logger, event journal, metrics collector and id generator
//  2. Validate every argument before mutating any state
//  3. Report each operation through the shared metrics and event journal
//  4. Expose a Snapshot method and a Restore constructor that re-checks the
//     pool's invariants
//
// Example:
//
//	pool, err := defi.NewStakingPool(defi.StakingConfig{
//	    Asset:      "NEO",
//	    APY:        decimal.RequireFromString("0.08"),
//	    LockPeriod: 7 * 24 * time.Hour,
//	}, defi.WithJournal(journal))
package domains
