// Package defi implements the protocol pools of the engine: time-weighted
// staking, collateralized lending, a constant-product liquidity pool and
// token-weighted governance.
//
// Every pool tracks logical balances only. Amounts are exact decimals; floating
// point appears only in derived read-only ratios such as prices and health
// factors. Each pool owns its position maps and serialises its public
// operations behind a per-pool mutex, so operations on one pool are atomic with
// respect to each other while different pools run independently. Operations
// validate everything before mutating, so a failed call leaves the pool as it
// was.
//
// Interest and rewards accrue lazily: each operation that touches a position
// first settles it up to the pool clock through ledger.Settle.
package defi

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolKind identifies the protocol a pool implements.
type PoolKind string

const (
	PoolKindStaking   PoolKind = "staking"
	PoolKindLending   PoolKind = "lending"
	PoolKindLiquidity PoolKind = "liquidity"
	PoolKindDAO       PoolKind = "dao"
)

// String returns the kind as a label value.
func (k PoolKind) String() string { return string(k) }

// Default protocol parameters.
var (
	DefaultCollateralRatio   = decimal.RequireFromString("1.5")
	DefaultFeeRate           = decimal.RequireFromString("0.003")
	DefaultProposalThreshold = decimal.NewFromInt(1000)
	DefaultQuorumPercentage  = decimal.NewFromInt(10)
)

// DefaultVotingPeriod is the voting window used when a DAO config leaves it unset.
const DefaultVotingPeriod = 7 * 24 * time.Hour

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Pool is the behaviour shared by every protocol pool.
type Pool interface {
	ID() string
	Kind() PoolKind
	CreatedAt() time.Time
}

var (
	_ Pool = (*StakingPool)(nil)
	_ Pool = (*LendingPool)(nil)
	_ Pool = (*LiquidityPool)(nil)
	_ Pool = (*GovernanceDAO)(nil)
)
