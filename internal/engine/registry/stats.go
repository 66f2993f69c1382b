package registry

import (
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/internal/engine/metrics"
)

// Stats aggregates the registry. Totals are recomputed from the pools on
// every call.
type Stats struct {
	StakingPools    int             `json:"staking_pools"`
	LendingPools    int             `json:"lending_pools"`
	LiquidityPools  int             `json:"liquidity_pools"`
	DAOs            int             `json:"daos"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	TotalDeposits   decimal.Decimal `json:"total_deposits"`
	TotalBorrowed   decimal.Decimal `json:"total_borrowed"`
	TotalLiquidity  decimal.Decimal `json:"total_liquidity"`
	UtilizationRate float64         `json:"utilization_rate"`
}

// Stats sums the pool totals and publishes them as gauges. Utilization is
// borrowed over deposited, or zero when nothing is deposited.
func (r *Registry) Stats() Stats {
	staking := r.StakingPools()
	lending := r.LendingPools()
	liquidity := r.LiquidityPools()
	daos := r.DAOs()

	s := Stats{
		StakingPools:   len(staking),
		LendingPools:   len(lending),
		LiquidityPools: len(liquidity),
		DAOs:           len(daos),
		TotalStaked:    decimal.Zero,
		TotalDeposits:  decimal.Zero,
		TotalBorrowed:  decimal.Zero,
		TotalLiquidity: decimal.Zero,
	}
	for _, p := range staking {
		s.TotalStaked = s.TotalStaked.Add(p.TotalStaked())
	}
	for _, p := range lending {
		s.TotalDeposits = s.TotalDeposits.Add(p.TotalDeposits())
		s.TotalBorrowed = s.TotalBorrowed.Add(p.TotalBorrowed())
	}
	for _, p := range liquidity {
		s.TotalLiquidity = s.TotalLiquidity.Add(p.TotalLiquidity())
	}
	if ledger.Positive(s.TotalDeposits) {
		s.UtilizationRate = s.TotalBorrowed.DivRound(s.TotalDeposits, ledger.Scale).InexactFloat64()
	}

	r.metrics.RecordTotals(metrics.Totals{
		Staked:      s.TotalStaked.InexactFloat64(),
		Deposits:    s.TotalDeposits.InexactFloat64(),
		Borrowed:    s.TotalBorrowed.InexactFloat64(),
		Liquidity:   s.TotalLiquidity.InexactFloat64(),
		Utilization: s.UtilizationRate,
	})
	r.recordCounts()
	return s
}
