package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
	"github.com/R3E-Network/defi_engine/internal/engine/snapshot"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

func pools() config.Pools {
	return config.Pools{
		Staking: []defi.StakingConfig{{Name: "NEO", Asset: "NEO", APY: ledger.MustParse("0.05"), MinStake: ledger.MustParse("1")}},
		Lending: []defi.LendingConfig{{Asset: "GAS", InterestRate: ledger.MustParse("0.04")}},
	}
}

func TestBootstrap_SeedsWithoutStore(t *testing.T) {
	reg := registry.New(registry.WithLogger(logger.NewNop()))
	require.NoError(t, bootstrap(context.Background(), reg, nil, pools(), logger.NewNop()))
	assert.Len(t, reg.StakingPools(), 1)
	assert.Len(t, reg.LendingPools(), 1)
}

func TestBootstrap_SeedsOnEmptyStore(t *testing.T) {
	reg := registry.New(registry.WithLogger(logger.NewNop()))
	store := snapshot.NewMemoryStore()
	require.NoError(t, bootstrap(context.Background(), reg, store, pools(), logger.NewNop()))
	assert.Len(t, reg.StakingPools(), 1)
}

func TestBootstrap_RestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	src := registry.New(registry.WithLogger(logger.NewNop()))
	pool, err := src.CreateStakingPool(pools().Staking[0])
	require.NoError(t, err)
	require.NoError(t, pool.Stake("alice", ledger.MustParse("42")))

	store := snapshot.NewMemoryStore()
	require.NoError(t, store.Save(ctx, src.Snapshot()))

	reg := registry.New(registry.WithLogger(logger.NewNop()))
	require.NoError(t, bootstrap(ctx, reg, store, pools(), logger.NewNop()))

	// restored state wins over the configured pools
	assert.Len(t, reg.LendingPools(), 0)
	restored, ok := reg.StakingPool(pool.ID())
	require.True(t, ok)
	assert.True(t, restored.TotalStaked().Equal(ledger.MustParse("42")))
}
