package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/pkg/logger"
	"github.com/R3E-Network/defi_engine/pkg/testutil"
)

var dec = ledger.MustParse

type fixture struct {
	reg     *Registry
	clock   *testutil.ManualClock
	journal *events.RingBuffer
}

func newFixture(ids string) *fixture {
	f := &fixture{
		clock:   testutil.NewManualClock(testutil.Epoch),
		journal: events.NewRingBuffer(512),
	}
	f.reg = New(
		WithClock(f.clock),
		WithJournal(f.journal),
		WithLogger(logger.NewNop()),
		WithIDGenerator(testutil.SequentialIDs(ids)),
	)
	return f
}

func samplePools() config.Pools {
	return config.Pools{
		Staking: []defi.StakingConfig{{Name: "NEO Staking", Asset: "NEO", APY: dec("0.1"), LockPeriod: time.Hour}},
		Lending: []defi.LendingConfig{{Asset: "GAS", InterestRate: dec("0.05")}},
		Liquidity: []defi.LiquidityConfig{
			{TokenA: "NEO", TokenB: "GAS"},
			{TokenA: "NEO", TokenB: "USDT"},
		},
		DAOs: []defi.DAOConfig{{Name: "Council", GovernanceToken: "NEO"}},
	}
}

// =============================================================================
// Creation and lookup
// =============================================================================

func TestRegistry_CreateAndLookup(t *testing.T) {
	f := newFixture("pool")

	sp, err := f.reg.CreateStakingPool(defi.StakingConfig{Asset: "NEO", APY: dec("0.1")})
	require.NoError(t, err)

	got, ok := f.reg.StakingPool(sp.ID())
	require.True(t, ok)
	assert.Same(t, sp, got)

	_, ok = f.reg.StakingPool("missing")
	assert.False(t, ok)
	_, ok = f.reg.LendingPool(sp.ID())
	assert.False(t, ok, "ids are looked up per kind")

	created := f.journal.RecentByType(events.EventPoolCreated, 10)
	require.Len(t, created, 1)
	assert.Equal(t, sp.ID(), created[0].PoolID)
	assert.Equal(t, "staking", created[0].PoolKind)
}

func TestRegistry_CreateRejectsInvalidConfig(t *testing.T) {
	f := newFixture("pool")

	_, err := f.reg.CreateLiquidityPool(defi.LiquidityConfig{TokenA: "NEO", TokenB: "NEO"})
	require.ErrorIs(t, err, defi.ErrInvalidConfig)
	assert.Empty(t, f.reg.LiquidityPools())
}

func TestRegistry_DuplicateIDs(t *testing.T) {
	reg := New(WithLogger(logger.NewNop()), WithIDGenerator(func() string { return "same" }))

	_, err := reg.CreateDAO(defi.DAOConfig{GovernanceToken: "NEO"})
	require.NoError(t, err)
	_, err = reg.CreateDAO(defi.DAOConfig{GovernanceToken: "GAS"})
	assert.ErrorIs(t, err, ErrDuplicatePool)
	assert.Len(t, reg.DAOs(), 1)
}

func TestRegistry_SeedKeepsCreationOrder(t *testing.T) {
	f := newFixture("pool")
	require.NoError(t, f.reg.Seed(samplePools()))

	amms := f.reg.LiquidityPools()
	require.Len(t, amms, 2)
	assert.Equal(t, "GAS", amms[0].Config().TokenB)
	assert.Equal(t, "USDT", amms[1].Config().TokenB)

	assert.Len(t, f.reg.StakingPools(), 1)
	assert.Len(t, f.reg.LendingPools(), 1)
	assert.Len(t, f.reg.DAOs(), 1)
}

func TestRegistry_SeedStopsOnInvalidPool(t *testing.T) {
	f := newFixture("pool")
	pools := samplePools()
	pools.Lending = append(pools.Lending, defi.LendingConfig{})

	err := f.reg.Seed(pools)
	require.ErrorIs(t, err, defi.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "seed lending pool 1")
}

// =============================================================================
// Stats
// =============================================================================

func TestRegistry_Stats(t *testing.T) {
	f := newFixture("pool")

	empty := f.reg.Stats()
	assert.Equal(t, 0.0, empty.UtilizationRate)
	assert.True(t, empty.TotalStaked.IsZero())

	require.NoError(t, f.reg.Seed(samplePools()))
	require.NoError(t, f.reg.StakingPools()[0].Stake("alice", dec("1000")))

	lp := f.reg.LendingPools()[0]
	require.NoError(t, lp.Deposit("alice", dec("4000")))
	require.NoError(t, lp.Borrow("bob", dec("1000"), dec("1500")))

	amm := f.reg.LiquidityPools()[0]
	_, err := amm.AddLiquidity("carol", dec("100"), dec("400"))
	require.NoError(t, err)

	s := f.reg.Stats()
	assert.Equal(t, 1, s.StakingPools)
	assert.Equal(t, 1, s.LendingPools)
	assert.Equal(t, 2, s.LiquidityPools)
	assert.Equal(t, 1, s.DAOs)
	assert.True(t, s.TotalStaked.Equal(dec("1000")))
	assert.True(t, s.TotalDeposits.Equal(dec("4000")))
	assert.True(t, s.TotalBorrowed.Equal(dec("1000")))
	assert.True(t, s.TotalLiquidity.Equal(dec("200")))
	assert.Equal(t, 0.25, s.UtilizationRate)
}

// =============================================================================
// Snapshot / Restore
// =============================================================================

func populated(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.reg.Seed(samplePools()))
	require.NoError(t, f.reg.StakingPools()[0].Stake("alice", dec("1000")))
	lp := f.reg.LendingPools()[0]
	require.NoError(t, lp.Deposit("alice", dec("5000")))
	require.NoError(t, lp.Borrow("bob", dec("100"), dec("150")))
	_, err := f.reg.LiquidityPools()[0].AddLiquidity("carol", dec("1000"), dec("1000"))
	require.NoError(t, err)
	dao := f.reg.DAOs()[0]
	require.NoError(t, dao.SetTokenBalance("alice", dec("5000")))
	p, err := dao.CreateProposal("alice", "Raise APY", "")
	require.NoError(t, err)
	require.NoError(t, dao.Vote(p.ID, "alice", true))
}

func TestRegistry_SnapshotRestoreRoundTrip(t *testing.T) {
	src := newFixture("pool")
	populated(t, src)
	src.clock.Advance(30 * 24 * time.Hour)

	snap := src.reg.Snapshot()
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, 5, snap.PoolCount())
	assert.Equal(t, src.clock.Now(), snap.TakenAt)

	// Snapshots travel as JSON through every store.
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := newFixture("other")
	require.NoError(t, dst.reg.Restore(decoded))

	want := src.reg.Stats()
	got := dst.reg.Stats()
	assert.True(t, want.TotalStaked.Equal(got.TotalStaked))
	assert.True(t, want.TotalDeposits.Equal(got.TotalDeposits))
	assert.True(t, want.TotalBorrowed.Equal(got.TotalBorrowed))
	assert.True(t, want.TotalLiquidity.Equal(got.TotalLiquidity))

	srcDAO := src.reg.DAOs()[0]
	dstDAO, ok := dst.reg.DAO(srcDAO.ID())
	require.True(t, ok)
	proposals := dstDAO.Proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{"alice"}, proposals[0].Voters)
	assert.ErrorIs(t, dstDAO.Vote(proposals[0].ID, "alice", false), defi.ErrAlreadyVoted)

	restored := dst.journal.RecentByType(events.EventRegistryRestored, 1)
	require.Len(t, restored, 1)
	assert.Equal(t, "5", restored[0].Metadata["pools"])
}

func TestRegistry_RestoreIsAllOrNothing(t *testing.T) {
	src := newFixture("pool")
	populated(t, src)
	snap := src.reg.Snapshot()
	snap.Lending[0].TotalBorrowed = dec("1")

	dst := newFixture("other")
	sp, err := dst.reg.CreateStakingPool(defi.StakingConfig{Asset: "BTC"})
	require.NoError(t, err)

	err = dst.reg.Restore(snap)
	require.ErrorIs(t, err, defi.ErrCorruptSnapshot)

	pools := dst.reg.StakingPools()
	require.Len(t, pools, 1)
	assert.Same(t, sp, pools[0])
}

func TestRegistry_RestoreRejectsUnknownVersion(t *testing.T) {
	f := newFixture("pool")
	err := f.reg.Restore(Snapshot{Version: 99})
	assert.Error(t, err)
}
