package defi

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
)

func newAMM(t *testing.T, h *harness) *LiquidityPool {
	t.Helper()
	p, err := NewLiquidityPool(LiquidityConfig{TokenA: "NEO", TokenB: "GAS"}, h.opts...)
	require.NoError(t, err)
	return p
}

// =============================================================================
// Construction
// =============================================================================

func TestNewLiquidityPool_Config(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)
	assertDecimal(t, "0.003", p.Config().Fee())
	assert.Equal(t, PoolKindLiquidity, p.Kind())

	zero := decimal.Zero
	free, err := NewLiquidityPool(LiquidityConfig{TokenA: "A", TokenB: "B", FeeRate: &zero})
	require.NoError(t, err)
	assertDecimal(t, "0", free.Config().Fee())

	tests := []struct {
		name string
		cfg  LiquidityConfig
	}{
		{"missing token", LiquidityConfig{TokenA: "A"}},
		{"same token", LiquidityConfig{TokenA: "A", TokenB: "A"}},
		{"fee of one", LiquidityConfig{TokenA: "A", TokenB: "B", FeeRate: ptr(dec("1"))}},
		{"negative fee", LiquidityConfig{TokenA: "A", TokenB: "B", FeeRate: ptr(dec("0.1").Neg())}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLiquidityPool(tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

// =============================================================================
// Liquidity provision
// =============================================================================

func TestLiquidityPool_AddLiquidity(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)

	shares, err := p.AddLiquidity("alice", dec("1000"), dec("1000"))
	require.NoError(t, err)
	assertDecimal(t, "1000", shares)

	shares, err = p.AddLiquidity("bob", dec("500"), dec("500"))
	require.NoError(t, err)
	assertDecimal(t, "500", shares)

	// Unbalanced deposits mint against the scarcer side.
	shares, err = p.AddLiquidity("carol", dec("100"), dec("300"))
	require.NoError(t, err)
	assertDecimal(t, "100", shares)

	a, b := p.Reserves()
	assertDecimal(t, "1600", a)
	assertDecimal(t, "1800", b)
	assertDecimal(t, "1600", p.TotalLiquidity())
	assertDecimal(t, "100", p.Shares("carol"))
}

func TestLiquidityPool_AddLiquidityValidation(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)

	_, err := p.AddLiquidity("alice", dec("0"), dec("10"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = p.AddLiquidity("alice", dec("0.000000000000000001"), dec("0.0000000000000000001"))
	assert.ErrorIs(t, err, ErrZeroLiquidityMinted)

	assertDecimal(t, "0", p.TotalLiquidity())
}

func TestLiquidityPool_RoundTripSoleProvider(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)

	shares, err := p.AddLiquidity("alice", dec("1234.5"), dec("98.76"))
	require.NoError(t, err)

	a, b, err := p.RemoveLiquidity("alice", shares)
	require.NoError(t, err)
	assertDecimal(t, "1234.5", a)
	assertDecimal(t, "98.76", b)
	assertDecimal(t, "0", p.TotalLiquidity())
	assertDecimal(t, "0", p.Shares("alice"))
}

func TestLiquidityPool_RemoveLiquidity(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)
	_, err := p.AddLiquidity("alice", dec("1000"), dec("1000"))
	require.NoError(t, err)
	_, err = p.Swap("trader", "NEO", dec("100"))
	require.NoError(t, err)

	_, _, err = p.RemoveLiquidity("alice", dec("1000.1"))
	require.ErrorIs(t, err, ErrInsufficientShares)
	assert.True(t, IsValidation(err))

	_, _, err = p.RemoveLiquidity("bob", dec("1"))
	assert.ErrorIs(t, err, ErrInsufficientShares)

	reserveA, reserveB := p.Reserves()
	a, b, err := p.RemoveLiquidity("alice", dec("333"))
	require.NoError(t, err)

	// Payouts never exceed the exact pro-rata claim.
	assert.True(t, a.Mul(dec("1000")).LessThanOrEqual(dec("333").Mul(reserveA)))
	assert.True(t, b.Mul(dec("1000")).LessThanOrEqual(dec("333").Mul(reserveB)))
	assertDecimal(t, "366.3", a)
	assertDecimal(t, "667", p.Shares("alice"))
}

// =============================================================================
// Swaps
// =============================================================================

func TestLiquidityPool_SwapExample(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)
	_, err := p.AddLiquidity("alice", dec("1000"), dec("1000"))
	require.NoError(t, err)
	before := p.Product()

	quote, err := p.QuoteSwap("NEO", dec("100"))
	require.NoError(t, err)

	out, err := p.Swap("trader", "NEO", dec("100"))
	require.NoError(t, err)
	assertDecimal(t, "90.661089388014913158", out)
	assert.True(t, quote.Equal(out))

	a, b := p.Reserves()
	assertDecimal(t, "1100", a)
	assertDecimal(t, "909.338910611985086842", b)

	after := p.Product()
	assert.True(t, after.GreaterThan(before))
	assert.InDelta(t, 1000272.8, after.InexactFloat64(), 0.01)

	swapped := h.journal.RecentByType(events.EventSwapped, 1)
	require.Len(t, swapped, 1)
	assert.Equal(t, "NEO", swapped[0].Metadata["token_in"])
	assert.Equal(t, out.String(), swapped[0].Metadata["amount_out"])
}

func TestLiquidityPool_ProductGrowsOnEverySwap(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)
	_, err := p.AddLiquidity("alice", dec("5000"), dec("20000"))
	require.NoError(t, err)

	trades := []struct {
		token  string
		amount string
	}{
		{"NEO", "10"}, {"GAS", "250"}, {"NEO", "0.5"}, {"GAS", "1999.99"}, {"NEO", "700"},
	}
	prev := p.Product()
	for _, tr := range trades {
		_, err := p.Swap("trader", tr.token, dec(tr.amount))
		require.NoError(t, err)
		next := p.Product()
		assert.True(t, next.GreaterThan(prev), "product fell after %s %s", tr.amount, tr.token)
		prev = next
	}
}

func TestLiquidityPool_ZeroFeeNeverLosesProduct(t *testing.T) {
	h := newHarness()
	zero := decimal.Zero
	p, err := NewLiquidityPool(LiquidityConfig{TokenA: "A", TokenB: "B", FeeRate: &zero}, h.opts...)
	require.NoError(t, err)
	_, err = p.AddLiquidity("alice", dec("1000"), dec("3000"))
	require.NoError(t, err)

	prev := p.Product()
	for i := 0; i < 5; i++ {
		_, err := p.Swap("trader", "A", dec("37"))
		require.NoError(t, err)
		next := p.Product()
		assert.True(t, next.GreaterThanOrEqual(prev))
		prev = next
	}
}

func TestLiquidityPool_SwapErrors(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)

	_, err := p.Swap("trader", "NEO", dec("10"))
	require.ErrorIs(t, err, ErrEmptyPool)
	assert.True(t, IsState(err))

	_, err = p.AddLiquidity("alice", dec("1000"), dec("1000"))
	require.NoError(t, err)

	_, err = p.Swap("trader", "BTC", dec("10"))
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, IsValidation(err))

	_, err = p.Swap("trader", "NEO", dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	a, b := p.Reserves()
	assertDecimal(t, "1000", a)
	assertDecimal(t, "1000", b)
}

func TestLiquidityPool_GetPrice(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)

	_, err := p.GetPrice("NEO")
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = p.AddLiquidity("alice", dec("1000"), dec("2000"))
	require.NoError(t, err)

	price, err := p.GetPrice("NEO")
	require.NoError(t, err)
	assert.Equal(t, 2.0, price)

	price, err = p.GetPrice("GAS")
	require.NoError(t, err)
	assert.Equal(t, 0.5, price)

	_, err = p.GetPrice("BTC")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// =============================================================================
// Snapshots
// =============================================================================

func TestLiquidityPool_SnapshotRestore(t *testing.T) {
	h := newHarness()
	p := newAMM(t, h)
	_, err := p.AddLiquidity("alice", dec("1000"), dec("1000"))
	require.NoError(t, err)
	_, err = p.AddLiquidity("bob", dec("10"), dec("10"))
	require.NoError(t, err)

	snap := p.Snapshot()
	restored, err := RestoreLiquidityPool(snap, h.opts...)
	require.NoError(t, err)
	assert.True(t, restored.Product().Equal(p.Product()))
	assertDecimal(t, "10", restored.Shares("bob"))
	assertDecimal(t, "0.003", restored.Config().Fee())

	snap.Providers = snap.Providers[:1]
	_, err = RestoreLiquidityPool(snap)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}
