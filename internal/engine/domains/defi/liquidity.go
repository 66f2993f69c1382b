package defi

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
)

// LiquidityConfig describes a two-asset constant-product pool. A nil FeeRate
// selects DefaultFeeRate.
type LiquidityConfig struct {
	TokenA  string           `json:"token_a" yaml:"token_a"`
	TokenB  string           `json:"token_b" yaml:"token_b"`
	FeeRate *decimal.Decimal `json:"fee_rate,omitempty" yaml:"fee_rate"`
}

// Fee returns the effective fee rate.
func (c LiquidityConfig) Fee() decimal.Decimal {
	if c.FeeRate == nil {
		return DefaultFeeRate
	}
	return *c.FeeRate
}

// Validate checks the configuration.
func (c LiquidityConfig) Validate() error {
	fee := c.Fee()
	switch {
	case c.TokenA == "" || c.TokenB == "":
		return fmt.Errorf("%w: both tokens are required", ErrInvalidConfig)
	case c.TokenA == c.TokenB:
		return fmt.Errorf("%w: tokens must differ", ErrInvalidConfig)
	case fee.IsNegative() || !fee.LessThan(one):
		return fmt.Errorf("%w: fee rate must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// LiquidityShare is a provider's share balance.
type LiquidityShare struct {
	Owner  string          `json:"owner"`
	Shares decimal.Decimal `json:"shares"`
}

// LiquiditySnapshot is the persisted form of a liquidity pool.
type LiquiditySnapshot struct {
	ID             string           `json:"id"`
	Config         LiquidityConfig  `json:"config"`
	CreatedAt      time.Time        `json:"created_at"`
	ReserveA       decimal.Decimal  `json:"reserve_a"`
	ReserveB       decimal.Decimal  `json:"reserve_b"`
	TotalLiquidity decimal.Decimal  `json:"total_liquidity"`
	Providers      []LiquidityShare `json:"providers"`
}

// LiquidityPool is a constant-product market maker over two tokens. Every
// rounded outflow is truncated so the pool never pays out more than it holds.
type LiquidityPool struct {
	id        string
	cfg       LiquidityConfig
	fee       decimal.Decimal
	createdAt time.Time
	obs       observer

	mu             sync.Mutex
	reserveA       decimal.Decimal
	reserveB       decimal.Decimal
	totalLiquidity decimal.Decimal
	providers      map[string]decimal.Decimal
}

// NewLiquidityPool creates an empty pool.
func NewLiquidityPool(cfg LiquidityConfig, opts ...Option) (*LiquidityPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("new_liquidity_pool", "", err)
	}
	s := newSettings(opts)
	id := s.newID()
	fee := cfg.Fee()
	cfg.FeeRate = &fee
	return &LiquidityPool{
		id:             id,
		cfg:            cfg,
		fee:            fee,
		createdAt:      s.clock.Now(),
		obs:            newObserver(s, PoolKindLiquidity, id),
		reserveA:       decimal.Zero,
		reserveB:       decimal.Zero,
		totalLiquidity: decimal.Zero,
		providers:      make(map[string]decimal.Decimal),
	}, nil
}

// RestoreLiquidityPool rebuilds a pool from a snapshot after checking that
// the share supply matches the provider balances and that reserves back it.
func RestoreLiquidityPool(snap LiquiditySnapshot, opts ...Option) (*LiquidityPool, error) {
	const op = "restore_liquidity_pool"
	corrupt := func(format string, args ...any) error {
		return newError(op, snap.ID, fmt.Errorf("%w: "+format, append([]any{ErrCorruptSnapshot}, args...)...))
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, newError(op, snap.ID, err)
	}
	if snap.ID == "" {
		return nil, corrupt("missing pool id")
	}
	if snap.ReserveA.IsNegative() || snap.ReserveB.IsNegative() {
		return nil, corrupt("negative reserves")
	}

	providers := make(map[string]decimal.Decimal, len(snap.Providers))
	sum := decimal.Zero
	for _, p := range snap.Providers {
		if p.Owner == "" || !ledger.Positive(p.Shares) {
			return nil, corrupt("bad provider %q", p.Owner)
		}
		if _, dup := providers[p.Owner]; dup {
			return nil, corrupt("duplicate provider %q", p.Owner)
		}
		providers[p.Owner] = p.Shares
		sum = sum.Add(p.Shares)
	}
	if !sum.Equal(snap.TotalLiquidity) {
		return nil, corrupt("total liquidity %s != sum of shares %s", snap.TotalLiquidity, sum)
	}
	if sum.IsPositive() && (snap.ReserveA.IsZero() || snap.ReserveB.IsZero()) {
		return nil, corrupt("outstanding shares with an empty reserve")
	}

	s := newSettings(opts)
	cfg := snap.Config
	fee := cfg.Fee()
	cfg.FeeRate = &fee
	return &LiquidityPool{
		id:             snap.ID,
		cfg:            cfg,
		fee:            fee,
		createdAt:      snap.CreatedAt,
		obs:            newObserver(s, PoolKindLiquidity, snap.ID),
		reserveA:       snap.ReserveA,
		reserveB:       snap.ReserveB,
		totalLiquidity: sum,
		providers:      providers,
	}, nil
}

func (p *LiquidityPool) ID() string              { return p.id }
func (p *LiquidityPool) Kind() PoolKind          { return PoolKindLiquidity }
func (p *LiquidityPool) CreatedAt() time.Time    { return p.createdAt }
func (p *LiquidityPool) Config() LiquidityConfig { return p.cfg }

func (p *LiquidityPool) locked(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn()
}

// AddLiquidity deposits both tokens and mints shares. The first deposit mints
// sqrt(a*b); later deposits mint the smaller of the two pro-rata amounts, so
// an unbalanced deposit donates its excess to the pool.
func (p *LiquidityPool) AddLiquidity(user string, amountA, amountB decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	minted := decimal.Zero
	err := p.locked(func() error {
		if !ledger.Positive(amountA) || !ledger.Positive(amountB) {
			return ErrInvalidAmount
		}
		if p.totalLiquidity.IsZero() {
			minted = ledger.SqrtDown(amountA.Mul(amountB))
		} else {
			if p.reserveA.IsZero() || p.reserveB.IsZero() {
				return ErrEmptyPool
			}
			minted = ledger.MinOf(
				ledger.DivDown(amountA.Mul(p.totalLiquidity), p.reserveA),
				ledger.DivDown(amountB.Mul(p.totalLiquidity), p.reserveB),
			)
		}
		if !ledger.Positive(minted) {
			return ErrZeroLiquidityMinted
		}

		p.reserveA = p.reserveA.Add(amountA)
		p.reserveB = p.reserveB.Add(amountB)
		p.totalLiquidity = p.totalLiquidity.Add(minted)
		p.providers[user] = p.providers[user].Add(minted)
		return nil
	})
	err = p.obs.record(outcome{
		op: "add_liquidity", actor: user, amount: minted, event: events.EventLiquidityAdded,
		meta: map[string]string{"amount_a": amountA.String(), "amount_b": amountB.String()},
	}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	return minted, nil
}

// RemoveLiquidity burns shares and returns the pro-rata reserves. Burning the
// whole supply empties the pool exactly.
func (p *LiquidityPool) RemoveLiquidity(user string, shares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	start := time.Now()
	outA, outB := decimal.Zero, decimal.Zero
	err := p.locked(func() error {
		if !ledger.Positive(shares) {
			return ErrInvalidAmount
		}
		held := p.providers[user]
		if shares.GreaterThan(held) {
			return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientShares, shares, held)
		}
		if shares.Equal(p.totalLiquidity) {
			outA, outB = p.reserveA, p.reserveB
		} else {
			outA = ledger.DivDown(shares.Mul(p.reserveA), p.totalLiquidity)
			outB = ledger.DivDown(shares.Mul(p.reserveB), p.totalLiquidity)
		}

		p.reserveA = p.reserveA.Sub(outA)
		p.reserveB = p.reserveB.Sub(outB)
		p.totalLiquidity = p.totalLiquidity.Sub(shares)
		if remaining := held.Sub(shares); remaining.IsZero() {
			delete(p.providers, user)
		} else {
			p.providers[user] = remaining
		}
		return nil
	})
	err = p.obs.record(outcome{
		op: "remove_liquidity", actor: user, amount: shares, event: events.EventLiquidityRemoved,
		meta: map[string]string{"amount_a": outA.String(), "amount_b": outB.String()},
	}, start, err)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return outA, outB, nil
}

// quote computes a swap against the current reserves. Callers hold the lock.
func (p *LiquidityPool) quote(tokenIn string, amountIn decimal.Decimal) (out decimal.Decimal, inIsA bool, err error) {
	if !ledger.Positive(amountIn) {
		return decimal.Zero, false, ErrInvalidAmount
	}
	var reserveIn, reserveOut decimal.Decimal
	switch tokenIn {
	case p.cfg.TokenA:
		reserveIn, reserveOut, inIsA = p.reserveA, p.reserveB, true
	case p.cfg.TokenB:
		reserveIn, reserveOut = p.reserveB, p.reserveA
	default:
		return decimal.Zero, false, fmt.Errorf("%w: %q", ErrInvalidToken, tokenIn)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return decimal.Zero, false, ErrEmptyPool
	}

	withFee := amountIn.Mul(one.Sub(p.fee))
	out = ledger.DivDown(reserveOut.Mul(withFee), reserveIn.Add(withFee))
	if !ledger.Positive(out) {
		return decimal.Zero, false, fmt.Errorf("%w: output rounds to zero", ErrInvalidAmount)
	}
	return out, inIsA, nil
}

// QuoteSwap previews the output of a swap without executing it.
func (p *LiquidityPool) QuoteSwap(tokenIn string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	var out decimal.Decimal
	err := p.locked(func() error {
		var err error
		out, _, err = p.quote(tokenIn, amountIn)
		return err
	})
	return out, p.obs.record(outcome{op: "quote_swap", amount: amountIn}, start, err)
}

// Swap sells amountIn of tokenIn for the other token. The full input,
// including the fee, stays in the pool so the reserve product grows.
func (p *LiquidityPool) Swap(trader, tokenIn string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	var out decimal.Decimal
	err := p.locked(func() error {
		amountOut, inIsA, err := p.quote(tokenIn, amountIn)
		if err != nil {
			return err
		}
		if inIsA {
			p.reserveA = p.reserveA.Add(amountIn)
			p.reserveB = p.reserveB.Sub(amountOut)
		} else {
			p.reserveB = p.reserveB.Add(amountIn)
			p.reserveA = p.reserveA.Sub(amountOut)
		}
		out = amountOut
		return nil
	})
	err = p.obs.record(outcome{
		op: "swap", actor: trader, amount: amountIn, event: events.EventSwapped,
		meta: map[string]string{"token_in": tokenIn, "amount_out": out.String()},
	}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	p.obs.metrics.RecordSwapVolume(p.id, tokenIn, amountIn.InexactFloat64())
	return out, nil
}

// GetPrice returns the spot price of tokenIn in units of the other token.
func (p *LiquidityPool) GetPrice(tokenIn string) (float64, error) {
	start := time.Now()
	var price float64
	err := p.locked(func() error {
		var in, out decimal.Decimal
		switch tokenIn {
		case p.cfg.TokenA:
			in, out = p.reserveA, p.reserveB
		case p.cfg.TokenB:
			in, out = p.reserveB, p.reserveA
		default:
			return fmt.Errorf("%w: %q", ErrInvalidToken, tokenIn)
		}
		if in.IsZero() {
			return ErrEmptyPool
		}
		price = out.DivRound(in, ledger.Scale).InexactFloat64()
		return nil
	})
	return price, p.obs.record(outcome{op: "get_price"}, start, err)
}

// Shares returns the user's share balance.
func (p *LiquidityPool) Shares(user string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.providers[user]
}

// Reserves returns the current reserves of token A and token B.
func (p *LiquidityPool) Reserves() (decimal.Decimal, decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveA, p.reserveB
}

// TotalLiquidity returns the outstanding share supply.
func (p *LiquidityPool) TotalLiquidity() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLiquidity
}

// Product returns reserveA * reserveB.
func (p *LiquidityPool) Product() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveA.Mul(p.reserveB)
}

// Snapshot captures the pool state.
func (p *LiquidityPool) Snapshot() LiquiditySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	providers := make([]LiquidityShare, 0, len(p.providers))
	for owner, shares := range p.providers {
		providers = append(providers, LiquidityShare{Owner: owner, Shares: shares})
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Owner < providers[j].Owner })

	return LiquiditySnapshot{
		ID:             p.id,
		Config:         p.cfg,
		CreatedAt:      p.createdAt,
		ReserveA:       p.reserveA,
		ReserveB:       p.reserveB,
		TotalLiquidity: p.totalLiquidity,
		Providers:      providers,
	}
}
