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

// LendingConfig describes a lending pool.
type LendingConfig struct {
	Asset           string          `json:"asset" yaml:"asset"`
	InterestRate    decimal.Decimal `json:"interest_rate" yaml:"interest_rate"`
	CollateralRatio decimal.Decimal `json:"collateral_ratio" yaml:"collateral_ratio"`
}

func (c LendingConfig) withDefaults() LendingConfig {
	if c.CollateralRatio.IsZero() {
		c.CollateralRatio = DefaultCollateralRatio
	}
	return c
}

// Validate checks the configuration. A zero collateral ratio is replaced by
// DefaultCollateralRatio before validation.
func (c LendingConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Asset == "":
		return fmt.Errorf("%w: lending asset is required", ErrInvalidConfig)
	case c.InterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidConfig)
	case !ledger.Positive(c.CollateralRatio):
		return fmt.Errorf("%w: collateral ratio must be positive", ErrInvalidConfig)
	}
	return nil
}

// DepositPosition is a lender's balance as stored by the pool.
type DepositPosition struct {
	Owner     string          `json:"owner"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	OpenedAt  time.Time       `json:"opened_at"`
	AccruedAt time.Time       `json:"accrued_at"`
}

// LoanPosition is a borrower's loan as stored by the pool.
type LoanPosition struct {
	Owner      string          `json:"owner"`
	Principal  decimal.Decimal `json:"principal"`
	Interest   decimal.Decimal `json:"interest"`
	Collateral decimal.Decimal `json:"collateral"`
	OpenedAt   time.Time       `json:"opened_at"`
	AccruedAt  time.Time       `json:"accrued_at"`
}

// DepositView is a settled read of a deposit.
type DepositView struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
}

// LoanView is a settled read of a loan.
type LoanView struct {
	Principal    decimal.Decimal `json:"principal"`
	Interest     decimal.Decimal `json:"interest"`
	Collateral   decimal.Decimal `json:"collateral"`
	TotalOwed    decimal.Decimal `json:"total_owed"`
	HealthFactor float64         `json:"health_factor"`
	Liquidatable bool            `json:"liquidatable"`
}

// RepayResult reports the effect of a repayment.
type RepayResult struct {
	Repaid             decimal.Decimal `json:"repaid"`
	CollateralReleased decimal.Decimal `json:"collateral_released"`
	Remaining          decimal.Decimal `json:"remaining"`
}

// LendingSnapshot is the persisted form of a lending pool.
type LendingSnapshot struct {
	ID            string            `json:"id"`
	Config        LendingConfig     `json:"config"`
	CreatedAt     time.Time         `json:"created_at"`
	TotalDeposits decimal.Decimal   `json:"total_deposits"`
	TotalBorrowed decimal.Decimal   `json:"total_borrowed"`
	Deposits      []DepositPosition `json:"deposits"`
	Loans         []LoanPosition    `json:"loans"`
}

// LendingPool takes interest-bearing deposits and lends them against
// collateral. Running totals track principal only.
type LendingPool struct {
	id        string
	cfg       LendingConfig
	createdAt time.Time
	obs       observer

	mu            sync.Mutex
	totalDeposits decimal.Decimal
	totalBorrowed decimal.Decimal
	deposits      map[string]*DepositPosition
	loans         map[string]*LoanPosition
}

// NewLendingPool creates an empty lending pool.
func NewLendingPool(cfg LendingConfig, opts ...Option) (*LendingPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("new_lending_pool", "", err)
	}
	s := newSettings(opts)
	id := s.newID()
	return &LendingPool{
		id:            id,
		cfg:           cfg.withDefaults(),
		createdAt:     s.clock.Now(),
		obs:           newObserver(s, PoolKindLending, id),
		totalDeposits: decimal.Zero,
		totalBorrowed: decimal.Zero,
		deposits:      make(map[string]*DepositPosition),
		loans:         make(map[string]*LoanPosition),
	}, nil
}

// RestoreLendingPool rebuilds a pool from a snapshot after checking that both
// running totals match their positions.
func RestoreLendingPool(snap LendingSnapshot, opts ...Option) (*LendingPool, error) {
	const op = "restore_lending_pool"
	corrupt := func(format string, args ...any) error {
		return newError(op, snap.ID, fmt.Errorf("%w: "+format, append([]any{ErrCorruptSnapshot}, args...)...))
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, newError(op, snap.ID, err)
	}
	if snap.ID == "" {
		return nil, corrupt("missing pool id")
	}

	deposits := make(map[string]*DepositPosition, len(snap.Deposits))
	depositSum := decimal.Zero
	for _, d := range snap.Deposits {
		if d.Owner == "" || d.Principal.IsNegative() || d.Interest.IsNegative() {
			return nil, corrupt("bad deposit %q", d.Owner)
		}
		if _, dup := deposits[d.Owner]; dup {
			return nil, corrupt("duplicate depositor %q", d.Owner)
		}
		pos := d
		deposits[d.Owner] = &pos
		depositSum = depositSum.Add(d.Principal)
	}

	loans := make(map[string]*LoanPosition, len(snap.Loans))
	loanSum := decimal.Zero
	for _, l := range snap.Loans {
		if l.Owner == "" || l.Principal.IsNegative() || l.Interest.IsNegative() || l.Collateral.IsNegative() {
			return nil, corrupt("bad loan %q", l.Owner)
		}
		if _, dup := loans[l.Owner]; dup {
			return nil, corrupt("duplicate borrower %q", l.Owner)
		}
		pos := l
		loans[l.Owner] = &pos
		loanSum = loanSum.Add(l.Principal)
	}

	if !depositSum.Equal(snap.TotalDeposits) {
		return nil, corrupt("total deposits %s != sum of deposits %s", snap.TotalDeposits, depositSum)
	}
	if !loanSum.Equal(snap.TotalBorrowed) {
		return nil, corrupt("total borrowed %s != sum of loans %s", snap.TotalBorrowed, loanSum)
	}

	s := newSettings(opts)
	return &LendingPool{
		id:            snap.ID,
		cfg:           snap.Config.withDefaults(),
		createdAt:     snap.CreatedAt,
		obs:           newObserver(s, PoolKindLending, snap.ID),
		totalDeposits: depositSum,
		totalBorrowed: loanSum,
		deposits:      deposits,
		loans:         loans,
	}, nil
}

func (p *LendingPool) ID() string            { return p.id }
func (p *LendingPool) Kind() PoolKind        { return PoolKindLending }
func (p *LendingPool) CreatedAt() time.Time  { return p.createdAt }
func (p *LendingPool) Config() LendingConfig { return p.cfg }

func (p *LendingPool) locked(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn()
}

func (p *LendingPool) settleDeposit(d *DepositPosition, now time.Time) (decimal.Decimal, time.Time) {
	return ledger.Settle(d.Principal, p.cfg.InterestRate, d.Interest, d.AccruedAt, now)
}

func (p *LendingPool) settleLoan(l *LoanPosition, now time.Time) (decimal.Decimal, time.Time) {
	return ledger.Settle(l.Principal, p.cfg.InterestRate, l.Interest, l.AccruedAt, now)
}

// Deposit credits amount to the user's deposit after settling its interest.
func (p *LendingPool) Deposit(user string, amount decimal.Decimal) error {
	start := time.Now()
	err := p.locked(func() error {
		if !ledger.Positive(amount) {
			return ErrInvalidAmount
		}
		now := p.obs.clock.Now()
		if d, ok := p.deposits[user]; ok {
			d.Interest, d.AccruedAt = p.settleDeposit(d, now)
			d.Principal = d.Principal.Add(amount)
		} else {
			p.deposits[user] = &DepositPosition{
				Owner:     user,
				Principal: amount,
				Interest:  decimal.Zero,
				OpenedAt:  now,
				AccruedAt: now,
			}
		}
		p.totalDeposits = p.totalDeposits.Add(amount)
		return nil
	})
	return p.obs.record(outcome{op: "deposit", actor: user, amount: amount, event: events.EventDeposited}, start, err)
}

// Withdraw pays out amount from the user's principal plus interest. Accrued
// interest is drawn first. Principal can only leave the pool while it is not
// lent out.
func (p *LendingPool) Withdraw(user string, amount decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	err := p.locked(func() error {
		if !ledger.Positive(amount) {
			return ErrInvalidAmount
		}
		d, ok := p.deposits[user]
		if !ok {
			return ErrNoPosition
		}
		interest, accruedAt := p.settleDeposit(d, p.obs.clock.Now())
		if available := d.Principal.Add(interest); amount.GreaterThan(available) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount, available)
		}
		fromInterest := ledger.MinOf(amount, interest)
		fromPrincipal := amount.Sub(fromInterest)
		if free := p.totalDeposits.Sub(p.totalBorrowed); fromPrincipal.GreaterThan(free) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, fromPrincipal, free)
		}

		d.Interest = interest.Sub(fromInterest)
		d.AccruedAt = accruedAt
		d.Principal = d.Principal.Sub(fromPrincipal)
		p.totalDeposits = p.totalDeposits.Sub(fromPrincipal)
		if d.Principal.IsZero() && d.Interest.IsZero() {
			delete(p.deposits, user)
		}
		return nil
	})
	err = p.obs.record(outcome{op: "withdraw", actor: user, amount: amount, event: events.EventWithdrawn}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Borrow opens or extends a loan. The collateral posted with this call must
// cover amount at the pool's collateral ratio.
func (p *LendingPool) Borrow(user string, amount, collateral decimal.Decimal) error {
	start := time.Now()
	err := p.locked(func() error {
		if !ledger.Positive(amount) || collateral.IsNegative() {
			return ErrInvalidAmount
		}
		if required := amount.Mul(p.cfg.CollateralRatio); collateral.LessThan(required) {
			return fmt.Errorf("%w: required %s, posted %s", ErrInsufficientCollateral, required, collateral)
		}
		if free := p.totalDeposits.Sub(p.totalBorrowed); amount.GreaterThan(free) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, amount, free)
		}

		now := p.obs.clock.Now()
		if l, ok := p.loans[user]; ok {
			l.Interest, l.AccruedAt = p.settleLoan(l, now)
			l.Principal = l.Principal.Add(amount)
			l.Collateral = l.Collateral.Add(collateral)
		} else {
			p.loans[user] = &LoanPosition{
				Owner:      user,
				Principal:  amount,
				Interest:   decimal.Zero,
				Collateral: collateral,
				OpenedAt:   now,
				AccruedAt:  now,
			}
		}
		p.totalBorrowed = p.totalBorrowed.Add(amount)
		return nil
	})
	return p.obs.record(outcome{
		op: "borrow", actor: user, amount: amount, event: events.EventBorrowed,
		meta: map[string]string{"collateral": collateral.String()},
	}, start, err)
}

// Repay pays down a loan, interest first. Payment beyond the amount owed is
// not taken. Collateral is released only when nothing remains owed.
func (p *LendingPool) Repay(user string, amount decimal.Decimal) (RepayResult, error) {
	start := time.Now()
	res := RepayResult{Repaid: decimal.Zero, CollateralReleased: decimal.Zero, Remaining: decimal.Zero}
	err := p.locked(func() error {
		if !ledger.Positive(amount) {
			return ErrInvalidAmount
		}
		l, ok := p.loans[user]
		if !ok {
			return ErrNoPosition
		}
		interest, accruedAt := p.settleLoan(l, p.obs.clock.Now())
		owed := l.Principal.Add(interest)
		repaid := ledger.MinOf(amount, owed)
		toInterest := ledger.MinOf(repaid, interest)
		toPrincipal := repaid.Sub(toInterest)

		l.Interest = interest.Sub(toInterest)
		l.AccruedAt = accruedAt
		l.Principal = l.Principal.Sub(toPrincipal)
		p.totalBorrowed = p.totalBorrowed.Sub(toPrincipal)

		res.Repaid = repaid
		res.Remaining = owed.Sub(repaid)
		if l.Principal.IsZero() && l.Interest.IsZero() {
			res.CollateralReleased = l.Collateral
			delete(p.loans, user)
		}
		return nil
	})
	err = p.obs.record(outcome{
		op: "repay", actor: user, amount: res.Repaid, event: events.EventRepaid,
		meta: map[string]string{"collateral_released": res.CollateralReleased.String()},
	}, start, err)
	if err != nil {
		return RepayResult{}, err
	}
	return res, nil
}

// Liquidate closes an undercollateralized loan and returns the seized
// collateral for the liquidator. The loan's principal is forgiven.
func (p *LendingPool) Liquidate(borrower, liquidator string) (decimal.Decimal, error) {
	start := time.Now()
	seized := decimal.Zero
	err := p.locked(func() error {
		l, ok := p.loans[borrower]
		if !ok {
			return ErrNoPosition
		}
		interest, _ := p.settleLoan(l, p.obs.clock.Now())
		owed := l.Principal.Add(interest)
		if !l.Collateral.LessThan(owed) {
			return fmt.Errorf("%w: collateral %s, owed %s", ErrPositionHealthy, l.Collateral, owed)
		}
		seized = l.Collateral
		p.totalBorrowed = p.totalBorrowed.Sub(l.Principal)
		delete(p.loans, borrower)
		return nil
	})
	err = p.obs.record(outcome{
		op: "liquidate", actor: liquidator, amount: seized, event: events.EventLiquidated,
		meta: map[string]string{"borrower": borrower},
	}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	return seized, nil
}

// GetDeposit returns the user's deposit with interest settled to now.
func (p *LendingPool) GetDeposit(user string) (DepositView, error) {
	start := time.Now()
	var view DepositView
	err := p.locked(func() error {
		d, ok := p.deposits[user]
		if !ok {
			return ErrNoPosition
		}
		d.Interest, d.AccruedAt = p.settleDeposit(d, p.obs.clock.Now())
		view = DepositView{Principal: d.Principal, Interest: d.Interest, Total: d.Principal.Add(d.Interest)}
		return nil
	})
	return view, p.obs.record(outcome{op: "get_deposit", actor: user}, start, err)
}

// GetLoan returns the user's loan with interest settled to now.
func (p *LendingPool) GetLoan(user string) (LoanView, error) {
	start := time.Now()
	var view LoanView
	err := p.locked(func() error {
		l, ok := p.loans[user]
		if !ok {
			return ErrNoPosition
		}
		l.Interest, l.AccruedAt = p.settleLoan(l, p.obs.clock.Now())
		owed := l.Principal.Add(l.Interest)
		view = LoanView{
			Principal:    l.Principal,
			Interest:     l.Interest,
			Collateral:   l.Collateral,
			TotalOwed:    owed,
			HealthFactor: healthFactor(l.Collateral, owed),
			Liquidatable: l.Collateral.LessThan(owed),
		}
		return nil
	})
	return view, p.obs.record(outcome{op: "get_loan", actor: user}, start, err)
}

func healthFactor(collateral, owed decimal.Decimal) float64 {
	if !ledger.Positive(owed) {
		return 0
	}
	return collateral.DivRound(owed, ledger.Scale).InexactFloat64()
}

// TotalDeposits returns the sum of deposit principal.
func (p *LendingPool) TotalDeposits() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalDeposits
}

// TotalBorrowed returns the sum of loan principal.
func (p *LendingPool) TotalBorrowed() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBorrowed
}

// AvailableLiquidity returns the principal that can still be lent out.
func (p *LendingPool) AvailableLiquidity() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalDeposits.Sub(p.totalBorrowed)
}

// Snapshot captures the pool state without settling positions.
func (p *LendingPool) Snapshot() LendingSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	deposits := make([]DepositPosition, 0, len(p.deposits))
	for _, d := range p.deposits {
		deposits = append(deposits, *d)
	}
	sort.Slice(deposits, func(i, j int) bool { return deposits[i].Owner < deposits[j].Owner })

	loans := make([]LoanPosition, 0, len(p.loans))
	for _, l := range p.loans {
		loans = append(loans, *l)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].Owner < loans[j].Owner })

	return LendingSnapshot{
		ID:            p.id,
		Config:        p.cfg,
		CreatedAt:     p.createdAt,
		TotalDeposits: p.totalDeposits,
		TotalBorrowed: p.totalBorrowed,
		Deposits:      deposits,
		Loans:         loans,
	}
}
