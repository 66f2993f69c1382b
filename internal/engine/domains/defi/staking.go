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

// StakingConfig describes a staking pool.
type StakingConfig struct {
	Name       string          `json:"name" yaml:"name"`
	Asset      string          `json:"asset" yaml:"asset"`
	APY        decimal.Decimal `json:"apy" yaml:"apy"`
	MinStake   decimal.Decimal `json:"min_stake" yaml:"min_stake"`
	LockPeriod time.Duration   `json:"lock_period" yaml:"lock_period"`
}

// Validate checks the configuration.
func (c StakingConfig) Validate() error {
	switch {
	case c.Asset == "":
		return fmt.Errorf("%w: staking asset is required", ErrInvalidConfig)
	case c.APY.IsNegative():
		return fmt.Errorf("%w: apy must not be negative", ErrInvalidConfig)
	case c.MinStake.IsNegative():
		return fmt.Errorf("%w: min stake must not be negative", ErrInvalidConfig)
	case c.LockPeriod < 0:
		return fmt.Errorf("%w: lock period must not be negative", ErrInvalidConfig)
	}
	return nil
}

// StakePosition is a user's stake as stored by the pool.
type StakePosition struct {
	Owner       string          `json:"owner"`
	Amount      decimal.Decimal `json:"amount"`
	Rewards     decimal.Decimal `json:"rewards"`
	StakedAt    time.Time       `json:"staked_at"`
	LastClaimAt time.Time       `json:"last_claim_at"`
}

// StakeView is a settled read of a stake position.
type StakeView struct {
	Amount      decimal.Decimal `json:"amount"`
	Rewards     decimal.Decimal `json:"rewards"`
	StakedAt    time.Time       `json:"staked_at"`
	LastClaimAt time.Time       `json:"last_claim_at"`
	UnlockAt    time.Time       `json:"unlock_at"`
	CanUnstake  bool            `json:"can_unstake"`
}

// StakingInfo summarises a staking pool.
type StakingInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Asset       string          `json:"asset"`
	APY         decimal.Decimal `json:"apy"`
	MinStake    decimal.Decimal `json:"min_stake"`
	LockPeriod  time.Duration   `json:"lock_period"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	Stakers     int             `json:"stakers"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StakingSnapshot is the persisted form of a staking pool.
type StakingSnapshot struct {
	ID          string          `json:"id"`
	Config      StakingConfig   `json:"config"`
	CreatedAt   time.Time       `json:"created_at"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	Positions   []StakePosition `json:"positions"`
}

// StakingPool pays time-weighted rewards at a fixed APY on locked stakes.
type StakingPool struct {
	id        string
	cfg       StakingConfig
	createdAt time.Time
	obs       observer

	mu          sync.Mutex
	totalStaked decimal.Decimal
	positions   map[string]*StakePosition
}

// NewStakingPool creates an empty staking pool.
func NewStakingPool(cfg StakingConfig, opts ...Option) (*StakingPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("new_staking_pool", "", err)
	}
	s := newSettings(opts)
	id := s.newID()
	return &StakingPool{
		id:          id,
		cfg:         cfg,
		createdAt:   s.clock.Now(),
		obs:         newObserver(s, PoolKindStaking, id),
		totalStaked: decimal.Zero,
		positions:   make(map[string]*StakePosition),
	}, nil
}

// RestoreStakingPool rebuilds a pool from a snapshot after checking that its
// total matches the sum of its positions.
func RestoreStakingPool(snap StakingSnapshot, opts ...Option) (*StakingPool, error) {
	const op = "restore_staking_pool"
	if err := snap.Config.Validate(); err != nil {
		return nil, newError(op, snap.ID, err)
	}
	if snap.ID == "" {
		return nil, newError(op, "", fmt.Errorf("%w: missing pool id", ErrCorruptSnapshot))
	}

	positions := make(map[string]*StakePosition, len(snap.Positions))
	sum := decimal.Zero
	for _, pos := range snap.Positions {
		if pos.Owner == "" || !ledger.Positive(pos.Amount) || pos.Rewards.IsNegative() {
			return nil, newError(op, snap.ID, fmt.Errorf("%w: bad stake position %q", ErrCorruptSnapshot, pos.Owner))
		}
		if _, dup := positions[pos.Owner]; dup {
			return nil, newError(op, snap.ID, fmt.Errorf("%w: duplicate staker %q", ErrCorruptSnapshot, pos.Owner))
		}
		p := pos
		positions[pos.Owner] = &p
		sum = sum.Add(pos.Amount)
	}
	if !sum.Equal(snap.TotalStaked) {
		return nil, newError(op, snap.ID, fmt.Errorf("%w: total staked %s != sum of stakes %s", ErrCorruptSnapshot, snap.TotalStaked, sum))
	}

	s := newSettings(opts)
	return &StakingPool{
		id:          snap.ID,
		cfg:         snap.Config,
		createdAt:   snap.CreatedAt,
		obs:         newObserver(s, PoolKindStaking, snap.ID),
		totalStaked: sum,
		positions:   positions,
	}, nil
}

func (p *StakingPool) ID() string            { return p.id }
func (p *StakingPool) Kind() PoolKind        { return PoolKindStaking }
func (p *StakingPool) CreatedAt() time.Time  { return p.createdAt }
func (p *StakingPool) Config() StakingConfig { return p.cfg }

func (p *StakingPool) locked(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn()
}

// settle brings a position's rewards up to now without touching the pool.
func (p *StakingPool) settle(pos *StakePosition, now time.Time) (decimal.Decimal, time.Time) {
	return ledger.Settle(pos.Amount, p.cfg.APY, pos.Rewards, pos.LastClaimAt, now)
}

// Stake adds amount to the user's position. Pending rewards are settled first
// and the lock restarts from now.
func (p *StakingPool) Stake(user string, amount decimal.Decimal) error {
	start := time.Now()
	err := p.locked(func() error {
		if !ledger.Positive(amount) {
			return ErrInvalidAmount
		}
		if amount.LessThan(p.cfg.MinStake) {
			return fmt.Errorf("%w: %s < %s", ErrBelowMinimumStake, amount, p.cfg.MinStake)
		}
		now := p.obs.clock.Now()
		pos, ok := p.positions[user]
		if !ok {
			p.positions[user] = &StakePosition{
				Owner:       user,
				Amount:      amount,
				Rewards:     decimal.Zero,
				StakedAt:    now,
				LastClaimAt: now,
			}
		} else {
			pos.Rewards, pos.LastClaimAt = p.settle(pos, now)
			pos.Amount = pos.Amount.Add(amount)
			pos.StakedAt = now
		}
		p.totalStaked = p.totalStaked.Add(amount)
		return nil
	})
	return p.obs.record(outcome{op: "stake", actor: user, amount: amount, event: events.EventStaked}, start, err)
}

// Unstake removes amount from the user's stake once the lock has elapsed and
// returns the principal plus every pending reward.
func (p *StakingPool) Unstake(user string, amount decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	var payout, reward decimal.Decimal
	err := p.locked(func() error {
		if !ledger.Positive(amount) {
			return ErrInvalidAmount
		}
		pos, ok := p.positions[user]
		if !ok {
			return ErrNoPosition
		}
		if amount.GreaterThan(pos.Amount) {
			return fmt.Errorf("%w: requested %s, staked %s", ErrInsufficientStake, amount, pos.Amount)
		}
		now := p.obs.clock.Now()
		if unlock := pos.StakedAt.Add(p.cfg.LockPeriod); now.Before(unlock) {
			return fmt.Errorf("%w: unlocks at %s", ErrLockPeriodActive, unlock.Format(time.RFC3339))
		}

		reward, pos.LastClaimAt = p.settle(pos, now)
		pos.Rewards = decimal.Zero
		pos.Amount = pos.Amount.Sub(amount)
		p.totalStaked = p.totalStaked.Sub(amount)
		if pos.Amount.IsZero() {
			delete(p.positions, user)
		}
		payout = amount.Add(reward)
		return nil
	})
	err = p.obs.record(outcome{
		op: "unstake", actor: user, amount: amount, event: events.EventUnstaked,
		meta: map[string]string{"rewards": reward.String()},
	}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	return payout, nil
}

// ClaimRewards pays out pending rewards and keeps the principal staked.
func (p *StakingPool) ClaimRewards(user string) (decimal.Decimal, error) {
	start := time.Now()
	var reward decimal.Decimal
	err := p.locked(func() error {
		pos, ok := p.positions[user]
		if !ok {
			return ErrNoPosition
		}
		reward, pos.LastClaimAt = p.settle(pos, p.obs.clock.Now())
		pos.Rewards = decimal.Zero
		return nil
	})
	err = p.obs.record(outcome{op: "claim_rewards", actor: user, amount: reward, event: events.EventRewardsClaimed}, start, err)
	if err != nil {
		return decimal.Zero, err
	}
	return reward, nil
}

// GetStake returns the user's position with rewards settled to now.
func (p *StakingPool) GetStake(user string) (StakeView, error) {
	start := time.Now()
	var view StakeView
	err := p.locked(func() error {
		pos, ok := p.positions[user]
		if !ok {
			return ErrNoPosition
		}
		now := p.obs.clock.Now()
		pos.Rewards, pos.LastClaimAt = p.settle(pos, now)
		unlock := pos.StakedAt.Add(p.cfg.LockPeriod)
		view = StakeView{
			Amount:      pos.Amount,
			Rewards:     pos.Rewards,
			StakedAt:    pos.StakedAt,
			LastClaimAt: pos.LastClaimAt,
			UnlockAt:    unlock,
			CanUnstake:  !now.Before(unlock),
		}
		return nil
	})
	return view, p.obs.record(outcome{op: "get_stake", actor: user}, start, err)
}

// TotalStaked returns the sum of all staked principal.
func (p *StakingPool) TotalStaked() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalStaked
}

// Stakers returns the number of open positions.
func (p *StakingPool) Stakers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

// Positions returns copies of the stored positions ordered by owner.
func (p *StakingPool) Positions() []StakePosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionsLocked()
}

func (p *StakingPool) positionsLocked() []StakePosition {
	out := make([]StakePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// Info summarises the pool.
func (p *StakingPool) Info() StakingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StakingInfo{
		ID:          p.id,
		Name:        p.cfg.Name,
		Asset:       p.cfg.Asset,
		APY:         p.cfg.APY,
		MinStake:    p.cfg.MinStake,
		LockPeriod:  p.cfg.LockPeriod,
		TotalStaked: p.totalStaked,
		Stakers:     len(p.positions),
		CreatedAt:   p.createdAt,
	}
}

// Snapshot captures the pool state without settling positions.
func (p *StakingPool) Snapshot() StakingSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StakingSnapshot{
		ID:          p.id,
		Config:      p.cfg,
		CreatedAt:   p.createdAt,
		TotalStaked: p.totalStaked,
		Positions:   p.positionsLocked(),
	}
}
