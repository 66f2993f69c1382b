package defi

import (
	"errors"
	"fmt"
)

// Validation errors: the request itself is unacceptable.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidConfig          = errors.New("invalid pool configuration")
	ErrBelowMinimumStake      = errors.New("amount below minimum stake")
	ErrInsufficientStake      = errors.New("insufficient staked amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInsufficientShares     = errors.New("insufficient liquidity shares")
	ErrInvalidToken           = errors.New("token not traded by pool")
	ErrZeroLiquidityMinted    = errors.New("deposit too small to mint liquidity")
	ErrAlreadyVoted           = errors.New("already voted")
	ErrNoVotingPower          = errors.New("no voting power")
	ErrBelowProposalThreshold = errors.New("insufficient tokens to create proposal")
)

// State errors: the request is well formed but the pool is not in a state
// that allows it. The caller may wait or change the position and retry.
var (
	ErrNoPosition        = errors.New("no position found")
	ErrLockPeriodActive  = errors.New("lock period not ended")
	ErrPositionHealthy   = errors.New("position is healthy")
	ErrEmptyPool         = errors.New("pool has no liquidity")
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrProposalNotActive = errors.New("proposal not active")
	ErrVotingEnded       = errors.New("voting period ended")
	ErrVotingNotEnded    = errors.New("voting period not ended")
	ErrQuorumNotReached  = errors.New("quorum not reached")
	ErrCorruptSnapshot   = errors.New("snapshot violates pool invariants")
)

// Kind classifies engine errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

var stateErrors = []error{
	ErrNoPosition,
	ErrLockPeriodActive,
	ErrPositionHealthy,
	ErrEmptyPool,
	ErrProposalNotFound,
	ErrProposalNotActive,
	ErrVotingEnded,
	ErrVotingNotEnded,
	ErrQuorumNotReached,
	ErrCorruptSnapshot,
}

// Error is returned by every failing pool operation.
type Error struct {
	Op     string
	PoolID string
	Kind   Kind
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	if e.PoolID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.PoolID, e.Err)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error { return e.Err }

func newError(op, poolID string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, PoolID: poolID, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	for _, target := range stateErrors {
		if errors.Is(err, target) {
			return KindState
		}
	}
	return KindValidation
}

// KindOf reports the classification of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsState reports whether err stems from the current pool state.
func IsState(err error) bool { return KindOf(err) == KindState }
