// Package recovery retries failed background work such as snapshot saves.
// It implements exponential backoff and a circuit breaker that stops hammering
// a backend after repeated failures.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
)

// Common errors
var (
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	ErrAborted             = errors.New("retry aborted")
)

// Strategy defines the delay between attempts.
type Strategy string

const (
	// StrategyBackoff multiplies the delay after each failure.
	StrategyBackoff Strategy = "backoff"

	// StrategyFixed waits InitialDelay between attempts.
	StrategyFixed Strategy = "fixed"

	// StrategyNone makes a single attempt.
	StrategyNone Strategy = "none"
)

// Config holds the retry policy for one target.
type Config struct {
	Strategy Strategy

	// MaxAttempts bounds attempts per call, including the first (0 = 1).
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// CircuitBreakerThreshold is the number of consecutive failed calls that
	// opens the circuit (0 disables the breaker).
	CircuitBreakerThreshold int

	// CircuitBreakerResetTime is how long the circuit stays open.
	CircuitBreakerResetTime time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		Strategy:                StrategyBackoff,
		MaxAttempts:             3,
		InitialDelay:            time.Second,
		MaxDelay:                30 * time.Second,
		Multiplier:              2.0,
		CircuitBreakerThreshold: 5,
		CircuitBreakerResetTime: 5 * time.Minute,
	}
}

// State tracks the failures of one target.
type State struct {
	Target        string
	Failures      int
	LastAttempt   time.Time
	LastError     error
	CircuitOpen   bool
	CircuitOpened time.Time
}

// Retrier runs operations under a retry policy and keeps per-target state.
type Retrier struct {
	cfg     Config
	journal events.EventLogger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	states map[string]*State
}

// NewRetrier creates a retrier.
func NewRetrier(cfg Config, journal events.EventLogger) *Retrier {
	if journal == nil {
		journal = events.NoOpLogger{}
	}
	return &Retrier{
		cfg:     cfg,
		journal: journal,
		now:     time.Now,
		sleep:   sleepContext,
		states:  make(map[string]*State),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retrier) attempts() int {
	if r.cfg.Strategy == StrategyNone || r.cfg.MaxAttempts <= 1 {
		return 1
	}
	return r.cfg.MaxAttempts
}

// Do runs fn until it succeeds, the attempts are used up or ctx ends.
func (r *Retrier) Do(ctx context.Context, target string, fn func(context.Context) error) error {
	if r.IsCircuitOpen(target) {
		return fmt.Errorf("%s: %w", target, ErrCircuitOpen)
	}

	limit := r.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if attempt > 1 {
			delay := r.Delay(attempt)
			events.NewEvent(events.EventRetryScheduled).
				Operation(target).
				Severity(events.SeverityWarning).
				ErrorFrom(lastErr).
				Duration(delay).
				Metadata("attempt", strconv.Itoa(attempt)).
				LogTo(r.journal)
			if err := r.sleep(ctx, delay); err != nil {
				r.fail(target, lastErr)
				return fmt.Errorf("%s: %w: %v", target, ErrAborted, lastErr)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			r.succeed(target)
			return nil
		}
	}

	r.fail(target, lastErr)
	if limit == 1 {
		return lastErr
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", target, ErrMaxAttemptsExceeded, limit, lastErr)
}

// Delay returns the wait before the given attempt (attempt 2 is the first retry).
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt <= 2 || r.cfg.Strategy != StrategyBackoff {
		return r.cfg.InitialDelay
	}
	delay := float64(r.cfg.InitialDelay)
	for i := 2; i < attempt; i++ {
		delay *= r.cfg.Multiplier
		if r.cfg.MaxDelay > 0 && delay > float64(r.cfg.MaxDelay) {
			return r.cfg.MaxDelay
		}
	}
	return time.Duration(delay)
}

func (r *Retrier) state(target string) *State {
	st, ok := r.states[target]
	if !ok {
		st = &State{Target: target}
		r.states[target] = st
	}
	return st
}

func (r *Retrier) succeed(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(target)
	st.Failures = 0
	st.LastError = nil
	st.LastAttempt = r.now()
	st.CircuitOpen = false
}

func (r *Retrier) fail(target string, err error) {
	r.mu.Lock()
	st := r.state(target)
	st.Failures++
	st.LastError = err
	st.LastAttempt = r.now()
	opened := false
	if r.cfg.CircuitBreakerThreshold > 0 && st.Failures >= r.cfg.CircuitBreakerThreshold && !st.CircuitOpen {
		st.CircuitOpen = true
		st.CircuitOpened = r.now()
		opened = true
	}
	failures := st.Failures
	r.mu.Unlock()

	if opened {
		events.NewEvent(events.EventCircuitOpened).
			Operation(target).
			Severity(events.SeverityError).
			ErrorFrom(err).
			Metadata("failures", strconv.Itoa(failures)).
			LogTo(r.journal)
	}
}

// IsCircuitOpen reports whether calls for target are currently refused. An
// open circuit closes again (half-open) after CircuitBreakerResetTime.
func (r *Retrier) IsCircuitOpen(target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[target]
	if !ok || !st.CircuitOpen {
		return false
	}
	if r.now().Sub(st.CircuitOpened) >= r.cfg.CircuitBreakerResetTime {
		st.CircuitOpen = false
		st.Failures = 0
		return false
	}
	return true
}

// GetState returns the state of a target.
func (r *Retrier) GetState(target string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[target]; ok {
		return *st, true
	}
	return State{}, false
}

// ResetState clears the failures of a target.
func (r *Retrier) ResetState(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, target)
}
