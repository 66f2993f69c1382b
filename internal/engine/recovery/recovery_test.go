package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
)

// newTestRetrier records sleeps instead of waiting and reads a fake clock.
func newTestRetrier(cfg Config) (*Retrier, *[]time.Duration, *time.Time, *events.RingBuffer) {
	journal := events.NewRingBuffer(100)
	r := NewRetrier(cfg, journal)
	var slept []time.Duration
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	r.now = func() time.Time { return now }
	return r, &slept, &now, journal
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Strategy != StrategyBackoff {
		t.Errorf("Strategy = %v, want backoff", cfg.Strategy)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}

func TestRetrier_SucceedsAfterRetries(t *testing.T) {
	r, slept, _, journal := newTestRetrier(DefaultConfig())

	calls := 0
	err := r.Do(context.Background(), "snapshot:redis", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("slept = %v, want [1s 2s]", *slept)
	}
	if got := len(journal.RecentByType(events.EventRetryScheduled, 10)); got != 2 {
		t.Errorf("retry events = %d, want 2", got)
	}
	st, ok := r.GetState("snapshot:redis")
	if !ok || st.Failures != 0 {
		t.Errorf("state = %+v, want no failures", st)
	}
}

func TestRetrier_MaxAttempts(t *testing.T) {
	r, _, _, _ := newTestRetrier(DefaultConfig())
	boom := errors.New("boom")

	calls := 0
	err := r.Do(context.Background(), "t", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, ErrMaxAttemptsExceeded) || !errors.Is(err, boom) {
		t.Errorf("Do() error = %v, want max attempts wrapping boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrier_StrategyNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyNone
	r, slept, _, _ := newTestRetrier(cfg)
	boom := errors.New("boom")

	err := r.Do(context.Background(), "t", func(context.Context) error { return boom })
	if err != boom {
		t.Errorf("Do() error = %v, want boom unchanged", err)
	}
	if len(*slept) != 0 {
		t.Errorf("slept = %v, want none", *slept)
	}
}

func TestRetrier_Delay(t *testing.T) {
	r := NewRetrier(Config{
		Strategy:     StrategyBackoff,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second},
		{10, time.Second},
	}
	for _, tc := range tests {
		if got := r.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}

	fixed := NewRetrier(Config{Strategy: StrategyFixed, InitialDelay: time.Second}, nil)
	if got := fixed.Delay(5); got != time.Second {
		t.Errorf("fixed Delay(5) = %v, want 1s", got)
	}
}

func TestRetrier_CircuitBreaker(t *testing.T) {
	cfg := Config{
		Strategy:                StrategyNone,
		CircuitBreakerThreshold: 2,
		CircuitBreakerResetTime: time.Minute,
	}
	r, _, now, journal := newTestRetrier(cfg)
	fail := func(context.Context) error { return errors.New("down") }

	_ = r.Do(context.Background(), "pg", fail)
	if r.IsCircuitOpen("pg") {
		t.Fatal("circuit opened after one failure")
	}
	_ = r.Do(context.Background(), "pg", fail)
	if !r.IsCircuitOpen("pg") {
		t.Fatal("circuit should be open after two failures")
	}
	if got := len(journal.RecentByType(events.EventCircuitOpened, 10)); got != 1 {
		t.Errorf("circuit events = %d, want 1", got)
	}

	called := false
	err := r.Do(context.Background(), "pg", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Do() with open circuit = %v (called=%v), want ErrCircuitOpen", err, called)
	}
	if r.IsCircuitOpen("other") {
		t.Error("circuit state leaked to another target")
	}

	*now = now.Add(time.Minute)
	if r.IsCircuitOpen("pg") {
		t.Error("circuit should half-open after reset time")
	}
	if err := r.Do(context.Background(), "pg", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Do() after reset = %v", err)
	}
}

func TestRetrier_ContextCancelled(t *testing.T) {
	r, _, _, _ := newTestRetrier(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "t", func(context.Context) error { return errors.New("boom") })
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Do() error = %v, want ErrAborted", err)
	}
}

func TestRetrier_ResetState(t *testing.T) {
	r, _, _, _ := newTestRetrier(Config{Strategy: StrategyNone})
	_ = r.Do(context.Background(), "t", func(context.Context) error { return errors.New("x") })

	if st, ok := r.GetState("t"); !ok || st.Failures != 1 {
		t.Fatalf("state = %+v, want 1 failure", st)
	}
	r.ResetState("t")
	if _, ok := r.GetState("t"); ok {
		t.Error("state should be gone after ResetState")
	}
}
