package httpapi

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Limiter errors.
var (
	ErrLimitExceeded  = errors.New("concurrency limit exceeded")
	ErrAcquireTimeout = errors.New("acquire timeout")
)

// LimiterConfig holds configuration for a Limiter.
type LimiterConfig struct {
	// MaxConcurrent is the maximum number of in-flight requests.
	// 0 means unlimited.
	MaxConcurrent int

	// AcquireTimeout is the maximum time a request waits for a permit.
	// 0 means wait until the request context ends.
	AcquireTimeout time.Duration

	// QueueSize is the maximum number of waiting requests.
	// 0 means unlimited queue.
	QueueSize int
}

// Limiter caps concurrent requests with a permit channel.
type Limiter struct {
	config  LimiterConfig
	permits chan struct{}
	waiting int32
	active  int32

	totalAcquired int64
	totalRejected int64
	totalTimeouts int64
}

// NewLimiter creates a limiter.
func NewLimiter(config LimiterConfig) *Limiter {
	l := &Limiter{config: config}
	if config.MaxConcurrent > 0 {
		l.permits = make(chan struct{}, config.MaxConcurrent)
		for i := 0; i < config.MaxConcurrent; i++ {
			l.permits <- struct{}{}
		}
	}
	return l
}

// Acquire blocks until a permit is available, the timeout passes or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.permits == nil {
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	}

	if n := atomic.AddInt32(&l.waiting, 1); l.config.QueueSize > 0 && int(n) > l.config.QueueSize {
		atomic.AddInt32(&l.waiting, -1)
		atomic.AddInt64(&l.totalRejected, 1)
		return ErrLimitExceeded
	}
	defer atomic.AddInt32(&l.waiting, -1)

	var timeoutCh <-chan time.Time
	if l.config.AcquireTimeout > 0 {
		timer := time.NewTimer(l.config.AcquireTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-l.permits:
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ctx.Err()
	case <-timeoutCh:
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ErrAcquireTimeout
	}
}

// Release returns a permit.
func (l *Limiter) Release() {
	atomic.AddInt32(&l.active, -1)
	if l.permits != nil {
		select {
		case l.permits <- struct{}{}:
		default:
		}
	}
}

// LimiterStats is a point-in-time view of a Limiter.
type LimiterStats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalRejected int64 `json:"total_rejected"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

// Stats returns current statistics.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConcurrent: l.config.MaxConcurrent,
		Active:        int(atomic.LoadInt32(&l.active)),
		Waiting:       int(atomic.LoadInt32(&l.waiting)),
		TotalAcquired: atomic.LoadInt64(&l.totalAcquired),
		TotalRejected: atomic.LoadInt64(&l.totalRejected),
		TotalTimeouts: atomic.LoadInt64(&l.totalTimeouts),
	}
}
