package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/metrics"
	"github.com/R3E-Network/defi_engine/internal/engine/recovery"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

// Source produces the snapshot to persist. *registry.Registry implements it.
type Source interface {
	Snapshot() registry.Snapshot
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l.Named("snapshot")
		}
	}
}

// WithJournal sets the event journal.
func WithJournal(j events.EventLogger) Option {
	return func(s *Scheduler) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Scheduler saves snapshots of a Source on a cron schedule.
type Scheduler struct {
	source   Source
	store    Store
	schedule string
	timeout  time.Duration

	cron    *cron.Cron
	retrier *recovery.Retrier
	log     *logger.Logger
	journal events.EventLogger
	metrics metrics.MetricsCollector
}

// NewScheduler creates a scheduler. Failed saves are retried with the
// backoff in cfg.Retry.
func NewScheduler(source Source, store Store, cfg config.SnapshotConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		store:    store,
		schedule: cfg.Schedule,
		timeout:  cfg.Timeout,
		cron:     cron.New(),
		log:      logger.NewDefault("snapshot"),
		journal:  events.NoOpLogger{},
		metrics:  metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}

	policy := recovery.DefaultConfig()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = cfg.Retry.InitialDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	if cfg.Retry.Multiplier > 0 {
		policy.Multiplier = cfg.Retry.Multiplier
	}
	s.retrier = recovery.NewRetrier(policy, s.journal)
	return s
}

// Start registers the save job and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		_ = s.SaveNow(context.Background())
	}); err != nil {
		return fmt.Errorf("register snapshot schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).
		WithField("backend", s.store.Backend()).
		Info("snapshot scheduler started")
	return nil
}

// Stop stops the cron runner and waits for a running save, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("snapshot scheduler stop timed out")
	}
	s.log.Info("snapshot scheduler stopped")
}

// SaveNow captures and stores a snapshot immediately.
func (s *Scheduler) SaveNow(ctx context.Context) error {
	start := time.Now()
	snap := s.source.Snapshot()
	backend := s.store.Backend()

	err := s.retrier.Do(ctx, "snapshot:"+backend, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.store.Save(ctx, snap)
	})
	elapsed := time.Since(start)
	s.metrics.RecordSnapshot(backend, elapsed, err)

	entry := s.log.WithField("backend", backend).WithField("pools", snap.PoolCount())
	b := events.NewEvent(events.EventSnapshotSaved).
		Duration(elapsed).
		Metadata("backend", backend).
		Metadata("pools", strconv.Itoa(snap.PoolCount()))
	if err != nil {
		entry.WithError(err).Error("snapshot save failed")
		b = events.NewEvent(events.EventSnapshotFailed).
			ErrorFrom(err).
			Severity(events.SeverityError).
			Duration(elapsed).
			Metadata("backend", backend)
		b.LogTo(s.journal)
		return err
	}
	entry.WithField("duration", elapsed).Debug("snapshot saved")
	b.LogTo(s.journal)
	return nil
}
