package defi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/internal/engine/metrics"
	"github.com/R3E-Network/defi_engine/internal/engine/state"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

// Option configures the collaborators of a pool.
type Option func(*settings)

type settings struct {
	clock   ledger.Clock
	log     *logger.Logger
	journal events.EventLogger
	metrics metrics.MetricsCollector
	newID   ledger.IDGenerator
}

// WithClock sets the time source. Defaults to ledger.SystemClock.
func WithClock(c ledger.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithJournal sets the event journal that records pool activity.
func WithJournal(j events.EventLogger) Option {
	return func(s *settings) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithIDGenerator sets the identifier source for pools and proposals.
func WithIDGenerator(gen ledger.IDGenerator) Option {
	return func(s *settings) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:   ledger.SystemClock{},
		journal: events.NoOpLogger{},
		metrics: metrics.NewNoOpCollector(),
		newID:   ledger.NewID,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.NewDefault("defi")
	}
	return s
}

// observer instruments pool operations with metrics, journal events and logs.
type observer struct {
	settings
	kind   PoolKind
	poolID string
}

func newObserver(s settings, kind PoolKind, poolID string) observer {
	s.log = s.log.Named(string(kind))
	return observer{settings: s, kind: kind, poolID: poolID}
}

// outcome describes a finished operation for record.
type outcome struct {
	op     string
	actor  string
	amount decimal.Decimal
	event  events.EventType // empty for read-only operations
	status state.ProposalStatus
	meta   map[string]string
}

func (out outcome) decorate(b *events.EventBuilder) *events.EventBuilder {
	if out.status != state.StatusUnknown {
		b.Status(out.status)
	}
	for k, v := range out.meta {
		b.Metadata(k, v)
	}
	return b
}

// record reports a finished operation and returns err wrapped as *Error.
// It runs after the pool lock is released.
func (o *observer) record(out outcome, start time.Time, err error) error {
	err = newError(out.op, o.poolID, err)
	o.metrics.RecordOperation(string(o.kind), out.op, time.Since(start), err)

	entry := o.log.WithField("pool_id", o.poolID).WithField("operation", out.op)
	if out.actor != "" {
		entry = entry.WithField("user", out.actor)
	}

	if err != nil {
		entry.WithError(err).Debug("pool operation rejected")
		b := events.NewEvent(events.EventOperationFailed).
			Pool(o.poolID, string(o.kind)).
			Operation(out.op).
			Actor(out.actor).
			At(o.clock.Now()).
			ErrorFrom(err)
		if !out.amount.IsZero() {
			b.Amount(out.amount.String())
		}
		out.decorate(b).LogTo(o.journal)
		return err
	}

	if out.event == "" {
		return nil
	}
	entry.WithField("amount", out.amount.String()).Debug("pool operation applied")
	b := events.NewEvent(out.event).
		Pool(o.poolID, string(o.kind)).
		Operation(out.op).
		Actor(out.actor).
		At(o.clock.Now()).
		Amount(out.amount.String())
	out.decorate(b).LogTo(o.journal)
	return nil
}
