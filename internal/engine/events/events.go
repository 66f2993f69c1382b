// Package events provides the protocol event journal for the engine.
// Events capture every state-changing pool operation, operation failures,
// registry changes and snapshot activity so operators can audit what the
// engine did without reaching into pool internals.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/defi_engine/internal/engine/state"
)

// EventType classifies the kind of protocol event.
type EventType string

const (
	// Staking events
	EventStaked         EventType = "staking.staked"
	EventUnstaked       EventType = "staking.unstaked"
	EventRewardsClaimed EventType = "staking.rewards_claimed"

	// Lending events
	EventDeposited  EventType = "lending.deposited"
	EventWithdrawn  EventType = "lending.withdrawn"
	EventBorrowed   EventType = "lending.borrowed"
	EventRepaid     EventType = "lending.repaid"
	EventLiquidated EventType = "lending.liquidated"

	// AMM events
	EventLiquidityAdded   EventType = "amm.liquidity_added"
	EventLiquidityRemoved EventType = "amm.liquidity_removed"
	EventSwapped          EventType = "amm.swapped"

	// Governance events
	EventBalanceSet       EventType = "dao.balance_set"
	EventProposalCreated  EventType = "dao.proposal_created"
	EventVoted            EventType = "dao.voted"
	EventProposalExecuted EventType = "dao.proposal_executed"
	EventProposalRejected EventType = "dao.proposal_rejected"

	// Registry and persistence events
	EventPoolCreated      EventType = "registry.pool_created"
	EventRegistryRestored EventType = "registry.restored"
	EventSnapshotSaved    EventType = "snapshot.saved"
	EventSnapshotFailed   EventType = "snapshot.failed"

	// Retry events
	EventRetryScheduled EventType = "recovery.retry_scheduled"
	EventCircuitOpened  EventType = "recovery.circuit_opened"

	// EventOperationFailed records a rejected pool operation.
	EventOperationFailed EventType = "operation.failed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event represents a structured protocol event.
type Event struct {
	// Core fields
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Context fields
	PoolID    string `json:"pool_id,omitempty"`
	PoolKind  string `json:"pool_kind,omitempty"` // staking|lending|liquidity|dao
	Operation string `json:"operation,omitempty"`
	Actor     string `json:"actor,omitempty"`

	// Details
	Amount   string               `json:"amount,omitempty"`
	Status   state.ProposalStatus `json:"status,omitempty"`
	Message  string               `json:"message,omitempty"`
	Error    string               `json:"error,omitempty"`
	Duration time.Duration        `json:"duration_ns,omitempty"`
	Metadata map[string]string    `json:"metadata,omitempty"`

	// Correlation
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventFilter selects events.
type EventFilter func(Event) bool

// EventLogger is the interface for the event journal.
type EventLogger interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with context for tracing.
	LogWithContext(ctx context.Context, event Event)

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentByPool returns recent events for a specific pool.
	RecentByPool(poolID string, n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	head   int
	count  int
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// LogWithContext adds context information to the event before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		event.TraceID = traceID
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		event.RequestID = requestID
	}
	rb.Log(event)
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

// RecentByPool returns recent events for a specific pool.
func (rb *RingBuffer) RecentByPool(poolID string, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.PoolID == poolID })
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) collect(n int, match EventFilter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all events from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// Context keys for tracing
type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	requestIDKey contextKey = "request_id"
)

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func generateEventID() string {
	return uuid.NewString()
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new EventBuilder.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Severity:  SeverityInfo,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Pool sets the pool id and kind.
func (b *EventBuilder) Pool(id, kind string) *EventBuilder {
	b.event.PoolID = id
	b.event.PoolKind = kind
	return b
}

// Operation sets the operation name.
func (b *EventBuilder) Operation(op string) *EventBuilder {
	b.event.Operation = op
	return b
}

// Actor sets the user the event concerns.
func (b *EventBuilder) Actor(actor string) *EventBuilder {
	b.event.Actor = actor
	return b
}

// Amount sets the primary amount of the event.
func (b *EventBuilder) Amount(amount string) *EventBuilder {
	b.event.Amount = amount
	return b
}

// Status sets the proposal status.
func (b *EventBuilder) Status(status state.ProposalStatus) *EventBuilder {
	b.event.Status = status
	return b
}

// At overrides the event timestamp, typically with the pool clock.
func (b *EventBuilder) At(ts time.Time) *EventBuilder {
	b.event.Timestamp = ts
	return b
}

// Severity sets the severity.
func (b *EventBuilder) Severity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// Message sets the message.
func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// ErrorFrom sets the error from an error value.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityWarning
	}
	return b
}

// Duration sets the duration.
func (b *EventBuilder) Duration(d time.Duration) *EventBuilder {
	b.event.Duration = d
	return b
}

// Metadata adds metadata.
func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = generateEventID()
	}
	return b.event
}

// LogTo logs the event to the given logger.
func (b *EventBuilder) LogTo(logger EventLogger) {
	logger.Log(b.Build())
}

// LogToWithContext logs the event with context.
func (b *EventBuilder) LogToWithContext(ctx context.Context, logger EventLogger) {
	logger.LogWithContext(ctx, b.Build())
}

// NoOpLogger is an event logger that discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                             {}
func (NoOpLogger) LogWithContext(context.Context, Event) {}
func (NoOpLogger) Recent(int) []Event                    { return nil }
func (NoOpLogger) RecentByPool(string, int) []Event      { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event   { return nil }
