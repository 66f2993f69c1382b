package defi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/pkg/logger"
	"github.com/R3E-Network/defi_engine/pkg/testutil"
)

var dec = ledger.MustParse

type harness struct {
	clock   *testutil.ManualClock
	journal *events.RingBuffer
	opts    []Option
}

func newHarness() *harness {
	h := &harness{
		clock:   testutil.NewManualClock(testutil.Epoch),
		journal: events.NewRingBuffer(256),
	}
	h.opts = []Option{
		WithClock(h.clock),
		WithJournal(h.journal),
		WithLogger(logger.NewNop()),
		WithIDGenerator(testutil.SequentialIDs("id")),
	}
	return h
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func testEpochPlus(offset time.Duration) time.Time {
	return testutil.Epoch.Add(offset)
}
