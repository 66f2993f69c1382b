package testutil

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(time.Time{})
	if !c.Now().Equal(Epoch) {
		t.Fatalf("Now() = %v, want Epoch", c.Now())
	}

	got := c.Advance(time.Hour)
	if !got.Equal(Epoch.Add(time.Hour)) || !c.Now().Equal(got) {
		t.Errorf("Advance = %v, Now = %v", got, c.Now())
	}

	c.Set(Epoch.Add(-time.Minute))
	if !c.Now().Equal(Epoch.Add(-time.Minute)) {
		t.Errorf("Set did not move clock back: %v", c.Now())
	}
}

func TestSequentialIDs(t *testing.T) {
	next := SequentialIDs("pool")
	for _, want := range []string{"pool-1", "pool-2", "pool-3"} {
		if got := next(); got != want {
			t.Errorf("next() = %q, want %q", got, want)
		}
	}
}
