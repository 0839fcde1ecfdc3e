package webhook

import (
	"testing"
	"time"
)

func TestThrottleDisabledAlwaysAllows(t *testing.T) {
	clock := newFakeClock()
	table := newThrottleTable(clock.Now)

	off := ThrottleSettings{Enabled: false, Interval: 60}
	for i := 0; i < 3; i++ {
		if !table.allow("d1", EventClientUpdated, "c-1", off) {
			t.Fatal("disabled throttle must always allow")
		}
	}

	zero := ThrottleSettings{Enabled: true, Interval: 0}
	if !table.allow("d1", EventClientUpdated, "c-1", zero) {
		t.Fatal("zero interval must always allow")
	}
}

func TestThrottleWindow(t *testing.T) {
	clock := newFakeClock()
	table := newThrottleTable(clock.Now)
	settings := ThrottleSettings{Enabled: true, Interval: 60}

	if !table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("first attempt should pass")
	}
	if table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("repeat within interval should be suppressed")
	}

	clock.Advance(59 * time.Second)
	if table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("still inside interval")
	}

	clock.Advance(2 * time.Second)
	if !table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("attempt after interval should pass")
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	table := newThrottleTable(clock.Now)
	settings := ThrottleSettings{Enabled: true, Interval: 60}

	if !table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("first attempt should pass")
	}
	if !table.allow("d2", EventClientUpdated, "c-1", settings) {
		t.Fatal("other destination is a separate key")
	}
	if !table.allow("d1", EventClientStatusChanged, "c-1", settings) {
		t.Fatal("other event kind is a separate key")
	}
	if !table.allow("d1", EventClientUpdated, "c-2", settings) {
		t.Fatal("other entity is a separate key")
	}
}

// A suppressed attempt does not refresh the stamp: the window is anchored on
// the last attempt that went through.
func TestThrottleSuppressedAttemptDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	table := newThrottleTable(clock.Now)
	settings := ThrottleSettings{Enabled: true, Interval: 60}

	table.allow("d1", EventClientUpdated, "c-1", settings)

	clock.Advance(45 * time.Second)
	if table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("45s is inside the interval")
	}

	clock.Advance(20 * time.Second)
	if !table.allow("d1", EventClientUpdated, "c-1", settings) {
		t.Fatal("65s after the delivered attempt should pass")
	}
}
