package webhook

import (
	"sync"
	"time"
)

const defaultMaxThrottleEntries = 4096

// throttleTable remembers the last dispatch attempt per
// (destination, event kind, entity) composite key. A repeat within the
// destination's interval is suppressed: lost, not deferred.
type throttleTable struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func newThrottleTable(now func() time.Time) *throttleTable {
	return &throttleTable{
		entries:    map[string]time.Time{},
		maxEntries: defaultMaxThrottleEntries,
		now:        now,
	}
}

// allow reports whether a dispatch attempt may proceed, and if so stamps the
// key with the current time. Stamping happens on the attempt, not on
// delivery success, and under the same lock as the check so two concurrent
// sends for one key cannot both pass.
func (t *throttleTable) allow(destinationID string, kind EventKind, entityID string, settings ThrottleSettings) bool {
	if !settings.Enabled || settings.Interval <= 0 {
		return true
	}

	key := destinationID + "|" + string(kind) + "|" + entityID
	interval := time.Duration(settings.Interval) * time.Second
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.entries[key]
	if seen && now.Sub(last) < interval {
		return false
	}
	t.entries[key] = now
	t.cleanup(now, interval)
	return true
}

// cleanup bounds the table: once over maxEntries, entries older than their
// recording interval's horizon are dropped. Uses four intervals as the
// horizon so recently active keys survive.
func (t *throttleTable) cleanup(now time.Time, interval time.Duration) {
	if len(t.entries) <= t.maxEntries {
		return
	}
	horizon := interval * 4
	for key, stamped := range t.entries {
		if now.Sub(stamped) > horizon {
			delete(t.entries, key)
		}
		if len(t.entries) <= t.maxEntries {
			return
		}
	}
}
