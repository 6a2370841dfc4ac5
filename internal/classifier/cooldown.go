package classifier

import (
	"context"
	"sync"
	"time"
)

// DefaultCooldown is the minimum time between two alerts for the same key.
const DefaultCooldown = 10 * time.Second

// Ledger is the cooldown check-and-set. Reserve must be atomic per key: of
// two near-simultaneous reservations for the same key, exactly one succeeds.
// Release undoes a reservation when the resulting alert failed to persist, so
// the next sighting is not silently swallowed.
type Ledger interface {
	Reserve(ctx context.Context, key string, now time.Time) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLedger is the in-process cooldown ledger. Reservations expire
// implicitly once the window elapses; expired entries are swept opportunistically
// on Reserve so the map does not grow without bound.
type MemoryLedger struct {
	window time.Duration

	mu        sync.Mutex
	last      map[string]time.Time
	nextSweep time.Time
}

// NewMemoryLedger creates a ledger with the given cooldown window. A window at
// or below zero takes DefaultCooldown.
func NewMemoryLedger(window time.Duration) *MemoryLedger {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &MemoryLedger{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Reserve records now as the key's last alert time iff the previous alert for
// the key is older than the window. The check and the set happen under one
// lock, never across an I/O call.
func (m *MemoryLedger) Reserve(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[key]; ok && now.Sub(last) < m.window {
		return false, nil
	}

	m.last[key] = now
	m.sweepLocked(now)
	return true, nil
}

// Release drops the key's reservation. Reserve only succeeds when any prior
// entry had already expired, so deleting is equivalent to restoring it.
func (m *MemoryLedger) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, key)
	return nil
}

func (m *MemoryLedger) sweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for k, t := range m.last {
		if now.Sub(t) >= m.window {
			delete(m.last, k)
		}
	}
	m.nextSweep = now.Add(m.window)
}
