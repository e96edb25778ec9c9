package keywheel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// gcInterval is how many reservations pass between sweeps of stale windows.
const gcInterval = 512

// MemoryLedger enforces quotas inside a single process. The whole
// read-check-increment sequence runs under one mutex, which is the local
// equivalent of the atomic reservation contract: two goroutines racing on the
// last unit of headroom serialize here and only one is granted.
//
// It is the default ledger when no shared store is configured, and the
// shared-store backends fall back to it when their store is unreachable.
type MemoryLedger struct {
	mu      sync.Mutex
	windows map[windowID]*window
	ops     int
	now     func() time.Time
}

type windowID struct {
	credentialID string
	resource     Resource
}

type window struct {
	key  int64
	used int64
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		windows: make(map[windowID]*window),
		now:     time.Now,
	}
}

// Reserve atomically charges amount against the credential's current window.
func (l *MemoryLedger) Reserve(_ context.Context, credentialID string, res Resource, limit, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := WindowKey(res, now)
	id := windowID{credentialID, res}

	l.ops++
	if l.ops%gcInterval == 0 {
		l.sweep(now)
	}

	w, ok := l.windows[id]
	if !ok || w.key != key {
		// New window: previous usage no longer counts.
		if limit > 0 && amount > limit {
			return false, nil
		}
		l.windows[id] = &window{key: key, used: amount}
		return true, nil
	}

	if limit > 0 && w.used+amount > limit {
		return false, nil
	}
	w.used += amount
	return true, nil
}

// Finalize reconciles a token reservation with the actual usage. If the
// window already rolled over there is nothing left to adjust.
func (l *MemoryLedger) Finalize(_ context.Context, credentialID string, res Resource, reserved, actual int64) error {
	if reserved < 0 || actual < 0 {
		return fmt.Errorf("%w: reserved=%d actual=%d", ErrInvalidAmount, reserved, actual)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[windowID{credentialID, res}]
	if !ok || w.key != WindowKey(res, l.now()) {
		return nil
	}

	w.used += actual - reserved
	if w.used < 0 {
		w.used = 0
	}
	return nil
}

// Usage returns the amount charged in the credential's current window.
func (l *MemoryLedger) Usage(_ context.Context, credentialID string, res Resource) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[windowID{credentialID, res}]
	if !ok || w.key != WindowKey(res, l.now()) {
		return 0, nil
	}
	return w.used, nil
}

// sweep drops entries whose window ended more than one full window ago.
// Must be called with the lock held.
func (l *MemoryLedger) sweep(now time.Time) {
	for id, w := range l.windows {
		if WindowKey(id.resource, now)-w.key > 1 {
			delete(l.windows, id)
		}
	}
}
