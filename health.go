package keywheel

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 5 * time.Minute
)

// State describes where a credential sits in its lifecycle.
type State int

const (
	StateAvailable State = iota
	StateCooldown
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateCooldown:
		return "cooldown"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-credential failure streaks and cooldowns.
// Disabled is terminal until an explicit Reset.
type HealthTracker struct {
	mu    sync.Mutex
	creds map[string]*credentialHealth

	base                 time.Duration
	max                  time.Duration
	endCooldownOnSuccess bool

	now    func() time.Time
	jitter func() float64 // uniform in [-1, 1]
}

type credentialHealth struct {
	consecutiveErrors int
	cooldownUntil     time.Time
	disabled          bool
	successCount      int64
	errorCount        int64
}

// HealthSnapshot is a point-in-time copy of one credential's health record.
type HealthSnapshot struct {
	State             State
	ConsecutiveErrors int
	CooldownUntil     time.Time
	SuccessCount      int64
	ErrorCount        int64
}

// NewHealthTracker creates a HealthTracker with the given cooldown policy.
// Zero durations fall back to the defaults (2s base, 5m cap).
func NewHealthTracker(cfg HealthConfig) *HealthTracker {
	base := cfg.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	max := cfg.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	return &HealthTracker{
		creds:                make(map[string]*credentialHealth),
		base:                 base,
		max:                  max,
		endCooldownOnSuccess: cfg.EndCooldownOnSuccess,
		now:                  time.Now,
		jitter:               func() float64 { return rand.Float64()*2 - 1 },
	}
}

// RecordSuccess clears the credential's failure streak. An active cooldown is
// left to expire naturally unless the tracker was configured otherwise.
func (h *HealthTracker) RecordSuccess(credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.getOrCreate(credentialID)
	ch.consecutiveErrors = 0
	ch.successCount++
	if h.endCooldownOnSuccess {
		ch.cooldownUntil = time.Time{}
	}
}

// RecordError extends the credential's failure streak. A fatal error disables
// the credential immediately; otherwise the cooldown grows exponentially and
// never moves backward across consecutive failures.
func (h *HealthTracker) RecordError(credentialID string, fatal bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.getOrCreate(credentialID)
	ch.consecutiveErrors++
	ch.errorCount++

	if fatal {
		ch.disabled = true
		return
	}

	until := h.now().Add(Cooldown(ch.consecutiveErrors, h.base, h.max, h.jitter()))
	if until.After(ch.cooldownUntil) {
		ch.cooldownUntil = until
	}
}

// Available reports whether the credential may be selected right now.
func (h *HealthTracker) Available(credentialID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.creds[credentialID]
	if !ok {
		return true
	}
	return !ch.disabled && !h.now().Before(ch.cooldownUntil)
}

// Disable marks the credential unusable until an explicit Reset.
func (h *HealthTracker) Disable(credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getOrCreate(credentialID).disabled = true
}

// Reset is the operator action that clears a disabled credential and its
// failure streak.
func (h *HealthTracker) Reset(credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.getOrCreate(credentialID)
	ch.disabled = false
	ch.consecutiveErrors = 0
	ch.cooldownUntil = time.Time{}
}

// Snapshot returns a copy of the credential's current health record.
func (h *HealthTracker) Snapshot(credentialID string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.creds[credentialID]
	if !ok {
		return HealthSnapshot{State: StateAvailable}
	}

	snap := HealthSnapshot{
		ConsecutiveErrors: ch.consecutiveErrors,
		CooldownUntil:     ch.cooldownUntil,
		SuccessCount:      ch.successCount,
		ErrorCount:        ch.errorCount,
	}
	switch {
	case ch.disabled:
		snap.State = StateDisabled
	case h.now().Before(ch.cooldownUntil):
		snap.State = StateCooldown
	default:
		snap.State = StateAvailable
	}
	return snap
}

func (h *HealthTracker) getOrCreate(credentialID string) *credentialHealth {
	ch, ok := h.creds[credentialID]
	if !ok {
		ch = &credentialHealth{}
		h.creds[credentialID] = ch
	}
	return ch
}
