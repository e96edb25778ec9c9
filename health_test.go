package keywheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newFixedTracker returns a tracker with a controllable clock and no jitter.
func newFixedTracker(cfg HealthConfig) (*HealthTracker, *time.Time) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	h := NewHealthTracker(cfg)
	h.now = func() time.Time { return now }
	h.jitter = func() float64 { return 0 }
	return h, &now
}

func TestHealth_ErrorStartsCooldown(t *testing.T) {
	h, now := newFixedTracker(HealthConfig{BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute})

	assert.True(t, h.Available("cred-1"))

	h.RecordError("cred-1", false)
	assert.False(t, h.Available("cred-1"))

	snap := h.Snapshot("cred-1")
	assert.Equal(t, StateCooldown, snap.State)
	assert.Equal(t, 1, snap.ConsecutiveErrors)
	assert.Equal(t, now.Add(2*time.Second), snap.CooldownUntil)
}

func TestHealth_CooldownGrowsAndNeverMovesBackward(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute})

	var prev time.Time
	for i := 0; i < 8; i++ {
		h.RecordError("cred-1", false)
		until := h.Snapshot("cred-1").CooldownUntil
		assert.False(t, until.Before(prev), "failure %d moved cooldown backward", i+1)
		prev = until
	}

	// Capped: 2s doubled seven times exceeds the 1m cap.
	assert.Equal(t, 8, h.Snapshot("cred-1").ConsecutiveErrors)
}

func TestHealth_CooldownExpires(t *testing.T) {
	h, now := newFixedTracker(HealthConfig{BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute})

	h.RecordError("cred-1", false)
	assert.False(t, h.Available("cred-1"))

	*now = now.Add(3 * time.Second)
	assert.True(t, h.Available("cred-1"))
	assert.Equal(t, StateAvailable, h.Snapshot("cred-1").State)
}

func TestHealth_SuccessResetsStreakButHonorsCooldown(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{BaseBackoff: time.Minute, MaxBackoff: time.Hour})

	h.RecordError("cred-1", false)
	h.RecordSuccess("cred-1")

	snap := h.Snapshot("cred-1")
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	// Default policy: the cooldown runs out on its own schedule.
	assert.Equal(t, StateCooldown, snap.State)
	assert.False(t, h.Available("cred-1"))
}

func TestHealth_SuccessEndsCooldownWhenConfigured(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{
		BaseBackoff:          time.Minute,
		MaxBackoff:           time.Hour,
		EndCooldownOnSuccess: true,
	})

	h.RecordError("cred-1", false)
	h.RecordSuccess("cred-1")

	assert.True(t, h.Available("cred-1"))
	assert.Equal(t, StateAvailable, h.Snapshot("cred-1").State)
}

func TestHealth_FatalDisablesUntilReset(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{})

	h.RecordError("cred-1", true)
	assert.False(t, h.Available("cred-1"))
	assert.Equal(t, StateDisabled, h.Snapshot("cred-1").State)

	// Success does not revive a disabled credential.
	h.RecordSuccess("cred-1")
	assert.Equal(t, StateDisabled, h.Snapshot("cred-1").State)

	h.Reset("cred-1")
	assert.True(t, h.Available("cred-1"))
	assert.Equal(t, 0, h.Snapshot("cred-1").ConsecutiveErrors)
}

func TestHealth_Counters(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{})

	h.RecordSuccess("cred-1")
	h.RecordSuccess("cred-1")
	h.RecordError("cred-1", false)

	snap := h.Snapshot("cred-1")
	assert.Equal(t, int64(2), snap.SuccessCount)
	assert.Equal(t, int64(1), snap.ErrorCount)
}

func TestHealth_CredentialsAreIndependent(t *testing.T) {
	h, _ := newFixedTracker(HealthConfig{BaseBackoff: time.Minute, MaxBackoff: time.Hour})

	h.RecordError("cred-1", false)
	assert.False(t, h.Available("cred-1"))
	assert.True(t, h.Available("cred-2"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "available", StateAvailable.String())
	assert.Equal(t, "cooldown", StateCooldown.String())
	assert.Equal(t, "disabled", StateDisabled.String())
}
