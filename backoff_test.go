package keywheel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	kw "github.com/keywheel/keywheel"
)

func TestCooldown_DoublesPerFailure(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	assert.Equal(t, 2*time.Second, kw.Cooldown(1, base, max, 0))
	assert.Equal(t, 4*time.Second, kw.Cooldown(2, base, max, 0))
	assert.Equal(t, 8*time.Second, kw.Cooldown(3, base, max, 0))
	assert.Equal(t, 16*time.Second, kw.Cooldown(4, base, max, 0))
}

func TestCooldown_CappedAtMax(t *testing.T) {
	base := 2 * time.Second
	max := 10 * time.Second

	assert.Equal(t, max, kw.Cooldown(4, base, max, 0))
	assert.Equal(t, max, kw.Cooldown(50, base, max, 0))
}

func TestCooldown_NonDecreasingUnderJitterExtremes(t *testing.T) {
	base := time.Second
	max := time.Hour

	// The worst case for monotonicity: maximum positive jitter on one
	// failure followed by maximum negative jitter on the next.
	for failures := 1; failures < 20; failures++ {
		high := kw.Cooldown(failures, base, max, 1)
		low := kw.Cooldown(failures+1, base, max, -1)
		assert.GreaterOrEqual(t, low, high, "failures=%d", failures)
	}
}

func TestCooldown_JitterBounds(t *testing.T) {
	base := 10 * time.Second
	max := time.Hour

	assert.Equal(t, 8*time.Second, kw.Cooldown(1, base, max, -1))
	assert.Equal(t, 12*time.Second, kw.Cooldown(1, base, max, 1))

	// Out-of-range jitter is clamped.
	assert.Equal(t, 12*time.Second, kw.Cooldown(1, base, max, 5))
	assert.Equal(t, 8*time.Second, kw.Cooldown(1, base, max, -5))
}

func TestCooldown_ZeroOnBadInput(t *testing.T) {
	assert.Equal(t, time.Duration(0), kw.Cooldown(0, time.Second, time.Minute, 0))
	assert.Equal(t, time.Duration(0), kw.Cooldown(-1, time.Second, time.Minute, 0))
	assert.Equal(t, time.Duration(0), kw.Cooldown(3, 0, time.Minute, 0))
}
