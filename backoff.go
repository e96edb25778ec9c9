package keywheel

import "time"

const backoffJitterFraction = 0.2

// Cooldown computes the exclusion period after the given consecutive failure
// count: base doubled per failure, capped at max. jitter must be in [-1, 1]
// and shifts the result by up to ±20% so callers retrying the same credential
// do not wake in lockstep.
//
// The function is pure; the HealthTracker owns the random jitter source.
func Cooldown(failures int, base, max time.Duration, jitter float64) time.Duration {
	if failures < 1 || base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if max > 0 && d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}

	if jitter > 1 {
		jitter = 1
	} else if jitter < -1 {
		jitter = -1
	}
	return d + time.Duration(float64(d)*backoffJitterFraction*jitter)
}
