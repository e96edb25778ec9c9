package keywheel

import (
	"context"
	"time"
)

// Resource identifies a rate-limited dimension of a credential.
type Resource string

const (
	ResourceRequests Resource = "rpm" // requests per minute
	ResourceTokens   Resource = "tpm" // tokens per minute
	ResourceDaily    Resource = "rpd" // requests per day
)

// Window returns the length of the time bucket the resource is limited over.
func (r Resource) Window() time.Duration {
	if r == ResourceDaily {
		return 24 * time.Hour
	}
	return time.Minute
}

// WindowKey maps an instant to the bucket it falls in for the resource.
// Usage recorded under one key never counts against another.
func WindowKey(r Resource, now time.Time) int64 {
	return now.Unix() / int64(r.Window()/time.Second)
}

// Ledger enforces per-credential, per-window throughput limits.
//
// Reserve must execute the read-check-increment sequence as one indivisible
// operation, even across processes when the implementation is backed by a
// shared store. Two callers racing on the last unit of headroom must never
// both be granted.
type Ledger interface {
	// Reserve atomically charges amount against the credential's current
	// window. It returns false when granting would push usage past limit.
	// A limit <= 0 means unlimited. Amounts must be positive.
	Reserve(ctx context.Context, credentialID string, res Resource, limit, amount int64) (bool, error)

	// Finalize reconciles an earlier token reservation with the actual usage.
	// It adjusts the current window by actual-reserved but never revokes a
	// grant already made; usage is clamped at zero.
	Finalize(ctx context.Context, credentialID string, res Resource, reserved, actual int64) error

	// Usage returns the amount charged in the credential's current window.
	Usage(ctx context.Context, credentialID string, res Resource) (int64, error)
}
