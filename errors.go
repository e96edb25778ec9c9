package keywheel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors.
var (
	ErrNoCredentials    = errors.New("keywheel: no credentials configured")
	ErrSecretNotFound   = errors.New("keywheel: secret not found")
	ErrStoreUnavailable = errors.New("keywheel: quota store unavailable")
	ErrInvalidAmount    = errors.New("keywheel: invalid reservation amount")

	// Outcome classification sentinels. Callers wrap the provider failure
	// with one of these before reporting it back, so the manager can tell a
	// transient blip from a dead key.
	ErrRateLimited         = errors.New("keywheel: rate limited by provider")
	ErrProviderUnavailable = errors.New("keywheel: provider unavailable")
	ErrTimeout             = errors.New("keywheel: provider timed out")
	ErrAuthFailed          = errors.New("keywheel: authentication failed")
	ErrPermissionDenied    = errors.New("keywheel: permission denied")
)

// IsFatal returns true if the reported error should permanently disable the
// credential instead of starting a cooldown.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrPermissionDenied)
}

// UnavailableError is returned by SelectKey when every candidate was disabled,
// cooling down, out of quota, or missing its secret. Reasons maps credential
// ids to why each one was skipped.
type UnavailableError struct {
	Reasons map[string]string
}

func (e *UnavailableError) Error() string {
	if len(e.Reasons) == 0 {
		return "keywheel: no credentials match the request"
	}

	ids := make([]string, 0, len(e.Reasons))
	for id := range e.Reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("keywheel: all credentials unavailable:")
	for _, id := range ids {
		fmt.Fprintf(&b, " %s=%q", id, e.Reasons[id])
	}
	return b.String()
}
