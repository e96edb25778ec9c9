// Package ledger provides in-process quota ledgers for keywheel. The
// shared-store backends live in the nested ledger/redis and ledger/postgres
// modules so the root module stays free of driver dependencies.
package ledger

import "github.com/keywheel/keywheel"

// MemoryLedger enforces quotas inside a single process. It is also the
// degraded-mode fallback the shared-store backends switch to when their store
// is unreachable.
type MemoryLedger = keywheel.MemoryLedger

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return keywheel.NewMemoryLedger()
}
