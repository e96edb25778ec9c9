// Package postgres provides a PostgreSQL-backed quota Ledger for keywheel.
//
// Window state lives in one row per (credential, resource) and every
// reservation is a row-locking transaction, so the read-check-increment
// sequence is indivisible and limits hold across multiple processes. When the
// database is unreachable the store degrades to a process-local ledger:
// cross-process limits may be briefly exceeded, but callers are never blocked
// on a dead store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keywheel/keywheel"
	"github.com/keywheel/keywheel/ledger"
)

const defaultTimeout = 2 * time.Second

// Store is a PostgreSQL-backed Ledger.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	timeout     time.Duration
	logger      *slog.Logger
	fallback    *ledger.MemoryLedger
}

var _ keywheel.Ledger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "keywheel_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithTimeout bounds each store round trip (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new PostgreSQL-backed Ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "keywheel_",
		timeout:     defaultTimeout,
		logger:      slog.Default(),
		fallback:    ledger.NewMemoryLedger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) windowsTable() string { return s.tablePrefix + "quota_windows" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			credential_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			window_key BIGINT NOT NULL,
			used BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (credential_id, resource)
		);
	`, s.windowsTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("keywheel/postgres: ensure schema: %w", err)
	}
	return nil
}

// Reserve atomically charges amount against the credential's current window.
func (s *Store) Reserve(ctx context.Context, credentialID string, res keywheel.Resource, limit, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: %d", keywheel.ErrInvalidAmount, amount)
	}
	if limit > 0 && amount > limit {
		return false, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	granted, err := s.reserveTx(opCtx, credentialID, res, limit, amount)
	if err != nil {
		s.warnFallback("reserve", credentialID, res, err)
		return s.fallback.Reserve(ctx, credentialID, res, limit, amount)
	}
	return granted, nil
}

func (s *Store) reserveTx(ctx context.Context, credentialID string, res keywheel.Resource, limit, amount int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("keywheel/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	windowKey := keywheel.WindowKey(res, time.Now())

	// 1. Lazy window rollover. Takes the row lock, serializing concurrent
	// reservations for the same credential and resource.
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET window_key = $1, used = 0, updated_at = now()
			WHERE credential_id = $2 AND resource = $3 AND window_key <> $1`,
			s.windowsTable()),
		windowKey, credentialID, string(res),
	)
	if err != nil {
		return false, fmt.Errorf("keywheel/postgres: window rollover: %w", err)
	}

	// 2. Atomic reserve: insert the window or increment only if headroom remains.
	var used int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (credential_id, resource, window_key, used)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (credential_id, resource) DO UPDATE
				SET used = %s.used + $4, updated_at = now()
				WHERE %s.window_key = $3 AND ($5 <= 0 OR %s.used + $4 <= $5)
			RETURNING used`,
			s.windowsTable(), s.windowsTable(), s.windowsTable(), s.windowsTable()),
		credentialID, string(res), windowKey, amount, limit,
	).Scan(&used)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conditional update declined: quota exhausted.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keywheel/postgres: reserve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("keywheel/postgres: commit: %w", err)
	}
	return true, nil
}

// Finalize reconciles a token reservation with the actual usage.
func (s *Store) Finalize(ctx context.Context, credentialID string, res keywheel.Resource, reserved, actual int64) error {
	if reserved < 0 || actual < 0 {
		return fmt.Errorf("%w: reserved=%d actual=%d", keywheel.ErrInvalidAmount, reserved, actual)
	}
	if actual == reserved {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	windowKey := keywheel.WindowKey(res, time.Now())

	_, err := s.pool.Exec(opCtx,
		fmt.Sprintf(`UPDATE %s SET used = GREATEST(used + $1, 0), updated_at = now()
			WHERE credential_id = $2 AND resource = $3 AND window_key = $4`,
			s.windowsTable()),
		actual-reserved, credentialID, string(res), windowKey,
	)
	if err != nil {
		s.warnFallback("finalize", credentialID, res, err)
		return s.fallback.Finalize(ctx, credentialID, res, reserved, actual)
	}
	return nil
}

// Usage returns the amount charged in the credential's current window.
func (s *Store) Usage(ctx context.Context, credentialID string, res keywheel.Resource) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	windowKey := keywheel.WindowKey(res, time.Now())

	var used int64
	err := s.pool.QueryRow(opCtx,
		fmt.Sprintf(`SELECT used FROM %s WHERE credential_id = $1 AND resource = $2 AND window_key = $3`,
			s.windowsTable()),
		credentialID, string(res), windowKey,
	).Scan(&used)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		s.warnFallback("usage", credentialID, res, err)
		return s.fallback.Usage(ctx, credentialID, res)
	}
	return used, nil
}

// Cleanup removes window rows that have not been touched for the given
// duration. Postgres has no key expiry, so deployments run this periodically.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1`, s.windowsTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("keywheel/postgres: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the store connection. A failure wraps ErrStoreUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.pool.Ping(opCtx); err != nil {
		return fmt.Errorf("%w: %v", keywheel.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) warnFallback(op, credentialID string, res keywheel.Resource, err error) {
	s.logger.Warn("quota store unreachable, enforcing locally",
		"op", op,
		"credential", credentialID,
		"resource", string(res),
		"error", err,
	)
}
