package keywheel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/keywheel/keywheel/policy"
)

const defaultTokenEstimate = 1000

// Manager orchestrates credential selection across the pool: it filters by
// health and quota headroom, spreads load via a Policy, resolves secrets, and
// records reported outcomes. One Manager is constructed at process startup
// and passed to every caller.
type Manager struct {
	pool     *Pool
	resolver Resolver
	ledger   Ledger
	health   *HealthTracker
	policy   Policy
	meter    Meter

	tokenEstimate int64
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLedger sets the quota ledger.
func WithLedger(l Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithPolicy sets the load-distribution policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(m *Manager) { m.health = h }
}

// WithMeter sets the meter.
func WithMeter(mt Meter) Option {
	return func(m *Manager) { m.meter = mt }
}

// New creates a Manager for the configured credential pool. Unless overridden
// via options, the policy comes from cfg.Policy (round-robin by default,
// "headroom" for headroom-weighted) and quotas are enforced by an in-process
// ledger; supply WithLedger with a shared store to hold limits across
// processes.
func New(cfg Config, resolver Resolver, opts ...Option) (*Manager, error) {
	if resolver == nil {
		return nil, fmt.Errorf("keywheel: a secret resolver is required")
	}

	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		pool:          pool,
		resolver:      resolver,
		tokenEstimate: cfg.DefaultTokenEstimate,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	// Apply defaults after options.
	if m.health == nil {
		m.health = NewHealthTracker(cfg.Health)
	}
	if m.ledger == nil {
		m.ledger = NewMemoryLedger()
	}
	if m.policy == nil {
		switch cfg.Policy {
		case "headroom":
			m.policy = policy.NewHeadroomPolicy()
		default:
			m.policy = &policy.RoundRobinPolicy{}
		}
	}
	if m.meter == nil {
		m.meter = &noopMeter{}
	}
	if m.tokenEstimate <= 0 {
		m.tokenEstimate = defaultTokenEstimate
	}

	return m, nil
}

// SelectRequest constrains credential selection.
type SelectRequest struct {
	// Preference matches a credential's tier or one of its tags.
	// Empty matches every credential.
	Preference string

	// Exclude removes specific credential ids from consideration, typically
	// ones that already failed for the current operation.
	Exclude []string

	// EstimatedTokens is pre-reserved against tokens-per-minute limits.
	// Zero uses the configured default estimate.
	EstimatedTokens int64
}

// Handle pairs a credential with its resolved secret for one external call.
// The caller must report each handle back exactly once via ReportOutcome.
type Handle struct {
	ID             string // unique per selection
	CredentialID   string
	Provider       string
	Tier           string
	Secret         string
	ReservedTokens int64
}

// Result describes the outcome of the external call made with a handle.
type Result struct {
	// Err is nil on success. Failures should be wrapped with one of the
	// classification sentinels; IsFatal errors disable the credential.
	Err error

	// ActualTokens is the observed token usage, 0 if unknown. When set, the
	// token window is reconciled against the handle's reservation.
	ActualTokens int64
}

// SelectKey picks a usable credential for the request. It returns
// *UnavailableError when every candidate is disabled, cooling down or out of
// quota; the error carries a per-credential diagnostic snapshot.
func (m *Manager) SelectKey(ctx context.Context, req SelectRequest) (Handle, error) {
	descriptors := m.pool.Filter(req.Preference, req.Exclude)
	reasons := make(map[string]string)

	var candidates []Candidate
	for _, d := range descriptors {
		snap := m.health.Snapshot(d.ID)
		switch snap.State {
		case StateDisabled:
			reasons[d.ID] = "disabled"
			continue
		case StateCooldown:
			reasons[d.ID] = "cooling down until " + snap.CooldownUntil.UTC().Format(time.RFC3339)
			continue
		}

		c := Candidate{
			ID:           d.ID,
			Provider:     d.Provider,
			Tier:         d.Tier,
			RequestLimit: d.RPMLimit,
		}
		if d.RPMLimit > 0 {
			if used, err := m.ledger.Usage(ctx, d.ID, ResourceRequests); err == nil {
				c.RequestsUsed = used
			}
		}
		candidates = append(candidates, c)
	}

	estimate := req.EstimatedTokens
	if estimate <= 0 {
		estimate = m.tokenEstimate
	}

	ordered := m.policy.Select(candidates)
	for attempt, c := range ordered {
		d, ok := m.pool.Get(c.ID)
		if !ok {
			continue
		}

		if granted, reason := m.reserve(ctx, d, estimate); !granted {
			reasons[d.ID] = reason
			continue
		}

		secret, err := m.resolver.Resolve(ctx, d.ID)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				// Misconfigured credential: take it out of rotation rather
				// than retrying a key that can never resolve.
				m.health.Disable(d.ID)
				reasons[d.ID] = "secret not found"
			} else {
				reasons[d.ID] = "secret backend: " + err.Error()
			}
			continue
		}

		reserved := int64(0)
		if d.TPMLimit > 0 {
			reserved = estimate
		}

		m.meter.OnSelect(SelectEvent{
			CredentialID:   d.ID,
			Provider:       d.Provider,
			Tier:           d.Tier,
			Attempt:        attempt + 1,
			ReservedTokens: reserved,
		})

		return Handle{
			ID:             uuid.New().String(),
			CredentialID:   d.ID,
			Provider:       d.Provider,
			Tier:           d.Tier,
			Secret:         secret,
			ReservedTokens: reserved,
		}, nil
	}

	return Handle{}, &UnavailableError{Reasons: reasons}
}

// reserve charges the request against every limited resource of the
// credential: one request unit for RPM and RPD, the token estimate for TPM.
// A later denial does not roll back earlier grants in the same attempt; the
// lost headroom is at most one request unit until the window rolls.
func (m *Manager) reserve(ctx context.Context, d Descriptor, estimate int64) (bool, string) {
	if d.RPMLimit > 0 {
		granted, err := m.ledger.Reserve(ctx, d.ID, ResourceRequests, d.RPMLimit, 1)
		if err != nil {
			return false, "ledger: " + err.Error()
		}
		if !granted {
			return false, "rpm quota exhausted"
		}
	}
	if d.RPDLimit > 0 {
		granted, err := m.ledger.Reserve(ctx, d.ID, ResourceDaily, d.RPDLimit, 1)
		if err != nil {
			return false, "ledger: " + err.Error()
		}
		if !granted {
			return false, "rpd quota exhausted"
		}
	}
	if d.TPMLimit > 0 {
		granted, err := m.ledger.Reserve(ctx, d.ID, ResourceTokens, d.TPMLimit, estimate)
		if err != nil {
			return false, "ledger: " + err.Error()
		}
		if !granted {
			return false, "tpm quota exhausted"
		}
	}
	return true, ""
}

// ReportOutcome records what happened when the handle's credential was used.
// A success clears the failure streak; a fatal error disables the credential;
// any other error starts or extends a cooldown. When actual token usage is
// known, the token window is reconciled against the pre-reservation.
func (m *Manager) ReportOutcome(ctx context.Context, h Handle, res Result) error {
	d, ok := m.pool.Get(h.CredentialID)
	if !ok {
		return fmt.Errorf("keywheel: unknown credential %q", h.CredentialID)
	}

	fatal := false
	if res.Err != nil {
		fatal = IsFatal(res.Err)
		m.health.RecordError(d.ID, fatal)
	} else {
		m.health.RecordSuccess(d.ID)
	}

	m.meter.OnOutcome(OutcomeEvent{
		CredentialID: d.ID,
		Provider:     d.Provider,
		Success:      res.Err == nil,
		Fatal:        fatal,
		ActualTokens: res.ActualTokens,
		Err:          res.Err,
	})

	if d.TPMLimit > 0 && h.ReservedTokens > 0 && res.ActualTokens > 0 {
		if err := m.ledger.Finalize(ctx, d.ID, ResourceTokens, h.ReservedTokens, res.ActualTokens); err != nil {
			return fmt.Errorf("keywheel: finalize tokens for %s: %w", d.ID, err)
		}
	}

	return nil
}

// CredentialStatus is one entry in the monitoring snapshot.
type CredentialStatus struct {
	State             State
	ConsecutiveErrors int
	CooldownUntil     time.Time
	SuccessCount      int64
	ErrorCount        int64
	QuotaUsed         map[Resource]int64
}

// HealthStatus reports the current state of every credential in the pool,
// including usage in each limited quota window.
func (m *Manager) HealthStatus(ctx context.Context) map[string]CredentialStatus {
	out := make(map[string]CredentialStatus, m.pool.Len())
	for _, d := range m.pool.Descriptors() {
		snap := m.health.Snapshot(d.ID)
		status := CredentialStatus{
			State:             snap.State,
			ConsecutiveErrors: snap.ConsecutiveErrors,
			CooldownUntil:     snap.CooldownUntil,
			SuccessCount:      snap.SuccessCount,
			ErrorCount:        snap.ErrorCount,
			QuotaUsed:         make(map[Resource]int64),
		}
		for _, r := range []Resource{ResourceRequests, ResourceTokens, ResourceDaily} {
			if d.Limit(r) <= 0 {
				continue
			}
			if used, err := m.ledger.Usage(ctx, d.ID, r); err == nil {
				status.QuotaUsed[r] = used
			}
		}
		out[d.ID] = status
	}
	return out
}

// Preflight resolves every credential's secret once, disabling the ones with
// no resolvable material so a single misconfigured entry cannot take down the
// pool. It fails only when nothing usable remains.
func (m *Manager) Preflight(ctx context.Context) error {
	usable := 0
	for _, d := range m.pool.Descriptors() {
		if _, err := m.resolver.Resolve(ctx, d.ID); err != nil {
			m.health.Disable(d.ID)
			continue
		}
		usable++
	}
	if usable == 0 {
		return fmt.Errorf("keywheel: preflight: no credential has a resolvable secret via %s backend: %w",
			m.resolver.Name(), ErrSecretNotFound)
	}
	return nil
}

// ResetCredential is the operator action that re-enables a disabled credential.
func (m *Manager) ResetCredential(credentialID string) error {
	if _, ok := m.pool.Get(credentialID); !ok {
		return fmt.Errorf("keywheel: unknown credential %q", credentialID)
	}
	m.health.Reset(credentialID)
	return nil
}

// Close releases the ledger's store connection, if it holds one.
func (m *Manager) Close() error {
	if c, ok := m.ledger.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnSelect(SelectEvent)   {}
func (m *noopMeter) OnOutcome(OutcomeEvent) {}
