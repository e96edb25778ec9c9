package keywheel

// Meter observes selection and outcome events for monitoring/logging.
type Meter interface {
	// OnSelect is called when a credential is handed out.
	OnSelect(event SelectEvent)

	// OnOutcome is called when the caller reports back.
	OnOutcome(event OutcomeEvent)
}

// SelectEvent describes a successful selection.
type SelectEvent struct {
	CredentialID   string
	Provider       string
	Tier           string
	Attempt        int // 1-based position in the policy ordering
	ReservedTokens int64
}

// OutcomeEvent describes a reported call outcome.
type OutcomeEvent struct {
	CredentialID string
	Provider     string
	Success      bool
	Fatal        bool
	ActualTokens int64
	Err          error
}
