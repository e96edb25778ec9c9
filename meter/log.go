package meter

import (
	"log/slog"

	"github.com/keywheel/keywheel"
)

// LogMeter logs selection and outcome events using slog.
// Secret material never reaches the meter, so every field is safe to log.
type LogMeter struct {
	Logger *slog.Logger
}

var _ keywheel.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnSelect(e keywheel.SelectEvent) {
	m.Logger.Info("select",
		"credential", e.CredentialID,
		"provider", e.Provider,
		"tier", e.Tier,
		"attempt", e.Attempt,
		"reserved_tokens", e.ReservedTokens,
	)
}

func (m *LogMeter) OnOutcome(e keywheel.OutcomeEvent) {
	if e.Success {
		m.Logger.Info("outcome",
			"credential", e.CredentialID,
			"provider", e.Provider,
			"actual_tokens", e.ActualTokens,
		)
	} else {
		m.Logger.Warn("outcome_error",
			"credential", e.CredentialID,
			"provider", e.Provider,
			"fatal", e.Fatal,
			"error", e.Err,
		)
	}
}
