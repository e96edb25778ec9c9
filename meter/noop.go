package meter

import "github.com/keywheel/keywheel"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ keywheel.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnSelect(keywheel.SelectEvent)   {}
func (m *NoopMeter) OnOutcome(keywheel.OutcomeEvent) {}
