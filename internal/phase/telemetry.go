package phase

import (
	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// TelemetryPublisher returns a publish func that writes heater and fan into
// s as a single atomic update.
func TelemetryPublisher(s *telemetry.State) func(logic.PhaseReading) {
	return func(r logic.PhaseReading) {
		s.Update(r.AsOf,
			telemetry.Reading{Field: telemetry.Heater, Value: float64(r.Heater)},
			telemetry.Reading{Field: telemetry.Fan, Value: float64(r.Fan)},
		)
	}
}
