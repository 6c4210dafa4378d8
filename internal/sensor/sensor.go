// Package sensor polls the roaster's environmental sensors and publishes
// validated readings into the telemetry state.
//
// Each Source is read concurrently behind its own circuit breaker, so a
// failing or hung sensor never delays or invalidates the others. A failed
// read leaves the field's last good value in place and raises its fault flag.
package sensor

import (
	"context"
	"fmt"
	"math"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Source is one sensor collaborator.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string

	// Fields lists the telemetry fields this source provides.
	Fields() []telemetry.Field

	// Read returns the current values. A field missing from the result is
	// unavailable this cycle but not faulted (for example, no new sample yet).
	Read(ctx context.Context) (map[telemetry.Field]float64, error)

	// Close releases the source.
	Close() error
}

// FaultError records a failed read of one source.
type FaultError struct {
	Source string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("sensor %s: %v", e.Source, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Plausible ranges for each sensor field. Values outside are treated as faults.
var limits = map[telemetry.Field][2]float64{
	telemetry.BeanTemp:    {-50, 600},
	telemetry.ExhaustTemp: {-50, 600},
	telemetry.Humidity:    {0, 100},
	telemetry.CO2:         {0, 40000},
}

func validate(f telemetry.Field, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: not a number", f)
	}
	if l, ok := limits[f]; ok && (v < l[0] || v > l[1]) {
		return fmt.Errorf("%s: %.2f outside [%g, %g]", f, v, l[0], l[1])
	}
	return nil
}
