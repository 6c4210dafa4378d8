// Package roastlog records the roast as a time series of every telemetry
// field, sampled at a fixed cadence into one or more sinks.
package roastlog

import (
	"strconv"
	"time"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Row is one sample of all current fields.
type Row struct {
	At       time.Time
	Elapsed  time.Duration
	Snapshot telemetry.Snapshot
}

// Value returns field f and whether it has a good reading.
func (r Row) Value(f telemetry.Field) (float64, bool) {
	v := r.Snapshot.Get(f)
	return v.Value, v.Valid
}

// CO2Density returns the CO2 density in g/m3, if computable.
func (r Row) CO2Density() (float64, bool) {
	return telemetry.CO2DensityOf(r.Snapshot)
}

// Sink receives rows in order.
type Sink interface {
	Write(row Row) error
	Close() error
}

// format renders v with prec decimals, or "" when unavailable.
func format(v float64, ok bool, prec int) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}
