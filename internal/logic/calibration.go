package logic

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Setting bounds reported while the roaster is running. 0 is reserved for auto-off.
const (
	MinSetting = 1
	MaxSetting = 9
)

// Interpolation selects how a measured delay between calibration points maps to a setting.
type Interpolation string

const (
	// InterpolationNearest picks the closest calibration point; exact ties go to the lower setting.
	InterpolationNearest Interpolation = "nearest"
	// InterpolationLinear interpolates between neighbouring points and rounds half down.
	InterpolationLinear Interpolation = "linear"
)

// CalibrationPoint is the ZCD->SCR delay measured for one dial setting.
type CalibrationPoint struct {
	Setting     int
	DelayMicros int64
}

// CalibrationError reports a malformed calibration table. It is fatal at startup.
type CalibrationError struct {
	Channel  string
	Problems []string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration %s: %s", e.Channel, strings.Join(e.Problems, "; "))
}

// Calibration is an immutable delay->setting table for one SCR channel.
// Points are ordered by ascending setting, which is strictly descending delay.
type Calibration struct {
	points []CalibrationPoint
	law    Interpolation
}

// NewCalibration validates points and returns a table for decoding.
// The table must contain settings 1 and 9, every setting must be unique and in
// range, and delay must strictly decrease as the setting increases.
func NewCalibration(channel string, points []CalibrationPoint, law Interpolation) (*Calibration, error) {
	ce := &CalibrationError{Channel: channel}

	if law == "" {
		law = InterpolationNearest
	}
	if law != InterpolationNearest && law != InterpolationLinear {
		ce.Problems = append(ce.Problems, fmt.Sprintf("unknown interpolation %q", law))
	}

	sorted := make([]CalibrationPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Setting < sorted[j].Setting })

	if len(sorted) < 2 {
		ce.Problems = append(ce.Problems, fmt.Sprintf("need at least 2 points, got %d", len(sorted)))
	}

	seen := make(map[int]bool, len(sorted))
	for i, p := range sorted {
		if p.Setting < MinSetting || p.Setting > MaxSetting {
			ce.Problems = append(ce.Problems, fmt.Sprintf("setting %d out of range %d..%d", p.Setting, MinSetting, MaxSetting))
		}
		if seen[p.Setting] {
			ce.Problems = append(ce.Problems, fmt.Sprintf("duplicate setting %d", p.Setting))
		}
		seen[p.Setting] = true
		if p.DelayMicros <= 0 {
			ce.Problems = append(ce.Problems, fmt.Sprintf("setting %d: delay must be > 0", p.Setting))
		}
		if i > 0 && p.DelayMicros >= sorted[i-1].DelayMicros {
			ce.Problems = append(ce.Problems, fmt.Sprintf("setting %d: delay %dus must be shorter than setting %d (%dus)",
				p.Setting, p.DelayMicros, sorted[i-1].Setting, sorted[i-1].DelayMicros))
		}
	}
	if len(sorted) > 0 {
		if !seen[MinSetting] {
			ce.Problems = append(ce.Problems, fmt.Sprintf("missing setting %d", MinSetting))
		}
		if !seen[MaxSetting] {
			ce.Problems = append(ce.Problems, fmt.Sprintf("missing setting %d", MaxSetting))
		}
	}

	if len(ce.Problems) > 0 {
		return nil, ce
	}
	return &Calibration{points: sorted, law: law}, nil
}

// Points returns a copy of the table ordered by setting.
func (c *Calibration) Points() []CalibrationPoint {
	out := make([]CalibrationPoint, len(c.points))
	copy(out, c.points)
	return out
}

// Law returns the interpolation law in use.
func (c *Calibration) Law() Interpolation {
	return c.law
}

// Decode maps a ZCD->SCR delay to a setting in 1..9.
// A longer delay never yields a higher setting. Delays beyond the setting-1
// point clamp to 1 and delays shorter than the setting-9 point clamp to 9.
func (c *Calibration) Decode(delayMicros int64) int {
	first := c.points[0]
	last := c.points[len(c.points)-1]
	if delayMicros >= first.DelayMicros {
		return first.Setting
	}
	if delayMicros <= last.DelayMicros {
		return last.Setting
	}
	if c.law == InterpolationLinear {
		return c.decodeLinear(delayMicros)
	}
	return c.decodeNearest(delayMicros)
}

func (c *Calibration) decodeNearest(delay int64) int {
	best := c.points[0]
	bestDiff := abs64(delay - best.DelayMicros)
	for _, p := range c.points[1:] {
		// Strict comparison keeps the lower setting on an exact tie.
		if d := abs64(delay - p.DelayMicros); d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return best.Setting
}

func (c *Calibration) decodeLinear(delay int64) int {
	for i := 0; i < len(c.points)-1; i++ {
		lo, hi := c.points[i], c.points[i+1]
		if delay <= lo.DelayMicros && delay >= hi.DelayMicros {
			frac := float64(lo.DelayMicros-delay) / float64(lo.DelayMicros-hi.DelayMicros)
			v := float64(lo.Setting) + frac*float64(hi.Setting-lo.Setting)
			// round half down
			return int(math.Ceil(v - 0.5))
		}
	}
	return c.points[len(c.points)-1].Setting
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
