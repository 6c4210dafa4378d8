package logic

import "time"

// scr indexes the per-channel decoder slots.
const (
	scrHeater = iota
	scrFan
	numSCR
)

// Decoder turns ZCD and SCR edge timing into heater and fan settings.
// It is not safe for concurrent use; a single task owns it.
type Decoder struct {
	cal [numSCR]*Calibration

	windowOpen  bool
	windowStart int64
	consumed    [numSCR]bool

	settings   [numSCR]int
	signalLost bool
	counts     Counts
}

// NewDecoder creates a decoder. It starts in AWAITING_ZCD with both settings at 0.
func NewDecoder(heater, fan *Calibration) *Decoder {
	return &Decoder{cal: [numSCR]*Calibration{heater, fan}}
}

// Process consumes one edge and reports whether either setting changed.
func (d *Decoder) Process(e Edge) bool {
	switch e.Channel {
	case ChannelZCD:
		d.counts.ZCD++
		if d.windowOpen && e.Micros < d.windowStart {
			// Out of order; keep the newer window.
			return false
		}
		d.windowOpen = true
		d.windowStart = e.Micros
		d.consumed = [numSCR]bool{}
		d.signalLost = false
		return false
	case ChannelHeater:
		d.counts.Heater++
		return d.processSCR(scrHeater, e.Micros)
	case ChannelFan:
		d.counts.Fan++
		return d.processSCR(scrFan, e.Micros)
	}
	return false
}

func (d *Decoder) processSCR(idx int, micros int64) bool {
	// No window (never seen ZCD, or auto-off fired), stale edge from before
	// the current ZCD, or a repeat pulse inside the same half-cycle.
	if !d.windowOpen || micros < d.windowStart || d.consumed[idx] {
		d.counts.Ignored++
		return false
	}
	d.consumed[idx] = true

	setting := d.cal[idx].Decode(micros - d.windowStart)
	if setting == d.settings[idx] {
		return false
	}
	d.settings[idx] = setting
	d.counts.Transitions++
	return true
}

// SignalLost forces both settings to 0 and closes the window. Called when no
// ZCD edge has been seen within the off timeout. Reports whether either
// setting changed.
func (d *Decoder) SignalLost() bool {
	changed := d.settings != [numSCR]int{}
	// Only a live signal can be lost; the off timer also fires at startup.
	if d.windowOpen {
		d.counts.SignalLoss++
	}
	d.signalLost = true
	d.windowOpen = false
	d.consumed = [numSCR]bool{}
	d.settings = [numSCR]int{}
	if changed {
		d.counts.Transitions++
	}
	return changed
}

// Settings returns the current heater and fan settings.
func (d *Decoder) Settings() (heater, fan int) {
	return d.settings[scrHeater], d.settings[scrFan]
}

// Reading returns the current settings stamped with asOf.
func (d *Decoder) Reading(asOf time.Time) PhaseReading {
	return PhaseReading{
		Heater: d.settings[scrHeater],
		Fan:    d.settings[scrFan],
		AsOf:   asOf,
	}
}

// State returns the current decoder state.
func (d *Decoder) State() DecoderState {
	switch {
	case d.signalLost:
		return StateSignalLost
	case d.windowOpen:
		return StateWindowOpen
	}
	return StateAwaitingZCD
}

// Counts returns a copy of the edge counters.
func (d *Decoder) Counts() Counts {
	return d.counts
}
