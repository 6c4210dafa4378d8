package logic

import "time"

// DefaultShutdownHold is how long the shutdown button must be held.
const DefaultShutdownHold = 2 * time.Second

// HoldDetector recognises a press held for at least Hold.
// Timestamps are capture-clock offsets, matching the GPIO event clock.
type HoldDetector struct {
	hold       time.Duration
	pressed    bool
	pressedAt  time.Duration
	lastHeldMs int64
}

// NewHoldDetector creates a detector requiring presses of at least hold.
func NewHoldDetector(hold time.Duration) *HoldDetector {
	return &HoldDetector{hold: hold}
}

// Process records a press or release and returns true when a release
// completes a press held for at least the configured duration.
func (h *HoldDetector) Process(pressed bool, at time.Duration) bool {
	if pressed {
		if !h.pressed {
			h.pressed = true
			h.pressedAt = at
		}
		return false
	}
	if !h.pressed {
		// Release without a press (e.g. button held at startup).
		return false
	}
	h.pressed = false
	held := at - h.pressedAt
	h.lastHeldMs = held.Milliseconds()
	return held >= h.hold
}

// LastHeld returns the duration of the most recent completed press.
func (h *HoldDetector) LastHeld() time.Duration {
	return time.Duration(h.lastHeldMs) * time.Millisecond
}
