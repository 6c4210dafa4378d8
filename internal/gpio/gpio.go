// Package gpio captures roaster signal edges and drives the front-panel
// button and LED.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/roast-probe/internal/logic"
)

// ErrUnsupported is returned by the real constructors on non-Linux platforms.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// EdgeSource delivers timestamped rising edges from the ZCD and SCR trigger inputs.
type EdgeSource interface {
	// Edges returns the channel of captured edges. It is never closed;
	// consumers stop on their own context.
	Edges() <-chan logic.Edge

	// Dropped returns the number of edges discarded because the consumer
	// fell behind.
	Dropped() uint64

	// Close releases GPIO resources.
	Close() error
}

// ButtonEvent is a debounced level change of the shutdown button.
type ButtonEvent struct {
	Pressed bool
	At      time.Duration // monotonic capture time
}

// Button reports shutdown button presses and releases.
type Button interface {
	Events() <-chan ButtonEvent
	Close() error
}

// LED is the status indicator output.
type LED interface {
	Set(on bool) error
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinZCD      = 17 // zero-crossing detector
	PinFan      = 27 // fan SCR trigger
	PinHeater   = 22 // heater SCR trigger
	PinShutdown = 26 // shutdown button, active low
	PinLED      = 19 // status LED
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultEdgeBuffer is large enough for several mains half-cycles of edges.
const DefaultEdgeBuffer = 256

// Pins maps signals to BCM line offsets.
type Pins struct {
	ZCD      int `yaml:"zcd"`
	Heater   int `yaml:"heater"`
	Fan      int `yaml:"fan"`
	Shutdown int `yaml:"shutdown"`
	LED      int `yaml:"led"`
}

// DefaultPins returns the standard RBP wiring.
func DefaultPins() Pins {
	return Pins{
		ZCD:      PinZCD,
		Heater:   PinHeater,
		Fan:      PinFan,
		Shutdown: PinShutdown,
		LED:      PinLED,
	}
}

// Blink toggles led n times with the given half-period, leaving it off.
func Blink(ctx context.Context, led LED, n int, half time.Duration) error {
	t := time.NewTicker(half)
	defer t.Stop()
	for i := 0; i < n; i++ {
		for _, on := range []bool{true, false} {
			if err := led.Set(on); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return led.Set(false)
			case <-t.C:
			}
		}
	}
	return nil
}
