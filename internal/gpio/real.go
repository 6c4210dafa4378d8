//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/roast-probe/internal/logic"
)

// buttonDebounce filters contact bounce on the shutdown button.
const buttonDebounce = 10 * time.Millisecond

// RealEdges captures rising edges on the ZCD, heater and fan lines using
// kernel edge detection, so timestamps are taken at interrupt time.
type RealEdges struct {
	lines    *gpiocdev.Lines
	edges    chan logic.Edge
	dropped  atomic.Uint64
	channels map[int]logic.Channel
}

// NewRealEdges requests the three signal lines on chip for rising edge events.
func NewRealEdges(chip string, pins Pins, buffer int) (*RealEdges, error) {
	if buffer <= 0 {
		buffer = DefaultEdgeBuffer
	}
	r := &RealEdges{
		edges: make(chan logic.Edge, buffer),
		channels: map[int]logic.Channel{
			pins.ZCD:    logic.ChannelZCD,
			pins.Heater: logic.ChannelHeater,
			pins.Fan:    logic.ChannelFan,
		},
	}
	if len(r.channels) != 3 {
		return nil, fmt.Errorf("signal pins must be distinct: zcd=%d heater=%d fan=%d", pins.ZCD, pins.Heater, pins.Fan)
	}

	lines, err := gpiocdev.RequestLines(chip, []int{pins.ZCD, pins.Heater, pins.Fan},
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(r.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("request signal lines %d,%d,%d: %w", pins.ZCD, pins.Heater, pins.Fan, err)
	}
	r.lines = lines
	return r, nil
}

// handle runs on the gpiocdev watcher goroutine and must not block.
func (r *RealEdges) handle(evt gpiocdev.LineEvent) {
	ch, ok := r.channels[evt.Offset]
	if !ok {
		return
	}
	select {
	case r.edges <- logic.Edge{Channel: ch, Micros: evt.Timestamp.Microseconds()}:
	default:
		r.dropped.Add(1)
	}
}

// Edges returns the captured edge stream.
func (r *RealEdges) Edges() <-chan logic.Edge { return r.edges }

// Dropped returns the number of edges lost to a full buffer.
func (r *RealEdges) Dropped() uint64 { return r.dropped.Load() }

// Close releases the signal lines. The edge channel stays open.
func (r *RealEdges) Close() error {
	if r.lines == nil {
		return nil
	}
	if err := r.lines.Close(); err != nil {
		return fmt.Errorf("close signal lines: %w", err)
	}
	return nil
}

// RealButton watches the shutdown button line.
type RealButton struct {
	line   *gpiocdev.Line
	events chan ButtonEvent
}

// NewRealButton requests pin as an active-low input with pull-up.
func NewRealButton(chip string, pin int) (*RealButton, error) {
	b := &RealButton{events: make(chan ButtonEvent, 8)}
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.AsActiveLow,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(buttonDebounce),
		gpiocdev.WithEventHandler(b.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}
	b.line = line
	return b, nil
}

func (b *RealButton) handle(evt gpiocdev.LineEvent) {
	select {
	case b.events <- ButtonEvent{Pressed: evt.Type == gpiocdev.LineEventRisingEdge, At: evt.Timestamp}:
	default:
	}
}

// Events returns debounced press and release events.
func (b *RealButton) Events() <-chan ButtonEvent { return b.events }

// Close releases the button line.
func (b *RealButton) Close() error {
	if err := b.line.Close(); err != nil {
		return fmt.Errorf("close button pin: %w", err)
	}
	return nil
}

// RealLED drives the status LED.
type RealLED struct {
	line *gpiocdev.Line
}

// NewRealLED requests pin as an output, initially off.
func NewRealLED(chip string, pin int) (*RealLED, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
	}
	return &RealLED{line: line}, nil
}

// Set switches the LED.
func (l *RealLED) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED: %w", err)
	}
	return nil
}

// Close turns the LED off and returns the pin to an input with pull-down,
// matching the Pi boot default.
func (l *RealLED) Close() error {
	var errs []error
	if err := l.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("clear LED: %w", err))
	}
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure LED pin: %w", err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close LED pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
