//go:build !linux

package gpio

import "github.com/sweeney/roast-probe/internal/logic"

// RealEdges is not available on non-Linux platforms.
type RealEdges struct{}

// NewRealEdges returns ErrUnsupported on non-Linux platforms.
func NewRealEdges(chip string, pins Pins, buffer int) (*RealEdges, error) {
	return nil, ErrUnsupported
}

func (r *RealEdges) Edges() <-chan logic.Edge { return nil }
func (r *RealEdges) Dropped() uint64          { return 0 }
func (r *RealEdges) Close() error             { return nil }

// RealButton is not available on non-Linux platforms.
type RealButton struct{}

// NewRealButton returns ErrUnsupported on non-Linux platforms.
func NewRealButton(chip string, pin int) (*RealButton, error) {
	return nil, ErrUnsupported
}

func (b *RealButton) Events() <-chan ButtonEvent { return nil }
func (b *RealButton) Close() error               { return nil }

// RealLED is not available on non-Linux platforms.
type RealLED struct{}

// NewRealLED returns ErrUnsupported on non-Linux platforms.
func NewRealLED(chip string, pin int) (*RealLED, error) {
	return nil, ErrUnsupported
}

func (l *RealLED) Set(on bool) error { return ErrUnsupported }
func (l *RealLED) Close() error      { return nil }
