package gpio

import (
	"sync"
	"sync/atomic"

	"github.com/sweeney/roast-probe/internal/logic"
)

// FakeEdges is a test double fed by Push.
type FakeEdges struct {
	edges   chan logic.Edge
	dropped atomic.Uint64

	// Closed tracks if Close was called
	Closed atomic.Bool
}

// NewFakeEdges creates a FakeEdges with the given buffer size.
func NewFakeEdges(buffer int) *FakeEdges {
	return &FakeEdges{edges: make(chan logic.Edge, buffer)}
}

// Push enqueues e without blocking, counting a drop if the buffer is full.
func (f *FakeEdges) Push(edges ...logic.Edge) {
	for _, e := range edges {
		select {
		case f.edges <- e:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *FakeEdges) Edges() <-chan logic.Edge { return f.edges }
func (f *FakeEdges) Dropped() uint64          { return f.dropped.Load() }

// Close marks the source as closed.
func (f *FakeEdges) Close() error {
	f.Closed.Store(true)
	return nil
}

// FakeButton is a scripted shutdown button.
type FakeButton struct {
	events chan ButtonEvent
}

// NewFakeButton creates a FakeButton.
func NewFakeButton() *FakeButton {
	return &FakeButton{events: make(chan ButtonEvent, 16)}
}

// Send delivers ev to the consumer.
func (f *FakeButton) Send(ev ButtonEvent) { f.events <- ev }

func (f *FakeButton) Events() <-chan ButtonEvent { return f.events }
func (f *FakeButton) Close() error               { return nil }

// FakeLED records every state written to it.
type FakeLED struct {
	mu     sync.Mutex
	states []bool
	SetErr error
	Closed bool
}

// Set records on.
func (f *FakeLED) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	f.states = append(f.states, on)
	return nil
}

// States returns a copy of the recorded states.
func (f *FakeLED) States() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.states...)
}

// On reports the most recent state.
func (f *FakeLED) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states) > 0 && f.states[len(f.states)-1]
}

// Close marks the LED as closed.
func (f *FakeLED) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
