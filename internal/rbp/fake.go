package rbp

import (
	"context"
	"errors"
	"sync"
)

// FakePeripheral is a test double standing in for the radio. Tests drive
// connection events and subscriptions through it.
type FakePeripheral struct {
	mu       sync.Mutex
	handler  Handler
	services []*Service
	name     string
	ready    chan struct{}
	stopped  chan struct{}
	central  string
	closed   []string

	// ServeErr, if set, is returned by Serve immediately.
	ServeErr error

	// Teardown, if set, holds Serve after ctx is cancelled until it is
	// closed, standing in for a slow adapter shutdown.
	Teardown chan struct{}
}

// NewFakePeripheral creates a FakePeripheral.
func NewFakePeripheral() *FakePeripheral {
	return &FakePeripheral{ready: make(chan struct{}), stopped: make(chan struct{})}
}

// Serve records the table, reports advertising and blocks until ctx ends.
// On the way out it closes the connected central, as the real adapter does.
func (f *FakePeripheral) Serve(ctx context.Context, name string, services []*Service, h Handler) error {
	if f.ServeErr != nil {
		return f.ServeErr
	}
	f.mu.Lock()
	f.handler = h
	f.services = services
	f.name = name
	f.mu.Unlock()

	h.Advertising()
	close(f.ready)
	<-ctx.Done()
	if f.Teardown != nil {
		<-f.Teardown
	}

	f.mu.Lock()
	central := f.central
	f.central = ""
	if central != "" {
		f.closed = append(f.closed, central)
	}
	f.mu.Unlock()
	if central != "" {
		h.Disconnected(central)
	}
	close(f.stopped)
	return nil
}

// Closed returns the centrals Serve disconnected during shutdown.
func (f *FakePeripheral) Closed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

// Ready is closed once Serve is advertising.
func (f *FakePeripheral) Ready() <-chan struct{} { return f.ready }

// Stopped is closed once Serve has returned.
func (f *FakePeripheral) Stopped() <-chan struct{} { return f.stopped }

// Name returns the advertised name.
func (f *FakePeripheral) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Services returns the published table.
func (f *FakePeripheral) Services() []*Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services
}

func (f *FakePeripheral) h() Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

// Connect simulates a central connecting.
func (f *FakePeripheral) Connect(central string) {
	f.mu.Lock()
	f.central = central
	f.mu.Unlock()
	f.h().Connected(central)
}

// Disconnect simulates a central disconnecting; the fake re-advertises like a real stack.
func (f *FakePeripheral) Disconnect(central string) {
	f.mu.Lock()
	if f.central == central {
		f.central = ""
	}
	f.mu.Unlock()
	h := f.h()
	h.Disconnected(central)
	h.Advertising()
}

// Read simulates a read request.
func (f *FakePeripheral) Read(uuid string) ([]byte, error) { return f.h().Read(uuid) }

// Subscribe simulates enabling notifications on uuid.
func (f *FakePeripheral) Subscribe(uuid string) (*FakeNotifier, error) {
	n := NewFakeNotifier()
	if err := f.h().Subscribe(uuid, n); err != nil {
		return nil, err
	}
	return n, nil
}

var errNotifierDone = errors.New("notifier done")

// FakeNotifier records notifications.
type FakeNotifier struct {
	values chan []byte

	mu       sync.Mutex
	done     bool
	writeErr error
}

// NewFakeNotifier creates a FakeNotifier with room for 64 pending values.
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{values: make(chan []byte, 64)}
}

// Values delivers each notification.
func (n *FakeNotifier) Values() <-chan []byte { return n.values }

func (n *FakeNotifier) Write(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done {
		return 0, errNotifierDone
	}
	if n.writeErr != nil {
		return 0, n.writeErr
	}
	n.values <- append([]byte(nil), p...)
	return len(p), nil
}

// Done reports whether Unsubscribe was called.
func (n *FakeNotifier) Done() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Unsubscribe simulates the central disabling notifications.
func (n *FakeNotifier) Unsubscribe() {
	n.mu.Lock()
	n.done = true
	n.mu.Unlock()
}

// Fail makes subsequent writes return err.
func (n *FakeNotifier) Fail(err error) {
	n.mu.Lock()
	n.writeErr = err
	n.mu.Unlock()
}
