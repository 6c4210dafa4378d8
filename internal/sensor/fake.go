package sensor

import (
	"context"
	"errors"
	"sync"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// FakeSource is a test double returning scripted values.
type FakeSource struct {
	name   string
	fields []telemetry.Field

	mu     sync.Mutex
	values map[telemetry.Field]float64
	err    error
	block  chan struct{}
	reads  int

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSource creates a FakeSource providing fields.
func NewFakeSource(name string, fields ...telemetry.Field) *FakeSource {
	return &FakeSource{name: name, fields: fields, values: map[telemetry.Field]float64{}}
}

// Set scripts the values returned by subsequent reads and clears any error.
func (f *FakeSource) Set(values map[telemetry.Field]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values
	f.err = nil
}

// Fail makes subsequent reads return err.
func (f *FakeSource) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Block makes subsequent reads wait until the returned func is called or ctx ends.
func (f *FakeSource) Block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.block = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Reads returns the number of Read calls.
func (f *FakeSource) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeSource) Name() string              { return f.name }
func (f *FakeSource) Fields() []telemetry.Field { return f.fields }

func (f *FakeSource) Read(ctx context.Context) (map[telemetry.Field]float64, error) {
	f.mu.Lock()
	f.reads++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[telemetry.Field]float64, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var errNoResponse = errors.New("no response queued")

// FakeConn is a scripted I2C device. Each Tx with a non-empty read buffer
// consumes the next queued response.
type FakeConn struct {
	mu        sync.Mutex
	Writes    [][]byte
	responses [][]byte
	Err       error
}

// Queue appends responses for subsequent reads.
func (c *FakeConn) Queue(responses ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses...)
}

func (c *FakeConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if len(w) > 0 {
		c.Writes = append(c.Writes, append([]byte(nil), w...))
	}
	if len(r) > 0 {
		if len(c.responses) == 0 {
			return errNoResponse
		}
		copy(r, c.responses[0])
		c.responses = c.responses[1:]
	}
	return nil
}
