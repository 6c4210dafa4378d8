package roastlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = time.Second

// ErrCloseTimeout is returned when sinks fail to close in time.
var ErrCloseTimeout = errors.New("roastlog: close timed out")

// Logger samples telemetry at a fixed cadence into sinks. A failing sink is
// logged and counted; it never stops the others.
type Logger struct {
	state    *telemetry.State
	sinks    []Sink
	interval time.Duration
	start    time.Time
	now      func() time.Time
	log      *log.Entry

	rows   atomic.Uint64
	errors atomic.Uint64
	mu     sync.Mutex // serialises writes with Close
	closed bool
}

// NewLogger creates a logger whose elapsed time counts from start.
func NewLogger(state *telemetry.State, interval time.Duration, start time.Time, sinks ...Sink) *Logger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Logger{
		state:    state,
		sinks:    sinks,
		interval: interval,
		start:    start,
		now:      time.Now,
		log:      log.WithField("component", "roastlog"),
	}
}

// Run samples until ctx is cancelled.
func (l *Logger) Run(ctx context.Context) error {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	return l.run(ctx, t.C)
}

func (l *Logger) run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			l.Sample()
		}
	}
}

// Sample writes the current snapshot to every sink.
func (l *Logger) Sample() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	at := l.now()
	row := Row{At: at, Elapsed: at.Sub(l.start), Snapshot: l.state.Snapshot()}
	written := false
	for _, s := range l.sinks {
		if err := s.Write(row); err != nil {
			if l.errors.Add(1) == 1 {
				l.log.WithError(err).Warn("log write failed")
			}
			continue
		}
		written = true
	}
	if written {
		l.rows.Add(1)
	}
}

// Rows returns the number of samples that reached at least one sink.
func (l *Logger) Rows() uint64 { return l.rows.Load() }

// Errors returns the number of failed sink writes.
func (l *Logger) Errors() uint64 { return l.errors.Load() }

// Close closes every sink, waiting at most timeout. Errors are logged
// and returned; the caller continues shutting down regardless.
func (l *Logger) Close(timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	errs := make(chan error, len(l.sinks))
	for _, s := range l.sinks {
		go func() { errs <- s.Close() }()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var all []error
	for range l.sinks {
		select {
		case err := <-errs:
			if err != nil {
				all = append(all, err)
			}
		case <-deadline.C:
			all = append(all, fmt.Errorf("%w after %s", ErrCloseTimeout, timeout))
			err := errors.Join(all...)
			l.log.WithError(err).Error("roast log not flushed")
			return err
		}
	}
	if err := errors.Join(all...); err != nil {
		l.log.WithError(err).Error("roast log not flushed")
		return err
	}
	return nil
}
