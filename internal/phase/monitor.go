// Package phase runs the phase monitor task: it consumes captured edges,
// drives the decoder, enforces the auto-off deadline and emits readings.
package phase

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/logic"
)

// Defaults for the monitor timing.
const (
	DefaultOffTimeout = 200 * time.Millisecond
	DefaultHeartbeat  = time.Second
)

// Timer is a resettable one-shot deadline.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }

// Reset relies on Go 1.23+ timer semantics: no stale value is delivered after Reset.
func (r realTimer) Reset(d time.Duration) { r.t.Reset(d) }
func (r realTimer) Stop()                 { r.t.Stop() }

// Config holds monitor timing.
type Config struct {
	OffTimeout time.Duration
	Heartbeat  time.Duration
}

// Monitor owns a Decoder and is its only user.
type Monitor struct {
	decoder *logic.Decoder
	cfg     Config
	publish func(logic.PhaseReading)
	now     func() time.Time
	log     *log.Entry

	counts atomic.Pointer[logic.Counts]
}

// NewMonitor creates a monitor that calls publish for every emitted reading.
// publish is called from the monitor goroutine and must not block for long.
func NewMonitor(decoder *logic.Decoder, cfg Config, publish func(logic.PhaseReading)) *Monitor {
	if cfg.OffTimeout <= 0 {
		cfg.OffTimeout = DefaultOffTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Monitor{
		decoder: decoder,
		cfg:     cfg,
		publish: publish,
		now:     time.Now,
		log:     log.WithField("component", "phase"),
	}
}

// Run consumes edges until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, edges <-chan logic.Edge) error {
	timer := realTimer{time.NewTimer(m.cfg.OffTimeout)}
	defer timer.Stop()
	ticker := time.NewTicker(m.cfg.Heartbeat)
	defer ticker.Stop()
	return m.run(ctx, edges, timer, ticker.C)
}

// Counts returns the decoder counters as of the last heartbeat.
func (m *Monitor) Counts() logic.Counts {
	if c := m.counts.Load(); c != nil {
		return *c
	}
	return logic.Counts{}
}

func (m *Monitor) run(ctx context.Context, edges <-chan logic.Edge, offTimer Timer, heartbeat <-chan time.Time) error {
	// Start as "off": publish zeros so consumers have a reading from the outset.
	m.publish(m.decoder.Reading(m.now()))
	live := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-edges:
			if e.Channel == logic.ChannelZCD {
				offTimer.Reset(m.cfg.OffTimeout)
				if !live {
					live = true
					m.log.Info("zero-crossing signal present")
				}
			}
			if m.decoder.Process(e) {
				r := m.decoder.Reading(m.now())
				m.log.WithFields(log.Fields{"heater": r.Heater, "fan": r.Fan}).Debug("setting change")
				m.publish(r)
			}

		case <-offTimer.C():
			changed := m.decoder.SignalLost()
			if live {
				live = false
				m.log.WithField("timeout", m.cfg.OffTimeout).Info("no zero-crossing signal, roaster off")
			}
			if changed {
				m.publish(m.decoder.Reading(m.now()))
			}

		case <-heartbeat:
			m.storeCounts()
			m.publish(m.decoder.Reading(m.now()))
		}
	}
}

func (m *Monitor) storeCounts() {
	c := m.decoder.Counts()
	m.counts.Store(&c)
}
