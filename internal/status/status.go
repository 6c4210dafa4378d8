// Package status provides a thread-safe status tracker for the roast-probe daemon.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/rbp"
	"github.com/sweeney/roast-probe/internal/sensor"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceName       string
	Serial           string
	BLEEnabled       bool
	NotifyIntervalMs int64
	SampleIntervalMs int64
	HeartbeatMs      int64
	SensorSource     string // "i2c", "udp <addr>" or "none"
	Broker           string
	HTTPAddr         string
	WSBroker         string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Counters are the per-component counters refreshed by the daemon loop.
type Counters struct {
	Phase        logic.Counts
	EdgesDropped uint64
	BLE          rbp.Stats
	Sensors      []sensor.SourceStatus
	LogRows      uint64
	LogErrors    uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Counters
	Telemetry     telemetry.Snapshot
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. Telemetry is read
// live from the shared state on every Snapshot.
type Tracker struct {
	state *telemetry.State

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// state may be nil, in which case the telemetry snapshot stays empty.
func NewTracker(startTime time.Time, cfg Config, state *telemetry.State) *Tracker {
	return &Tracker{
		state: state,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the component counters.
// Called from runLoop on every tick.
func (t *Tracker) Update(c Counters) {
	c.Sensors = append([]sensor.SourceStatus(nil), c.Sensors...)
	t.mu.Lock()
	t.snap.Counters = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Changes signals on every telemetry change until stop is called. Without a
// telemetry state the channel never fires.
func (t *Tracker) Changes() (changes <-chan struct{}, stop func()) {
	if t.state == nil {
		return nil, func() {}
	}
	return t.state.Subscribe()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if t.state != nil {
		s.Telemetry = t.state.Snapshot()
	}
	s.Now = time.Now()
	return s
}
