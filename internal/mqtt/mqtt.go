// Package mqtt publishes roast telemetry and daemon lifecycle events.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/roast-probe/internal/roastlog"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// TopicTelemetry is the MQTT topic for periodic telemetry samples.
const TopicTelemetry = "roaster/probe/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "roaster/probe/system"

// Publisher publishes to MQTT.
type Publisher interface {
	// Publish sends one telemetry sample.
	// Returns error if publishing fails (should not crash the process).
	Publish(row roastlog.Row) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "BUTTON" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the telemetry message envelope.
type Payload struct {
	Roaster RoasterPayload `json:"roaster"`
}

// RoasterPayload carries one sample. Unavailable values are null.
type RoasterPayload struct {
	Timestamp   string   `json:"timestamp"`
	ElapsedSec  float64  `json:"elapsed_sec"`
	BeanTemp    *float64 `json:"bean_temp"`
	ExhaustTemp *float64 `json:"exhaust_temp"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2_ppm"`
	CO2Density  *float64 `json:"co2_g_m3"`
	Heater      *float64 `json:"heater"`
	Fan         *float64 `json:"fan"`
	Faults      []string `json:"faults,omitempty"`
}

// FormatPayload creates the JSON payload for a telemetry sample.
func FormatPayload(row roastlog.Row) ([]byte, error) {
	field := func(f telemetry.Field, prec int) *float64 {
		v, ok := row.Value(f)
		return rounded(v, ok, prec)
	}
	density, ok := row.CO2Density()

	p := RoasterPayload{
		Timestamp:   row.At.UTC().Format(time.RFC3339),
		ElapsedSec:  math.Round(row.Elapsed.Seconds()*10) / 10,
		BeanTemp:    field(telemetry.BeanTemp, 2),
		ExhaustTemp: field(telemetry.ExhaustTemp, 2),
		Humidity:    field(telemetry.Humidity, 2),
		CO2:         field(telemetry.CO2, 0),
		CO2Density:  rounded(density, ok, 4),
		Heater:      field(telemetry.Heater, 0),
		Fan:         field(telemetry.Fan, 0),
	}
	for _, f := range telemetry.AllFields() {
		if row.Snapshot.Get(f).Fault {
			p.Faults = append(p.Faults, f.String())
		}
	}
	return json.Marshal(Payload{Roaster: p})
}

func rounded(v float64, ok bool, prec int) *float64 {
	if !ok {
		return nil
	}
	scale := math.Pow(10, float64(prec))
	r := math.Round(v*scale) / scale
	return &r
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Sink adapts p to a roastlog.Sink so a roastlog.Logger can drive telemetry at
// its own cadence. Closing the sink leaves p open for the shutdown event.
func Sink(p Publisher) roastlog.Sink {
	return sink{p}
}

type sink struct{ p Publisher }

func (s sink) Write(row roastlog.Row) error { return s.p.Publish(row) }
func (s sink) Close() error                 { return nil }
