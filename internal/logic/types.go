// Package logic contains pure business logic for roaster phase monitoring.
// This package has NO external dependencies (no GPIO, BLE, MQTT, OS, or time.Sleep).
// Time is always injectable: edge timestamps are microseconds on the capture
// clock and wall time is passed in as time.Time parameters.
package logic

import "time"

// Channel identifies the logical input an edge was captured on.
type Channel int

const (
	ChannelZCD Channel = iota
	ChannelHeater
	ChannelFan
)

func (c Channel) String() string {
	switch c {
	case ChannelZCD:
		return "zcd"
	case ChannelHeater:
		return "heater"
	case ChannelFan:
		return "fan"
	}
	return "unknown"
}

// Edge is a single rising edge captured on one channel.
// Micros is a monotonic capture-clock timestamp, taken at the moment of detection.
type Edge struct {
	Channel Channel
	Micros  int64
}

// PhaseReading is the decoded roaster power state.
// A setting of 0 means the roaster is off (no zero-crossing signal).
type PhaseReading struct {
	Heater int
	Fan    int
	AsOf   time.Time
}

// DecoderState is the externally visible state of the decoder.
type DecoderState string

const (
	StateAwaitingZCD DecoderState = "AWAITING_ZCD"
	StateWindowOpen  DecoderState = "WINDOW_OPEN"
	StateSignalLost  DecoderState = "SIGNAL_LOST"
)

// Counts tracks edge handling since startup.
type Counts struct {
	ZCD         uint64
	Heater      uint64
	Fan         uint64
	Ignored     uint64 // SCR edges with no usable window
	SignalLoss  uint64 // live signal lost, forcing auto-off
	Transitions uint64 // setting changes emitted
}
