package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string               `json:"event,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Device        string               `json:"device"`
	Serial        string               `json:"serial"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     string               `json:"start_time"`
	Timestamp     string               `json:"timestamp"`
	Roaster       map[string]FieldJSON `json:"roaster"`
	CO2Density    *float64             `json:"co2_g_m3"`
	Phase         PhaseJSON            `json:"phase"`
	BLE           BLEJSON              `json:"ble"`
	Sensors       []SensorJSON         `json:"sensors"`
	RoastLog      RoastLogJSON         `json:"roast_log"`
	MQTT          MQTTStatus           `json:"mqtt"`
	Network       *NetworkJSON         `json:"network,omitempty"`
	Config        ConfigJSON           `json:"config"`
}

// FieldJSON is one telemetry field. Value is null until a good reading exists.
type FieldJSON struct {
	Value  *float64 `json:"value"`
	AsOf   string   `json:"as_of,omitempty"`
	Fault  bool     `json:"fault"`
	Faults uint64   `json:"faults"`
}

// PhaseJSON reports phase decoder counters.
type PhaseJSON struct {
	ZCDEdges     uint64 `json:"zcd_edges"`
	HeaterEdges  uint64 `json:"heater_edges"`
	FanEdges     uint64 `json:"fan_edges"`
	Ignored      uint64 `json:"ignored"`
	SignalLoss   uint64 `json:"signal_loss"`
	Transitions  uint64 `json:"transitions"`
	EdgesDropped uint64 `json:"edges_dropped"`
}

// BLEJSON reports protocol bridge state.
type BLEJSON struct {
	Enabled       bool   `json:"enabled"`
	State         string `json:"state"`
	Central       string `json:"central,omitempty"`
	Subscriptions int    `json:"subscriptions"`
	Connects      uint64 `json:"connects"`
	Disconnects   uint64 `json:"disconnects"`
	Notifications uint64 `json:"notifications"`
	Coalesced     uint64 `json:"coalesced"`
	NotifyErrors  uint64 `json:"notify_errors"`
}

// SensorJSON reports one sensor source.
type SensorJSON struct {
	Name      string `json:"name"`
	Breaker   string `json:"breaker"`
	Faults    uint64 `json:"faults"`
	LastError string `json:"last_error,omitempty"`
}

// RoastLogJSON reports roast log counters.
type RoastLogJSON struct {
	Rows   uint64 `json:"rows"`
	Errors uint64 `json:"errors"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	NotifyIntervalMs int64  `json:"notify_interval_ms"`
	SampleIntervalMs int64  `json:"sample_interval_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	SensorSource     string `json:"sensor_source"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
	WSBroker         string `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Device:        snap.Config.DeviceName,
		Serial:        snap.Config.Serial,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Roaster:       make(map[string]FieldJSON, telemetry.NumFields),
		Phase: PhaseJSON{
			ZCDEdges:     snap.Phase.ZCD,
			HeaterEdges:  snap.Phase.Heater,
			FanEdges:     snap.Phase.Fan,
			Ignored:      snap.Phase.Ignored,
			SignalLoss:   snap.Phase.SignalLoss,
			Transitions:  snap.Phase.Transitions,
			EdgesDropped: snap.EdgesDropped,
		},
		BLE: BLEJSON{
			Enabled:       snap.Config.BLEEnabled,
			State:         string(snap.BLE.State),
			Central:       snap.BLE.Central,
			Subscriptions: snap.BLE.Subscriptions,
			Connects:      snap.BLE.Connects,
			Disconnects:   snap.BLE.Disconnects,
			Notifications: snap.BLE.Notifications,
			Coalesced:     snap.BLE.Coalesced,
			NotifyErrors:  snap.BLE.NotifyErrors,
		},
		Sensors:  make([]SensorJSON, 0, len(snap.Sensors)),
		RoastLog: RoastLogJSON{Rows: snap.LogRows, Errors: snap.LogErrors},
		MQTT:     MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			NotifyIntervalMs: snap.Config.NotifyIntervalMs,
			SampleIntervalMs: snap.Config.SampleIntervalMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			SensorSource:     snap.Config.SensorSource,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
			WSBroker:         snap.Config.WSBroker,
		},
	}
	if inner.BLE.State == "" {
		inner.BLE.State = "DISABLED"
	}

	for _, f := range telemetry.AllFields() {
		v := snap.Telemetry.Get(f)
		fj := FieldJSON{Fault: v.Fault, Faults: v.Faults}
		if v.Valid {
			val := v.Value
			fj.Value = &val
			fj.AsOf = v.AsOf.UTC().Format(time.RFC3339Nano)
		}
		inner.Roaster[f.String()] = fj
	}
	if d, ok := telemetry.CO2DensityOf(snap.Telemetry); ok {
		inner.CO2Density = &d
	}

	for _, s := range snap.Sensors {
		inner.Sensors = append(inner.Sensors, SensorJSON(s))
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
