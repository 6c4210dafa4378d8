package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/roast-probe/internal/status"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// TelemetryJSON is the compact body of /telemetry.json and of each /events
// message, which the status page follows when no websocket broker is configured.
type TelemetryJSON struct {
	Timestamp string              `json:"timestamp"`
	Version   uint64              `json:"version"`
	Values    map[string]*float64 `json:"values"`
	Faults    []string            `json:"faults"`
	BLE       string              `json:"ble"`
}

func formatTelemetry(snap status.Snapshot) []byte {
	tj := TelemetryJSON{
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Version:   snap.Telemetry.Version,
		Values:    make(map[string]*float64, telemetry.NumFields+1),
		Faults:    []string{},
		BLE:       string(snap.BLE.State),
	}
	for _, f := range telemetry.AllFields() {
		v := snap.Telemetry.Get(f)
		if v.Valid {
			val := v.Value
			tj.Values[f.String()] = &val
		} else {
			tj.Values[f.String()] = nil
		}
		if v.Fault {
			tj.Faults = append(tj.Faults, f.String())
		}
	}
	if d, ok := telemetry.CO2DensityOf(snap.Telemetry); ok {
		tj.Values["co2_g_m3"] = &d
	} else {
		tj.Values["co2_g_m3"] = nil
	}

	data, _ := json.Marshal(tj)
	return data
}
