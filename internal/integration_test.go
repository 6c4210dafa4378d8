package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/roast-probe/internal/config"
	"github.com/sweeney/roast-probe/internal/gpio"
	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/mqtt"
	"github.com/sweeney/roast-probe/internal/phase"
	"github.com/sweeney/roast-probe/internal/rbp"
	"github.com/sweeney/roast-probe/internal/roastlog"
	"github.com/sweeney/roast-probe/internal/sensor"
	"github.com/sweeney/roast-probe/internal/status"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// pipeline wires the daemon's components together with fakes at the edges.
type pipeline struct {
	state   *telemetry.State
	edges   *gpio.FakeEdges
	monitor *phase.Monitor
	bridge  *rbp.Bridge
	radio   *rbp.FakePeripheral
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	cfg := config.Defaults()
	heater, fan, err := cfg.Calibrations()
	if err != nil {
		t.Fatalf("calibrations: %v", err)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("profile: %v", err)
	}

	p := &pipeline{
		state: telemetry.New(),
		edges: gpio.NewFakeEdges(64),
		radio: rbp.NewFakePeripheral(),
	}
	p.monitor = phase.NewMonitor(logic.NewDecoder(heater, fan), cfg.Monitor(), phase.TelemetryPublisher(p.state))

	bcfg := cfg.Bridge()
	bcfg.MinNotifyInterval = 10 * time.Millisecond
	p.bridge, err = rbp.New(p.state, profile, bcfg)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		p.monitor.Run(ctx, p.edges.Edges())
		close(monitorDone)
	}()
	go p.bridge.Serve(ctx, p.radio)
	<-p.radio.Ready()

	t.Cleanup(func() {
		cancel()
		<-p.radio.Stopped()
		<-monitorDone
	})
	return p
}

// halfCycle pushes one ZCD edge at base followed by heater and fan firings.
func (p *pipeline) halfCycle(base, heaterDelay, fanDelay int64) {
	p.edges.Push(
		logic.Edge{Channel: logic.ChannelZCD, Micros: base},
		logic.Edge{Channel: logic.ChannelHeater, Micros: base + heaterDelay},
		logic.Edge{Channel: logic.ChannelFan, Micros: base + fanDelay},
	)
}

// waitFor reads notifications until want arrives or the deadline passes.
func waitFor(t *testing.T, n *rbp.FakeNotifier, want []byte, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	var last []byte
	for {
		select {
		case v := <-n.Values():
			if bytes.Equal(v, want) {
				return
			}
			last = v
		case <-deadline:
			t.Fatalf("notification % x not seen within %s, last % x", want, timeout, last)
		}
	}
}

// TestIntegrationPhaseToNotification follows edges through the decoder,
// telemetry state and bridge to a subscribed central, then lets the
// zero-crossing signal stop and waits for the auto-off.
func TestIntegrationPhaseToNotification(t *testing.T) {
	p := newPipeline(t)

	p.radio.Connect("central-1")
	heater, err := p.radio.Subscribe(rbp.User2UUID)
	if err != nil {
		t.Fatalf("subscribe heater: %v", err)
	}
	fan, err := p.radio.Subscribe(rbp.User3UUID)
	if err != nil {
		t.Fatalf("subscribe fan: %v", err)
	}

	// Current value first: the roaster starts off.
	waitFor(t, heater, []byte{0, 0, 0, 0}, time.Second)

	// 8333us half-cycles at 60 Hz; heater fires at 800us (9), fan at 3900us (5).
	for i := int64(0); i < 3; i++ {
		p.halfCycle(i*8333, 800, 3900)
	}

	waitFor(t, heater, []byte{0x84, 0x03, 0x00, 0x00}, time.Second)
	waitFor(t, fan, []byte{0xf4, 0x01, 0x00, 0x00}, time.Second)

	// No further ZCD edges: the off timeout forces both settings to 0.
	waitFor(t, heater, []byte{0, 0, 0, 0}, 2*time.Second)
	waitFor(t, fan, []byte{0, 0, 0, 0}, 2*time.Second)

	stats := p.bridge.Stats()
	if stats.State != rbp.StateConnected {
		t.Errorf("state = %s, want CONNECTED", stats.State)
	}
	if stats.Notifications < 6 {
		t.Errorf("notifications = %d, want at least 6", stats.Notifications)
	}
}

// TestIntegrationDisconnectStopsNotifications verifies that nothing reaches
// the old central after it disconnects.
func TestIntegrationDisconnectStopsNotifications(t *testing.T) {
	p := newPipeline(t)

	p.radio.Connect("central-1")
	heater, err := p.radio.Subscribe(rbp.User2UUID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, heater, []byte{0, 0, 0, 0}, time.Second)

	p.radio.Disconnect("central-1")
	if got := p.bridge.State(); got != rbp.StateAdvertising {
		t.Fatalf("state after disconnect = %s, want ADVERTISING", got)
	}

	p.halfCycle(0, 800, 3900)
	select {
	case v := <-heater.Values():
		t.Fatalf("notification % x after disconnect", v)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := p.radio.Subscribe(rbp.User2UUID); !errors.Is(err, rbp.ErrNotConnected) {
		t.Errorf("subscribe while advertising: err = %v, want ErrNotConnected", err)
	}
}

// TestIntegrationSensorsToRead polls fake sensors into the shared state and
// reads the encoded characteristics back through the bridge.
func TestIntegrationSensorsToRead(t *testing.T) {
	state := telemetry.New()
	profile := rbp.DefaultProfile()
	bridge, err := rbp.New(state, profile, rbp.Config{})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}

	thermo := sensor.NewFakeSource("mcp9600", telemetry.BeanTemp)
	agg := sensor.NewAggregator(state, sensor.Config{ReadTimeout: 100 * time.Millisecond}, thermo)
	defer agg.Close()

	// Unavailable before the first good reading.
	got, err := bridge.Read(rbp.Temp1UUID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("before first poll = % x, want zeros", got)
	}

	thermo.Set(map[telemetry.Field]float64{telemetry.BeanTemp: 185.5})
	agg.Poll(context.Background())

	want := []byte{0x76, 0x48, 0x00, 0x00}
	if got, _ := bridge.Read(rbp.Temp1UUID); !bytes.Equal(got, want) {
		t.Errorf("bean temp = % x, want % x", got, want)
	}

	// A failing sensor keeps the last good value and flags the fault.
	thermo.Fail(errors.New("i2c nack"))
	r := agg.Poll(context.Background())
	if len(r.Faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(r.Faults))
	}
	if got, _ := bridge.Read(rbp.Temp1UUID); !bytes.Equal(got, want) {
		t.Errorf("bean temp after fault = % x, want % x", got, want)
	}
	v := state.Snapshot().Get(telemetry.BeanTemp)
	if !v.Fault || v.Faults != 1 {
		t.Errorf("bean temp fault = %v faults = %d, want true/1", v.Fault, v.Faults)
	}

	// Recovery clears the flag.
	thermo.Set(map[telemetry.Field]float64{telemetry.BeanTemp: 190})
	agg.Poll(context.Background())
	if v := state.Snapshot().Get(telemetry.BeanTemp); v.Fault || v.Value != 190 {
		t.Errorf("after recovery = %+v, want 190 without fault", v)
	}
}

// TestIntegrationRoastLogAndMQTT samples one state into a CSV file and the
// MQTT telemetry sink, then reports both through the status tracker.
func TestIntegrationRoastLogAndMQTT(t *testing.T) {
	state := telemetry.New()
	now := time.Now()
	state.Update(now,
		telemetry.Reading{Field: telemetry.BeanTemp, Value: 185.5},
		telemetry.Reading{Field: telemetry.Heater, Value: 9},
		telemetry.Reading{Field: telemetry.Fan, Value: 5},
	)

	csv, err := roastlog.NewCSVSink(t.TempDir(), now)
	if err != nil {
		t.Fatalf("csv sink: %v", err)
	}
	pub := mqtt.NewFakePublisher()

	logger := roastlog.NewLogger(state, time.Second, now, csv, mqtt.Sink(pub))
	logger.Sample()
	logger.Sample()
	if err := logger.Close(time.Second); err != nil {
		t.Fatalf("close: %v", err)
	}
	logger.Sample() // ignored once closed

	if logger.Rows() != 2 {
		t.Errorf("rows = %d, want 2", logger.Rows())
	}
	if pub.RowCount() != 2 {
		t.Errorf("published rows = %d, want 2", pub.RowCount())
	}

	data, err := os.ReadFile(csv.Path())
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header + 2", len(lines))
	}
	if !strings.Contains(lines[1], "185.50") {
		t.Errorf("csv row %q missing bean temp", lines[1])
	}

	var payload struct {
		Roaster struct {
			BeanTemp *float64 `json:"bean_temp"`
			Heater   *float64 `json:"heater"`
			Humidity *float64 `json:"humidity"`
		} `json:"roaster"`
	}
	if err := json.Unmarshal(pub.Payloads[0], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Roaster.BeanTemp == nil || *payload.Roaster.BeanTemp != 185.5 {
		t.Errorf("bean_temp = %v, want 185.5", payload.Roaster.BeanTemp)
	}
	if payload.Roaster.Heater == nil || *payload.Roaster.Heater != 9 {
		t.Errorf("heater = %v, want 9", payload.Roaster.Heater)
	}
	if payload.Roaster.Humidity != nil {
		t.Errorf("humidity = %v, want null", *payload.Roaster.Humidity)
	}

	tracker := status.NewTracker(now, status.Config{DeviceName: "RoastProbe"}, state)
	tracker.Update(status.Counters{LogRows: logger.Rows(), LogErrors: logger.Errors()})

	var doc struct {
		Status struct {
			Roaster map[string]struct {
				Value *float64 `json:"value"`
			} `json:"roaster"`
			RoastLog struct {
				Rows uint64 `json:"rows"`
			} `json:"roast_log"`
		} `json:"status"`
	}
	if err := json.Unmarshal(status.FormatJSON(tracker.Snapshot()), &doc); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if doc.Status.RoastLog.Rows != 2 {
		t.Errorf("status rows = %d, want 2", doc.Status.RoastLog.Rows)
	}
	fan := doc.Status.Roaster["fan"].Value
	if fan == nil || *fan != 5 {
		t.Errorf("status fan = %v, want 5", fan)
	}
}
