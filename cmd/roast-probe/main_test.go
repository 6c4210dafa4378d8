package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/roast-probe/internal/config"
	"github.com/sweeney/roast-probe/internal/gpio"
	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/mqtt"
	"github.com/sweeney/roast-probe/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" || info.IP != "" {
		t.Errorf("got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws, broker, want string
	}{
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"=broker", "tcp://broker.local:1883", "ws://broker.local:9001"},
		{"off", "tcp://192.168.1.200:1883", ""},
		{"ws://other:8080/mqtt", "tcp://192.168.1.200:1883", "ws://other:8080/mqtt"},
		{"=broker", "://bad", ""},
	}
	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q): got %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type loopHarness struct {
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	tick    chan time.Time
	sig     chan os.Signal
	hold    chan time.Duration
	failed  chan struct{}
	calls   int
	done    chan string
}

func startLoop(t *testing.T, heartbeat time.Duration, clock func() time.Time) *loopHarness {
	t.Helper()
	h := &loopHarness{
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{DeviceName: "RoastProbe"}, nil),
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal, 1),
		hold:    make(chan time.Duration, 1),
		failed:  make(chan struct{}),
		done:    make(chan string, 1),
	}
	counters := func() status.Counters {
		h.calls++
		return status.Counters{Phase: logic.Counts{ZCD: uint64(h.calls)}, LogRows: uint64(h.calls)}
	}
	go func() {
		h.done <- runLoop(h.pub, h.pub, h.tracker, counters, heartbeat, clock, h.tick, h.sig, h.hold, h.failed)
	}()
	return h
}

func (h *loopHarness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

func (h *loopHarness) wait(t *testing.T) string {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
		return ""
	}
}

func eventsNamed(pub *mqtt.FakePublisher, name string) []mqtt.SystemEvent {
	var out []mqtt.SystemEvent
	for _, e := range pub.Events() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func TestRunLoopRefreshesTrackerEveryTick(t *testing.T) {
	h := startLoop(t, 0, time.Now)
	h.pub.Connected = true
	h.ticks(3)
	h.sig <- syscall.SIGTERM
	h.wait(t)

	snap := h.tracker.Snapshot()
	// 3 ticks plus the refresh before SHUTDOWN.
	if snap.LogRows != 4 {
		t.Errorf("LogRows: got %d, want 4", snap.LogRows)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connection state copied to tracker")
	}
	if n := len(eventsNamed(h.pub, "HEARTBEAT")); n != 0 {
		t.Errorf("heartbeat disabled: got %d HEARTBEAT events", n)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock: t0 = start, then one call per tick. With a 5-minute step and a
	// 15-minute interval the heartbeat fires on the third tick.
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)
	h := startLoop(t, 15*time.Minute, clock)
	h.ticks(4)
	h.sig <- syscall.SIGTERM
	h.wait(t)

	heartbeats := eventsNamed(h.pub, "HEARTBEAT")
	if len(heartbeats) != 1 {
		t.Fatalf("expected 1 HEARTBEAT event, got %d", len(heartbeats))
	}
	hb := heartbeats[0]
	if want := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC); !hb.Timestamp.Equal(want) {
		t.Errorf("heartbeat timestamp: got %v, want %v", hb.Timestamp, want)
	}
	if hb.Retained {
		t.Error("heartbeat should not be retained")
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(hb.RawPayload, &payload); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if payload.Status.Event != "HEARTBEAT" || payload.Status.Phase.ZCDEdges != 3 {
		t.Errorf("unexpected heartbeat status: event=%s zcd=%d", payload.Status.Event, payload.Status.Phase.ZCDEdges)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")

	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	h := startLoop(t, time.Minute, clock)
	h.ticks(1)
	h.sig <- syscall.SIGINT
	h.wait(t)

	heartbeats := eventsNamed(h.pub, "HEARTBEAT")
	if len(heartbeats) != 1 {
		t.Fatalf("expected 1 HEARTBEAT event, got %d", len(heartbeats))
	}
	if !strings.Contains(string(heartbeats[0].RawPayload), `"ip":"10.0.0.7"`) {
		t.Errorf("heartbeat should carry network info: %s", heartbeats[0].RawPayload)
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for sig, want := range map[os.Signal]string{
		syscall.SIGINT:  "SIGINT",
		syscall.SIGTERM: "SIGTERM",
		syscall.SIGHUP:  "UNKNOWN",
	} {
		h := startLoop(t, 0, time.Now)
		h.sig <- sig
		if got := h.wait(t); got != want {
			t.Errorf("%v: reason got %q, want %q", sig, got, want)
		}

		shutdowns := eventsNamed(h.pub, "SHUTDOWN")
		if len(shutdowns) != 1 {
			t.Fatalf("%v: expected 1 SHUTDOWN event, got %d", sig, len(shutdowns))
		}
		e := shutdowns[0]
		if e.Reason != want || !e.Retained {
			t.Errorf("%v: got reason=%q retained=%v", sig, e.Reason, e.Retained)
		}
		if !strings.Contains(string(e.RawPayload), `"reason":"`+want+`"`) {
			t.Errorf("%v: payload missing reason: %s", sig, e.RawPayload)
		}
	}
}

func TestRunLoopButtonShutdown(t *testing.T) {
	h := startLoop(t, 0, time.Now)
	h.hold <- 2500 * time.Millisecond
	if got := h.wait(t); got != reasonButton {
		t.Errorf("reason: got %q, want %q", got, reasonButton)
	}
	if len(eventsNamed(h.pub, "SHUTDOWN")) != 1 {
		t.Error("expected SHUTDOWN event")
	}
}

func TestRunLoopTaskFailure(t *testing.T) {
	h := startLoop(t, 0, time.Now)
	close(h.failed)
	if got := h.wait(t); got != reasonTaskFailed {
		t.Errorf("reason: got %q, want %q", got, reasonTaskFailed)
	}
}

func TestRunLoopPublishErrorDoesNotStopLoop(t *testing.T) {
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	h := startLoop(t, time.Minute, clock)
	h.pub.PublishSystemError = errors.New("broker down")
	h.ticks(3)
	h.sig <- syscall.SIGTERM
	if got := h.wait(t); got != "SIGTERM" {
		t.Errorf("reason: got %q, want SIGTERM", got)
	}
	if h.calls != 4 {
		t.Errorf("counters refreshed %d times, want 4", h.calls)
	}
}

// --- wiring helpers ---

func TestWatchButtonLongPress(t *testing.T) {
	btn := gpio.NewFakeButton()
	out := make(chan time.Duration, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchButton(ctx, btn, 2*time.Second, out)

	btn.Send(gpio.ButtonEvent{Pressed: true, At: 10 * time.Second})
	btn.Send(gpio.ButtonEvent{Pressed: false, At: 11 * time.Second}) // short press
	btn.Send(gpio.ButtonEvent{Pressed: true, At: 20 * time.Second})
	btn.Send(gpio.ButtonEvent{Pressed: false, At: 22*time.Second + 300*time.Millisecond})

	select {
	case held := <-out:
		if held != 2300*time.Millisecond {
			t.Errorf("held: got %v, want 2.3s", held)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a shutdown request")
	}
}

func TestWatchButtonStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchButton(ctx, gpio.NewFakeButton(), 2*time.Second, make(chan time.Duration))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchButton did not stop")
	}
}

func TestWaitTimeout(t *testing.T) {
	if err := waitTimeout(func() error { return nil }, time.Second); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := waitTimeout(func() error { return boom }, time.Second); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	block := make(chan struct{})
	defer close(block)
	if err := waitTimeout(func() error { <-block; return nil }, 10*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}

func TestOpenSensorsSimulator(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sensors.Simulator = "127.0.0.1:0"

	sources, label, closeBus := openSensors(cfg)
	defer closeBus()
	if len(sources) != 1 || sources[0].Name() != "udp" {
		t.Fatalf("expected the udp source, got %d sources", len(sources))
	}
	defer sources[0].Close()
	if label != "udp 127.0.0.1:0" {
		t.Errorf("label: got %q", label)
	}
}

func TestOpenSensorsNone(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sensors.MCP9600Addr = 0
	cfg.Sensors.SCD4xAddr = 0

	sources, label, closeBus := openSensors(cfg)
	closeBus()
	if len(sources) != 0 || label != "none" {
		t.Errorf("got %d sources, label %q", len(sources), label)
	}
}

func TestOpenGPIODisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.GPIO.Enabled = false

	hw := openGPIO(cfg)
	if hw.edges != nil || hw.button != nil || hw.led != nil {
		t.Error("disabled GPIO should open nothing")
	}
	hw.Close()
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.RoastLog.CSVDir = filepath.Join(dir, "logs")
	cfg.RoastLog.SQLitePath = filepath.Join(dir, "roasts.db")

	sinks := openSinks(cfg, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
	if len(sinks) != 2 {
		t.Fatalf("expected csv and sqlite sinks, got %d", len(sinks))
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "roast_2026-03-01_07-00-00.csv")); err != nil {
		t.Errorf("csv not created: %v", err)
	}
}

func TestNoPublisher(t *testing.T) {
	var p mqtt.Publisher = noPublisher{}
	if err := p.PublishSystem(mqtt.SystemEvent{Event: "STARTUP"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if (noPublisher{}).IsConnected() {
		t.Error("noPublisher is never connected")
	}
}
