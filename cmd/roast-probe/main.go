// Command roast-probe decodes the roaster's heater and fan settings from the
// mains phase, reads the temperature sensors and serves everything over BLE using
// the Roastmaster Bluetooth Protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

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
	"github.com/sweeney/roast-probe/internal/web"
)

// shutdownTimeout bounds every step of the shutdown sequence.
const shutdownTimeout = 5 * time.Second

type options struct {
	configPath  string
	printConfig bool
	poweroff    bool
	wsBroker    string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultPath, "YAML config file (missing file uses defaults)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	broker := flag.String("broker", "", `MQTT broker address override ("" in config disables MQTT)`)
	httpAddr := flag.String("http", "", "HTTP status address override")
	sim := flag.String("sim", "", "Read sensors from the UDP simulator on this address instead of I2C")
	noBLE := flag.Bool("no-ble", false, "Disable the BLE peripheral")
	noGPIO := flag.Bool("no-gpio", false, "Disable phase capture and the shutdown button")
	flag.BoolVar(&opts.poweroff, "poweroff", false, "Power off the host after a button shutdown")
	flag.BoolVar(&opts.printConfig, "print-config", false, "Print the resolved config and exit")
	flag.StringVar(&opts.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from the broker, "off" disables)`)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	// Flags override the file and environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Log.Level = *logLevel
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "sim":
			cfg.Sensors.Simulator = *sim
		case "no-ble":
			cfg.BLE.Enabled = !*noBLE
		case "no-gpio":
			cfg.GPIO.Enabled = !*noGPIO
		}
	})
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, opts options) error {
	if opts.printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	heaterCal, fanCal, err := cfg.Calibrations()
	if err != nil {
		return err
	}
	profile, err := cfg.Profile()
	if err != nil {
		return fmt.Errorf("ble profile: %w", err)
	}

	start := time.Now()
	state := telemetry.New()
	bridge, err := rbp.New(state, profile, cfg.Bridge())
	if err != nil {
		return fmt.Errorf("init ble bridge: %w", err)
	}

	// Sensors
	sources, sensorLabel, closeBus := openSensors(cfg)
	defer closeBus()
	aggregator := sensor.NewAggregator(state, cfg.Aggregator(), sources...)

	// Phase capture and shutdown button
	hw := openGPIO(cfg)
	defer hw.Close()
	var monitor *phase.Monitor
	if hw.edges != nil {
		monitor = phase.NewMonitor(logic.NewDecoder(heaterCal, fanCal), cfg.Monitor(), phase.TelemetryPublisher(state))
	}

	// Roast log
	roastLogger := roastlog.NewLogger(state, cfg.RoastLog.Interval, start, openSinks(cfg, start)...)

	// MQTT
	var publisher mqtt.Publisher = noPublisher{}
	var mqttStatus mqtt.ConnectionStatus = noPublisher{}
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			log.WithError(err).Warn("mqtt disabled")
		} else {
			publisher, mqttStatus = p, p
		}
	}
	var telemetryLogger *roastlog.Logger
	if cfg.MQTT.Broker != "" && cfg.MQTT.Telemetry > 0 {
		telemetryLogger = roastlog.NewLogger(state, cfg.MQTT.Telemetry, start, mqtt.Sink(publisher))
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	ws := ""
	if cfg.MQTT.Broker != "" {
		ws = resolveWSBroker(opts.wsBroker, cfg.MQTT.Broker)
	}
	tracker := status.NewTracker(start, status.Config{
		DeviceName:       cfg.Device.Name,
		Serial:           cfg.Device.Serial,
		BLEEnabled:       cfg.BLE.Enabled,
		NotifyIntervalMs: cfg.BLE.MinNotifyInterval.Milliseconds(),
		SampleIntervalMs: cfg.Sensors.Interval.Milliseconds(),
		HeartbeatMs:      cfg.MQTT.Heartbeat.Milliseconds(),
		SensorSource:     sensorLabel,
		Broker:           cfg.MQTT.Broker,
		HTTPAddr:         cfg.HTTP.Addr,
		WSBroker:         ws,
	}, state)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	counters := func() status.Counters {
		c := status.Counters{
			Sensors:   aggregator.Faults(),
			LogRows:   roastLogger.Rows(),
			LogErrors: roastLogger.Errors(),
		}
		if cfg.BLE.Enabled {
			c.BLE = bridge.Stats()
		}
		if monitor != nil {
			c.Phase = monitor.Counts()
			c.EdgesDropped = hw.edges.Dropped()
		}
		return c
	}
	tracker.Update(counters())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	// Start HTTP status server
	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	// Tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx, hw.edges.Edges()) })
	}
	g.Go(func() error { return aggregator.Run(gctx) })
	g.Go(func() error { return roastLogger.Run(gctx) })
	if telemetryLogger != nil {
		g.Go(func() error { return telemetryLogger.Run(gctx) })
	}
	if cfg.BLE.Enabled {
		g.Go(func() error {
			// A dead radio must not take the sensors and logs down with it.
			if err := bridge.Serve(gctx, rbp.NewGATTPeripheral(cfg.BLE.DeviceID)); err != nil {
				log.WithError(err).Error("ble bridge stopped")
			}
			return nil
		})
	}
	hold := make(chan time.Duration, 1)
	if hw.button != nil {
		go watchButton(gctx, hw.button, cfg.GPIO.ShutdownHold, hold)
	}

	log.WithFields(log.Fields{
		"device":  cfg.Device.Name,
		"ble":     cfg.BLE.Enabled,
		"phase":   monitor != nil,
		"sensors": sensorLabel,
		"broker":  cfg.MQTT.Broker,
	}).Info("started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reason := runLoop(publisher, mqttStatus, tracker, counters, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh, hold, gctx.Done())

	// Shutdown sequence: LED feedback, stop tasks, flush logs, release hardware.
	blinkDone := make(chan struct{})
	go func() {
		defer close(blinkDone)
		if reason == reasonButton && hw.led != nil {
			bctx, bcancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer bcancel()
			if err := gpio.Blink(bctx, hw.led, 20, 50*time.Millisecond); err != nil {
				log.WithError(err).Warn("led blink")
			}
		}
	}()

	cancel()
	taskErr := waitTimeout(g.Wait, shutdownTimeout)
	if taskErr != nil && !errors.Is(taskErr, context.Canceled) {
		log.WithError(taskErr).Error("task failed")
	}

	roastLogger.Close(shutdownTimeout)
	if telemetryLogger != nil {
		telemetryLogger.Close(shutdownTimeout)
	}
	if err := aggregator.Close(); err != nil {
		log.WithError(err).Error("release sensors")
	}
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		srv.Shutdown(sctx)
		scancel()
	}
	publisher.Close()
	<-blinkDone

	log.WithField("reason", reason).Info("stopped")
	if reason == reasonButton && opts.poweroff {
		return powerOff()
	}
	if reason == reasonTaskFailed {
		return taskErr
	}
	return nil
}

// Shutdown reasons not derived from a signal.
const (
	reasonButton     = "BUTTON"
	reasonTaskFailed = "TASK_FAILED"
)

// runLoop refreshes the status tracker every tick, publishes heartbeats and
// waits for a shutdown request. It publishes SHUTDOWN and returns the reason.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, counters func() status.Counters, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, hold <-chan time.Duration, failed <-chan struct{}) string {
	lastHeartbeat := now()

	refresh := func() status.Snapshot {
		tracker.Update(counters())
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
		return tracker.Snapshot()
	}

	shutdown := func(reason string) string {
		snap := refresh()
		event := mqtt.SystemEvent{
			Timestamp:  now(),
			Event:      "SHUTDOWN",
			Reason:     reason,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.WithError(err).Warn("failed to publish shutdown event")
		} else {
			log.Info("published shutdown event")
		}
		return reason
	}

	for {
		select {
		case s := <-sig:
			log.WithField("signal", s).Info("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			return shutdown(signalName)

		case held := <-hold:
			log.WithField("held", held).Info("shutdown button held, shutting down")
			return shutdown(reasonButton)

		case <-failed:
			return shutdown(reasonTaskFailed)

		case <-tick:
			t := now()
			snap := refresh()

			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
					snap = tracker.Snapshot()
				}
				log.WithFields(log.Fields{
					"uptime":        snap.Uptime().Truncate(time.Second),
					"ble":           snap.BLE.State,
					"notifications": snap.BLE.Notifications,
					"log_rows":      snap.LogRows,
				}).Info("heartbeat")
				if err := publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}); err != nil {
					log.WithError(err).Warn("heartbeat publish error")
				}
			}
		}
	}
}

// waitTimeout runs wait and returns its error, or an error if it takes longer than d.
func waitTimeout(wait func() error, d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return fmt.Errorf("tasks did not stop within %s", d)
	}
}

func powerOff() error {
	log.Warn("powering off")
	if out, err := exec.Command("systemctl", "poweroff").CombinedOutput(); err != nil {
		return fmt.Errorf("poweroff: %w: %s", err, out)
	}
	return nil
}

// noPublisher stands in when MQTT is disabled.
type noPublisher struct{}

func (noPublisher) Publish(roastlog.Row) error           { return nil }
func (noPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (noPublisher) Close() error                         { return nil }
func (noPublisher) IsConnected() bool                    { return false }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.WithError(err).WithField("broker", broker).Warn("ws-broker: cannot parse broker")
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
