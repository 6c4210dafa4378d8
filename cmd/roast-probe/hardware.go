package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/config"
	"github.com/sweeney/roast-probe/internal/gpio"
	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/roastlog"
	"github.com/sweeney/roast-probe/internal/sensor"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

// openSensors returns the configured sensor sources, a label for the status
// page and a func that releases the I2C bus. A sensor that cannot be opened
// is logged and skipped; its fields stay unavailable.
func openSensors(cfg *config.Config) ([]sensor.Source, string, func()) {
	nop := func() {}
	s := cfg.Sensors

	if s.Simulator != "" {
		udp, err := sensor.ListenUDP(s.Simulator, s.SimulatorStale)
		if err != nil {
			log.WithError(err).Warn("sensor simulator unavailable")
			return nil, "none", nop
		}
		log.WithField("addr", udp.Addr()).Info("reading sensors from simulator")
		return []sensor.Source{udp}, "udp " + s.Simulator, nop
	}

	if s.MCP9600Addr == 0 && s.SCD4xAddr == 0 {
		return nil, "none", nop
	}
	bus, err := sensor.OpenBus(s.I2CBus)
	if err != nil {
		log.WithError(err).Warn("i2c unavailable, sensors disabled")
		return nil, "none", nop
	}
	closeBus := func() {
		if err := bus.Close(); err != nil {
			log.WithError(err).Error("release i2c bus")
		}
	}

	var sources []sensor.Source
	if s.MCP9600Addr != 0 {
		if m, err := sensor.NewMCP9600(sensor.Device(bus, s.MCP9600Addr), telemetry.BeanTemp); err != nil {
			log.WithError(err).Warn("mcp9600 unavailable")
		} else {
			sources = append(sources, m)
		}
	}
	if s.SCD4xAddr != 0 {
		if d, err := sensor.NewSCD4x(sensor.Device(bus, s.SCD4xAddr)); err != nil {
			log.WithError(err).Warn("scd4x unavailable")
		} else {
			sources = append(sources, d)
		}
	}
	return sources, "i2c", closeBus
}

// hardware groups the optional GPIO devices. Nil members are absent.
type hardware struct {
	edges  gpio.EdgeSource
	button gpio.Button
	led    gpio.LED
}

func openGPIO(cfg *config.Config) *hardware {
	hw := &hardware{}
	if !cfg.GPIO.Enabled {
		return hw
	}
	g := cfg.GPIO

	if e, err := gpio.NewRealEdges(g.Chip, g.Pins, g.EdgeBuffer); err != nil {
		log.WithError(err).Warn("phase capture unavailable, heater and fan not reported")
	} else {
		hw.edges = e
	}
	if b, err := gpio.NewRealButton(g.Chip, g.Pins.Shutdown); err != nil {
		log.WithError(err).Warn("shutdown button unavailable")
	} else {
		hw.button = b
	}
	if l, err := gpio.NewRealLED(g.Chip, g.Pins.LED); err != nil {
		log.WithError(err).Warn("status led unavailable")
	} else {
		hw.led = l
	}
	return hw
}

// Close releases every line. Failures are logged, never fatal.
func (h *hardware) Close() {
	closers := map[string]interface{ Close() error }{}
	if h.edges != nil {
		closers["edges"] = h.edges
	}
	if h.button != nil {
		closers["button"] = h.button
	}
	if h.led != nil {
		closers["led"] = h.led
	}
	for name, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).WithField("line", name).Error("release gpio")
		}
	}
}

// openSinks opens the configured roast log sinks.
func openSinks(cfg *config.Config, start time.Time) []roastlog.Sink {
	var sinks []roastlog.Sink
	if dir := cfg.RoastLog.CSVDir; dir != "" {
		if s, err := roastlog.NewCSVSink(dir, start); err != nil {
			log.WithError(err).Warn("csv roast log disabled")
		} else {
			log.WithField("path", s.Path()).Info("logging roast to csv")
			sinks = append(sinks, s)
		}
	}
	if path := cfg.RoastLog.SQLitePath; path != "" {
		if s, err := roastlog.NewSQLiteSink(path, start); err != nil {
			log.WithError(err).Warn("sqlite roast log disabled")
		} else {
			log.WithFields(log.Fields{"path": path, "session": s.Session()}).Info("logging roast to sqlite")
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// watchButton sends the hold duration on out once the button has been held
// for at least hold and released.
func watchButton(ctx context.Context, btn gpio.Button, hold time.Duration, out chan<- time.Duration) {
	detector := logic.NewHoldDetector(hold)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-btn.Events():
			if !ok {
				return
			}
			if detector.Process(e.Pressed, e.At) {
				select {
				case out <- detector.LastHeld():
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
