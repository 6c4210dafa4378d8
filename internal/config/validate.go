package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/logic"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLog(cfg, ve)
	validateGPIO(cfg, ve)
	validatePhase(cfg, ve)
	validateSensors(cfg, ve)
	validateBLE(cfg, ve)
	validateMQTT(cfg, ve)
	validateRoastLog(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLog(cfg *Config, ve *ValidationError) {
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		ve.Add("log.level: %v", err)
	}
}

func validateGPIO(cfg *Config, ve *ValidationError) {
	if !cfg.GPIO.Enabled {
		return
	}
	if cfg.GPIO.Chip == "" {
		ve.Add("gpio.chip is required")
	}
	p := cfg.GPIO.Pins
	seen := map[int]string{}
	for name, pin := range map[string]int{"zcd": p.ZCD, "heater": p.Heater, "fan": p.Fan, "shutdown": p.Shutdown, "led": p.LED} {
		if pin < 0 || pin > 27 {
			ve.Add("gpio.pins.%s: %d is not a BCM pin (0-27)", name, pin)
			continue
		}
		if other, ok := seen[pin]; ok {
			ve.Add("gpio.pins: %s and %s share pin %d", other, name, pin)
		}
		seen[pin] = name
	}
	if cfg.GPIO.ShutdownHold <= 0 {
		ve.Add("gpio.shutdown_hold must be positive")
	}
}

func validatePhase(cfg *Config, ve *ValidationError) {
	if cfg.Phase.OffTimeout <= 0 {
		ve.Add("phase.off_timeout must be positive")
	}
	if cfg.Phase.Heartbeat <= 0 {
		ve.Add("phase.heartbeat must be positive")
	}
	if _, _, err := cfg.Calibrations(); err != nil {
		var ce *logic.CalibrationError
		if errors.As(err, &ce) {
			for _, p := range ce.Problems {
				ve.Add("phase.%s: %s", ce.Channel, p)
			}
			return
		}
		ve.Add("phase: %v", err)
	}
}

func validateSensors(cfg *Config, ve *ValidationError) {
	s := cfg.Sensors
	if s.Interval <= 0 {
		ve.Add("sensors.interval must be positive")
	}
	if s.ReadTimeout <= 0 || s.ReadTimeout > s.Interval {
		ve.Add("sensors.read_timeout must be positive and no longer than sensors.interval")
	}
	if s.Simulator != "" {
		if _, _, err := net.SplitHostPort(s.Simulator); err != nil {
			ve.Add("sensors.simulator: %v", err)
		}
	}
	for name, addr := range map[string]uint16{"mcp9600_addr": s.MCP9600Addr, "scd4x_addr": s.SCD4xAddr} {
		if addr > 0x7f {
			ve.Add("sensors.%s: 0x%x is not a 7-bit I2C address", name, addr)
		}
	}
}

func validateBLE(cfg *Config, ve *ValidationError) {
	if cfg.BLE.MinNotifyInterval < 0 {
		ve.Add("ble.min_notify_interval must not be negative")
	}
	if _, err := cfg.Profile(); err != nil {
		ve.Add("ble.characteristics: %v", err)
	}
	if cfg.Device.Name == "" {
		ve.Add("device.name is required")
	}
}

func validateMQTT(cfg *Config, ve *ValidationError) {
	if cfg.MQTT.Broker == "" {
		return
	}
	u, err := url.Parse(cfg.MQTT.Broker)
	if err != nil || u.Host == "" {
		ve.Add("mqtt.broker: %q is not a broker URL", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ClientID == "" {
		ve.Add("mqtt.client_id is required")
	}
	if cfg.MQTT.Heartbeat < 0 || cfg.MQTT.Telemetry < 0 {
		ve.Add("mqtt intervals must not be negative")
	}
}

func validateRoastLog(cfg *Config, ve *ValidationError) {
	if cfg.RoastLog.Interval <= 0 && (cfg.RoastLog.CSVDir != "" || cfg.RoastLog.SQLitePath != "") {
		ve.Add("roast_log.interval must be positive")
	}
}
