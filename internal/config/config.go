// Package config loads the roast-probe YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/roast-probe/internal/gpio"
	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/phase"
	"github.com/sweeney/roast-probe/internal/rbp"
	"github.com/sweeney/roast-probe/internal/sensor"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/roast-probe/config.yaml"

// Config is the complete daemon configuration.
type Config struct {
	Device   Device   `yaml:"device"`
	Log      Log      `yaml:"log"`
	GPIO     GPIO     `yaml:"gpio"`
	Phase    Phase    `yaml:"phase"`
	Sensors  Sensors  `yaml:"sensors"`
	BLE      BLE      `yaml:"ble"`
	MQTT     MQTT     `yaml:"mqtt"`
	RoastLog RoastLog `yaml:"roast_log"`
	HTTP     HTTP     `yaml:"http"`
}

// Device is the advertised identity.
type Device struct {
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Serial       string `yaml:"serial"`
}

// Log configures logrus.
type Log struct {
	Level string `yaml:"level"`
}

// GPIO configures edge capture, the shutdown button and the status LED.
type GPIO struct {
	Enabled      bool          `yaml:"enabled"`
	Chip         string        `yaml:"chip"`
	Pins         gpio.Pins     `yaml:"pins"`
	EdgeBuffer   int           `yaml:"edge_buffer"`
	ShutdownHold time.Duration `yaml:"shutdown_hold"`
}

// CalPoint is one calibration entry: the ZCD to SCR delay measured at a dial setting.
type CalPoint struct {
	Setting int           `yaml:"setting"`
	Delay   time.Duration `yaml:"delay"`
}

// Phase configures the phase monitor.
type Phase struct {
	OffTimeout    time.Duration `yaml:"off_timeout"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	Interpolation string        `yaml:"interpolation"`
	Heater        []CalPoint    `yaml:"heater"`
	Fan           []CalPoint    `yaml:"fan"`
}

// Sensors configures the sensor aggregator and its sources.
type Sensors struct {
	Interval    time.Duration        `yaml:"interval"`
	ReadTimeout time.Duration        `yaml:"read_timeout"`
	Breaker     sensor.BreakerConfig `yaml:"breaker"`
	I2CBus      string               `yaml:"i2c_bus"`
	MCP9600Addr uint16               `yaml:"mcp9600_addr"` // 0 disables
	SCD4xAddr   uint16               `yaml:"scd4x_addr"`   // 0 disables
	// Simulator, if set, replaces the I2C sensors with UDP frames received on this address.
	Simulator      string        `yaml:"simulator"`
	SimulatorStale time.Duration `yaml:"simulator_stale"`
}

// BLE configures the protocol bridge.
type BLE struct {
	Enabled           bool               `yaml:"enabled"`
	DeviceID          int                `yaml:"device_id"`
	MinNotifyInterval time.Duration      `yaml:"min_notify_interval"`
	Characteristics   []rbp.SlotOverride `yaml:"characteristics"`
}

// MQTT configures the broker connection. An empty broker disables MQTT.
type MQTT struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Telemetry time.Duration `yaml:"telemetry"`
}

// RoastLog configures the roast time series. Empty paths disable a sink.
type RoastLog struct {
	Interval   time.Duration `yaml:"interval"`
	CSVDir     string        `yaml:"csv_dir"`
	SQLitePath string        `yaml:"sqlite_path"`
}

// HTTP configures the status server. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	csvDir := "/var/lib/roast-probe/logs"
	if home, err := os.UserHomeDir(); err == nil {
		csvDir = filepath.Join(home, "roasty", "logs")
	}
	return &Config{
		Device: Device{
			Name:         rbp.DefaultName,
			Manufacturer: rbp.DefaultManufacturer,
			Serial:       rbp.DefaultSerial,
		},
		Log: Log{Level: "info"},
		GPIO: GPIO{
			Enabled:      true,
			Chip:         gpio.DefaultChip,
			Pins:         gpio.DefaultPins(),
			EdgeBuffer:   gpio.DefaultEdgeBuffer,
			ShutdownHold: logic.DefaultShutdownHold,
		},
		Phase: Phase{
			OffTimeout:    phase.DefaultOffTimeout,
			Heartbeat:     phase.DefaultHeartbeat,
			Interpolation: string(logic.InterpolationNearest),
			Heater: []CalPoint{
				{Setting: 9, Delay: 800 * time.Microsecond},
				{Setting: 5, Delay: 2100 * time.Microsecond},
				{Setting: 1, Delay: 2900 * time.Microsecond},
			},
			Fan: []CalPoint{
				{Setting: 9, Delay: 2000 * time.Microsecond},
				{Setting: 5, Delay: 3900 * time.Microsecond},
				{Setting: 1, Delay: 4700 * time.Microsecond},
			},
		},
		Sensors: Sensors{
			Interval:       sensor.DefaultInterval,
			ReadTimeout:    sensor.DefaultReadTimeout,
			Breaker:        sensor.BreakerConfig{Failures: sensor.DefaultBreakerTrips, Cooldown: sensor.DefaultBreakerResets},
			MCP9600Addr:    sensor.MCP9600Addr,
			SCD4xAddr:      sensor.SCD4xAddr,
			SimulatorStale: 5 * time.Second,
		},
		BLE: BLE{
			Enabled:           true,
			DeviceID:          -1,
			MinNotifyInterval: rbp.DefaultMinNotifyInterval,
		},
		MQTT: MQTT{
			Broker:    "tcp://localhost:1883",
			ClientID:  "roast-probe",
			Heartbeat: 15 * time.Minute,
			Telemetry: 5 * time.Second,
		},
		RoastLog: RoastLog{
			Interval: time.Second,
			CSVDir:   csvDir,
		},
		HTTP: HTTP{Addr: ":80"},
	}
}

// Load reads a YAML config file over Defaults, applies env overrides and
// validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ROASTPROBE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROASTPROBE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ROASTPROBE_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("ROASTPROBE_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v, ok := os.LookupEnv("ROASTPROBE_MQTT_BROKER"); ok {
		cfg.MQTT.Broker = v
	}
	if v, ok := os.LookupEnv("ROASTPROBE_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ROASTPROBE_SENSORS_SIMULATOR"); v != "" {
		cfg.Sensors.Simulator = v
	}
	if v := os.Getenv("ROASTPROBE_ROAST_LOG_CSV_DIR"); v != "" {
		cfg.RoastLog.CSVDir = v
	}
	if v := os.Getenv("ROASTPROBE_BLE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BLE.Enabled = b
		}
	}
	if v := os.Getenv("ROASTPROBE_GPIO_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.GPIO.Enabled = b
		}
	}
}

// Calibrations builds the heater and fan calibration tables.
func (c *Config) Calibrations() (heater, fan *logic.Calibration, err error) {
	law := logic.Interpolation(strings.ToLower(c.Phase.Interpolation))
	heater, err = logic.NewCalibration("heater", points(c.Phase.Heater), law)
	if err != nil {
		return nil, nil, err
	}
	fan, err = logic.NewCalibration("fan", points(c.Phase.Fan), law)
	if err != nil {
		return nil, nil, err
	}
	return heater, fan, nil
}

func points(cps []CalPoint) []logic.CalibrationPoint {
	out := make([]logic.CalibrationPoint, len(cps))
	for i, p := range cps {
		out[i] = logic.CalibrationPoint{Setting: p.Setting, DelayMicros: p.Delay.Microseconds()}
	}
	return out
}

// Monitor returns the phase monitor timing.
func (c *Config) Monitor() phase.Config {
	return phase.Config{OffTimeout: c.Phase.OffTimeout, Heartbeat: c.Phase.Heartbeat}
}

// Aggregator returns the sensor aggregator timing.
func (c *Config) Aggregator() sensor.Config {
	return sensor.Config{Interval: c.Sensors.Interval, ReadTimeout: c.Sensors.ReadTimeout, Breaker: c.Sensors.Breaker}
}

// Bridge returns the protocol bridge identity and pacing.
func (c *Config) Bridge() rbp.Config {
	return rbp.Config{
		Name:              c.Device.Name,
		Manufacturer:      c.Device.Manufacturer,
		Serial:            c.Device.Serial,
		MinNotifyInterval: c.BLE.MinNotifyInterval,
	}
}

// Profile returns the RBP profile with characteristic overrides applied.
func (c *Config) Profile() (rbp.Profile, error) {
	return rbp.DefaultProfile().Override(c.BLE.Characteristics)
}
