package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/roast-probe/internal/logic"
	"github.com/sweeney/roast-probe/internal/rbp"
	"github.com/sweeney/roast-probe/internal/telemetry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Device, cfg.Device)
	assert.Equal(t, 200*time.Millisecond, cfg.Phase.OffTimeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  name: Kitchen
phase:
  off_timeout: 150ms
  interpolation: linear
  heater:
    - {setting: 9, delay: 700us}
    - {setting: 1, delay: 3000us}
sensors:
  simulator: 127.0.0.1:9999
ble:
  characteristics:
    - field: co2
      uuid: "12345678-1234-5678-1234-56789abcdef0"
mqtt:
  broker: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Kitchen", cfg.Device.Name)
	assert.Equal(t, rbp.DefaultSerial, cfg.Device.Serial, "unset keys keep defaults")
	assert.Equal(t, 150*time.Millisecond, cfg.Monitor().OffTimeout)
	assert.Equal(t, "", cfg.MQTT.Broker)

	heater, fan, err := cfg.Calibrations()
	require.NoError(t, err)
	assert.Equal(t, logic.InterpolationLinear, heater.Law())
	assert.Equal(t, []logic.CalibrationPoint{{Setting: 1, DelayMicros: 3000}, {Setting: 9, DelayMicros: 700}}, heater.Points())
	assert.Len(t, fan.Points(), 3)

	p, err := cfg.Profile()
	require.NoError(t, err)
	var found bool
	for _, s := range p.Slots {
		if s.Field == telemetry.CO2 {
			found = true
			assert.Equal(t, "12345678-1234-5678-1234-56789abcdef0", s.UUID)
		}
	}
	assert.True(t, found)
}

func TestLoadParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "device: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadValidationErrors(t *testing.T) {
	path := writeConfig(t, `
log:
  level: loud
gpio:
  pins: {zcd: 17, heater: 17, fan: 27, shutdown: 26, led: 40}
phase:
  fan:
    - {setting: 9, delay: 5ms}
    - {setting: 1, delay: 1ms}
sensors:
  read_timeout: 5s
ble:
  characteristics:
    - field: fan
      encoding: co2_density_centi_int32_le
`)
	_, err := Load(path)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.GreaterOrEqual(t, len(ve.Errors), 5)

	msg := err.Error()
	assert.Contains(t, msg, "config validation failed:")
	assert.Contains(t, msg, "log.level")
	assert.Contains(t, msg, "share pin 17")
	assert.Contains(t, msg, "gpio.pins.led")
	assert.Contains(t, msg, "phase.fan")
	assert.Contains(t, msg, "sensors.read_timeout")
	assert.Contains(t, msg, "ble.characteristics")
}

func TestGPIODisabledSkipsPinChecks(t *testing.T) {
	cfg := Defaults()
	cfg.GPIO.Enabled = false
	cfg.GPIO.Pins.ZCD = 99
	assert.NoError(t, Validate(cfg))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ROASTPROBE_LOG_LEVEL", "debug")
	t.Setenv("ROASTPROBE_DEVICE_NAME", "Bench")
	t.Setenv("ROASTPROBE_MQTT_BROKER", "")
	t.Setenv("ROASTPROBE_BLE_ENABLED", "false")
	t.Setenv("ROASTPROBE_GPIO_ENABLED", "not-a-bool")
	t.Setenv("ROASTPROBE_SENSORS_SIMULATOR", "127.0.0.1:7000")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "Bench", cfg.Device.Name)
	assert.Equal(t, "", cfg.MQTT.Broker, "set-but-empty disables MQTT")
	assert.False(t, cfg.BLE.Enabled)
	assert.True(t, cfg.GPIO.Enabled, "unparseable bool is ignored")
	assert.Equal(t, "127.0.0.1:7000", cfg.Sensors.Simulator)
}

func TestBridgeAndAggregatorConfig(t *testing.T) {
	cfg := Defaults()
	b := cfg.Bridge()
	assert.Equal(t, rbp.DefaultName, b.Name)
	assert.Equal(t, rbp.DefaultMinNotifyInterval, b.MinNotifyInterval)

	a := cfg.Aggregator()
	assert.Equal(t, time.Second, a.Interval)
	assert.Equal(t, uint32(5), a.Breaker.Failures)
}

func TestValidationErrorFormatting(t *testing.T) {
	ve := &ValidationError{}
	assert.False(t, ve.HasErrors())
	ve.Add("a: %d", 1)
	ve.Add("b")
	assert.True(t, ve.HasErrors())
	assert.Equal(t, "config validation failed:\n  - a: 1\n  - b", ve.Error())
}
