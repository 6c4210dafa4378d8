package rbp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

func snapshotOf(readings ...telemetry.Reading) telemetry.Snapshot {
	s := telemetry.New()
	s.Update(time.Now(), readings...)
	return s.Snapshot()
}

func TestEncodeCenti(t *testing.T) {
	tests := []struct {
		value float64
		want  []byte
	}{
		{185.5, []byte{0x76, 0x48, 0x00, 0x00}},
		{-12.34, []byte{0x2e, 0xfb, 0xff, 0xff}},
		{7, []byte{0xbc, 0x02, 0x00, 0x00}},
		{0, []byte{0x00, 0x00, 0x00, 0x00}},
		{math.MaxFloat32, []byte{0xff, 0xff, 0xff, 0x7f}},
	}
	for _, tt := range tests {
		snap := snapshotOf(telemetry.Reading{Field: telemetry.BeanTemp, Value: tt.value})
		assert.Equal(t, tt.want, Encode(EncodingCenti, telemetry.BeanTemp, snap), "value %v", tt.value)
	}
}

func TestEncodeUnavailable(t *testing.T) {
	var snap telemetry.Snapshot
	assert.Equal(t, []byte{0, 0, 0, 0}, Encode(EncodingCenti, telemetry.Humidity, snap))
	assert.Equal(t, []byte{0, 0, 0, 0}, Encode(EncodingCO2Density, telemetry.CO2, snap))
}

func TestEncodeCO2Density(t *testing.T) {
	assert.InDelta(t, 1.799, telemetry.CO2Density(1000, 25), 0.001)

	snap := snapshotOf(
		telemetry.Reading{Field: telemetry.CO2, Value: 1000},
		telemetry.Reading{Field: telemetry.ExhaustTemp, Value: 25},
	)
	assert.Equal(t, []byte{0xb4, 0x00, 0x00, 0x00}, Encode(EncodingCO2Density, telemetry.CO2, snap))

	// Without an exhaust temperature the density cannot be computed.
	snap = snapshotOf(telemetry.Reading{Field: telemetry.CO2, Value: 1000})
	assert.Equal(t, []byte{0, 0, 0, 0}, Encode(EncodingCO2Density, telemetry.CO2, snap))
}
