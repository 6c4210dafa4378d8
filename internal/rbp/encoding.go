package rbp

import (
	"encoding/binary"
	"math"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Encoding names a value -> bytes rule.
type Encoding string

const (
	// EncodingCenti is round(value*100) as a little-endian int32.
	EncodingCenti Encoding = "centi_int32_le"
	// EncodingCO2Density converts CO2 ppm to g/m3 at the exhaust temperature,
	// then encodes as EncodingCenti.
	EncodingCO2Density Encoding = "co2_density_centi_int32_le"
)

func (e Encoding) valid() bool {
	return e == EncodingCenti || e == EncodingCO2Density
}

// unavailable is sent for a field that has never had a good reading.
var unavailable = []byte{0, 0, 0, 0}

// Encode serialises field f from snap. A field without a good reading encodes
// as four zero bytes.
func Encode(enc Encoding, f telemetry.Field, snap telemetry.Snapshot) []byte {
	v := snap.Get(f)
	if !v.Valid {
		return append([]byte(nil), unavailable...)
	}
	switch enc {
	case EncodingCO2Density:
		d, ok := telemetry.CO2DensityOf(snap)
		if !ok {
			return append([]byte(nil), unavailable...)
		}
		return centi(d)
	default:
		return centi(v.Value)
	}
}

func centi(v float64) []byte {
	c := math.Round(v * 100)
	switch {
	case math.IsNaN(c):
		return append([]byte(nil), unavailable...)
	case c > math.MaxInt32:
		c = math.MaxInt32
	case c < math.MinInt32:
		c = math.MinInt32
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(int32(c)))
	return b
}
