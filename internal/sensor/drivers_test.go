package sensor

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

func TestCRC8(t *testing.T) {
	// Datasheet example.
	assert.Equal(t, byte(0x92), crc8([]byte{0xbe, 0xef}))
}

func word(v uint16) []byte {
	b := []byte{byte(v >> 8), byte(v)}
	return append(b, crc8(b))
}

func words(vs ...uint16) []byte {
	var out []byte
	for _, v := range vs {
		out = append(out, word(v)...)
	}
	return out
}

func newTestSCD4x(t *testing.T, conn *FakeConn) *SCD4x {
	t.Helper()
	s, err := newSCD4x(conn, func(time.Duration) {})
	require.NoError(t, err)
	return s
}

func TestSCD4xStartsPeriodicMeasurement(t *testing.T) {
	conn := &FakeConn{}
	newTestSCD4x(t, conn)
	require.Len(t, conn.Writes, 2)
	assert.Equal(t, []byte{0x3f, 0x86}, conn.Writes[0])
	assert.Equal(t, []byte{0x21, 0xb1}, conn.Writes[1])
}

func TestSCD4xRead(t *testing.T) {
	conn := &FakeConn{}
	s := newTestSCD4x(t, conn)
	conn.Queue(words(0x8006), words(1000, 26214, 32768))

	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, got[telemetry.CO2])
	assert.InDelta(t, 25.0, got[telemetry.ExhaustTemp], 0.01)
	assert.InDelta(t, 50.0, got[telemetry.Humidity], 0.01)
}

func TestSCD4xNotReady(t *testing.T) {
	conn := &FakeConn{}
	s := newTestSCD4x(t, conn)
	conn.Queue(words(0x8000))

	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSCD4xCRCMismatch(t *testing.T) {
	conn := &FakeConn{}
	s := newTestSCD4x(t, conn)
	bad := words(0x8006)
	bad[2] ^= 0xff
	conn.Queue(bad)

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, errCRC)
}

func TestSCD4xCloseStops(t *testing.T) {
	conn := &FakeConn{}
	s := newTestSCD4x(t, conn)
	require.NoError(t, s.Close())
	assert.Equal(t, []byte{0x3f, 0x86}, conn.Writes[len(conn.Writes)-1])
}

func TestMCP9600(t *testing.T) {
	conn := &FakeConn{}
	conn.Queue([]byte{0x40, 0x11})
	m, err := NewMCP9600(conn, telemetry.BeanTemp)
	require.NoError(t, err)

	conn.Queue([]byte{0x0c, 0x80}, []byte{0xff, 0x00})
	got, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200.0, got[telemetry.BeanTemp])

	got, err = m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -16.0, got[telemetry.BeanTemp])
}

func TestMCP9600WrongDevice(t *testing.T) {
	conn := &FakeConn{}
	conn.Queue([]byte{0x00, 0x00})
	_, err := NewMCP9600(conn, telemetry.BeanTemp)
	assert.Error(t, err)
}

func TestUDPSource(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", time.Minute)
	require.NoError(t, err)
	defer u.Close()

	_, err = u.Read(context.Background())
	assert.ErrorIs(t, err, errNoFrame)

	conn, err := net.Dial("udp", u.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	temp, hum := 185.5, 30.0
	payload, err := json.Marshal(Frame{Temp1: &temp, Hum1: &hum})
	require.NoError(t, err)

	var got map[telemetry.Field]float64
	require.Eventually(t, func() bool {
		_, _ = conn.Write(payload)
		got, err = u.Read(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 185.5, got[telemetry.BeanTemp])
	assert.Equal(t, 30.0, got[telemetry.Humidity])
	_, ok := got[telemetry.CO2]
	assert.False(t, ok, "missing key is unavailable")
}
