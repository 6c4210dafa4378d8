package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// DefaultSimAddr is where the roast simulator sends frames.
const DefaultSimAddr = "127.0.0.1:9999"

// Frame is one simulator datagram. Missing keys are unavailable.
type Frame struct {
	Temp1 *float64 `json:"temp1,omitempty"`
	Temp2 *float64 `json:"temp2,omitempty"`
	Hum1  *float64 `json:"hum1,omitempty"`
	CO2   *float64 `json:"co2,omitempty"`
}

func (f Frame) values() map[telemetry.Field]float64 {
	out := make(map[telemetry.Field]float64, 4)
	for field, v := range map[telemetry.Field]*float64{
		telemetry.BeanTemp:    f.Temp1,
		telemetry.ExhaustTemp: f.Temp2,
		telemetry.Humidity:    f.Hum1,
		telemetry.CO2:         f.CO2,
	} {
		if v != nil {
			out[field] = *v
		}
	}
	return out
}

var errNoFrame = errors.New("no frame received")

// UDPSource receives simulator frames over UDP, standing in for the I2C sensors.
type UDPSource struct {
	conn  net.PacketConn
	stale time.Duration
	now   func() time.Time
	log   *log.Entry

	mu     sync.Mutex
	latest Frame
	at     time.Time
	bad    uint64
}

// ListenUDP binds addr and starts receiving frames. A frame older than
// stale is reported as a fault.
func ListenUDP(addr string, stale time.Duration) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	u := &UDPSource{
		conn:  conn,
		stale: stale,
		now:   time.Now,
		log:   log.WithFields(log.Fields{"component": "sensor", "source": "udp"}),
	}
	go u.receive()
	return u, nil
}

// Addr returns the bound address.
func (u *UDPSource) Addr() net.Addr { return u.conn.LocalAddr() }

func (u *UDPSource) receive() {
	buf := make([]byte, 2048)
	for {
		n, _, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.WithError(err).Warn("receive failed")
			continue
		}
		var f Frame
		if err := json.Unmarshal(buf[:n], &f); err != nil {
			u.mu.Lock()
			u.bad++
			u.mu.Unlock()
			u.log.WithError(err).Debug("bad frame")
			continue
		}
		u.mu.Lock()
		u.latest = f
		u.at = u.now()
		u.mu.Unlock()
	}
}

func (u *UDPSource) Name() string { return "udp" }

func (u *UDPSource) Fields() []telemetry.Field {
	return []telemetry.Field{telemetry.BeanTemp, telemetry.ExhaustTemp, telemetry.Humidity, telemetry.CO2}
}

// Read returns the latest frame.
func (u *UDPSource) Read(ctx context.Context) (map[telemetry.Field]float64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.at.IsZero() {
		return nil, errNoFrame
	}
	if age := u.now().Sub(u.at); u.stale > 0 && age > u.stale {
		return nil, fmt.Errorf("last frame is %s old", age.Round(time.Millisecond))
	}
	return u.latest.values(), nil
}

// Close stops receiving.
func (u *UDPSource) Close() error {
	return u.conn.Close()
}
