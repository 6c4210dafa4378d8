package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// SCD4x commands.
const (
	SCD4xAddr = 0x62

	scd4xStartPeriodic = 0x21b1
	scd4xStopPeriodic  = 0x3f86
	scd4xDataReady     = 0xe4b8
	scd4xReadMeasure   = 0xec05

	scd4xCmdDelay  = time.Millisecond
	scd4xStopDelay = 500 * time.Millisecond
)

var errCRC = errors.New("crc mismatch")

// SCD4x reads CO2, temperature and humidity from a Sensirion SCD40/41.
type SCD4x struct {
	mu    sync.Mutex
	dev   Conn
	sleep func(time.Duration)
}

// NewSCD4x stops any running measurement and starts periodic measurement.
// The first sample is available about five seconds later.
func NewSCD4x(dev Conn) (*SCD4x, error) {
	return newSCD4x(dev, time.Sleep)
}

func newSCD4x(dev Conn, sleep func(time.Duration)) (*SCD4x, error) {
	s := &SCD4x{dev: dev, sleep: sleep}
	// The sensor may still be measuring from a previous run.
	if err := s.command(scd4xStopPeriodic); err != nil {
		return nil, fmt.Errorf("scd4x: stop periodic measurement: %w", err)
	}
	s.sleep(scd4xStopDelay)
	if err := s.command(scd4xStartPeriodic); err != nil {
		return nil, fmt.Errorf("scd4x: start periodic measurement: %w", err)
	}
	return s, nil
}

func (s *SCD4x) Name() string { return "scd4x" }

func (s *SCD4x) Fields() []telemetry.Field {
	return []telemetry.Field{telemetry.ExhaustTemp, telemetry.Humidity, telemetry.CO2}
}

// Read returns the latest measurement, or an empty map if no new sample is ready.
func (s *SCD4x) Read(ctx context.Context) (map[telemetry.Field]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.readWords(scd4xDataReady, 1)
	if err != nil {
		return nil, fmt.Errorf("scd4x: data ready: %w", err)
	}
	if status[0]&0x07ff == 0 {
		return map[telemetry.Field]float64{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, err := s.readWords(scd4xReadMeasure, 3)
	if err != nil {
		return nil, fmt.Errorf("scd4x: read measurement: %w", err)
	}
	return map[telemetry.Field]float64{
		telemetry.CO2:         float64(w[0]),
		telemetry.ExhaustTemp: -45 + 175*float64(w[1])/65535,
		telemetry.Humidity:    100 * float64(w[2]) / 65535,
	}, nil
}

// Close stops periodic measurement.
func (s *SCD4x) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.command(scd4xStopPeriodic); err != nil {
		return fmt.Errorf("scd4x: stop periodic measurement: %w", err)
	}
	return nil
}

func (s *SCD4x) command(cmd uint16) error {
	w := make([]byte, 2)
	binary.BigEndian.PutUint16(w, cmd)
	return s.dev.Tx(w, nil)
}

// readWords sends cmd and reads n CRC-protected 16-bit words.
func (s *SCD4x) readWords(cmd uint16, n int) ([]uint16, error) {
	if err := s.command(cmd); err != nil {
		return nil, err
	}
	s.sleep(scd4xCmdDelay)
	buf := make([]byte, 3*n)
	if err := s.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		b := buf[3*i : 3*i+3]
		if crc8(b[:2]) != b[2] {
			return nil, fmt.Errorf("word %d: %w", i, errCRC)
		}
		out[i] = binary.BigEndian.Uint16(b[:2])
	}
	return out, nil
}

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xff.
func crc8(data []byte) byte {
	crc := byte(0xff)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
