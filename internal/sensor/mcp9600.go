package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// MCP9600 register map.
const (
	MCP9600Addr = 0x67

	mcp9600RegHotJunction = 0x00
	mcp9600RegDeviceID    = 0x20
	mcp9600DeviceID       = 0x40
)

// MCP9600 reads the hot-junction temperature of a thermocouple amplifier.
type MCP9600 struct {
	mu    sync.Mutex
	dev   Conn
	field telemetry.Field
}

// NewMCP9600 checks the device ID and returns a source publishing to field.
func NewMCP9600(dev Conn, field telemetry.Field) (*MCP9600, error) {
	id := make([]byte, 2)
	if err := dev.Tx([]byte{mcp9600RegDeviceID}, id); err != nil {
		return nil, fmt.Errorf("mcp9600: read device id: %w", err)
	}
	if id[0] != mcp9600DeviceID {
		return nil, fmt.Errorf("mcp9600: unexpected device id 0x%02x", id[0])
	}
	return &MCP9600{dev: dev, field: field}, nil
}

func (m *MCP9600) Name() string              { return "mcp9600" }
func (m *MCP9600) Fields() []telemetry.Field { return []telemetry.Field{m.field} }
func (m *MCP9600) Close() error              { return nil }

// Read returns the hot-junction temperature in degrees C (0.0625 C per LSB).
func (m *MCP9600) Read(ctx context.Context) (map[telemetry.Field]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 2)
	if err := m.dev.Tx([]byte{mcp9600RegHotJunction}, buf); err != nil {
		return nil, fmt.Errorf("mcp9600: read hot junction: %w", err)
	}
	raw := int16(binary.BigEndian.Uint16(buf))
	return map[telemetry.Field]float64{m.field: float64(raw) * 0.0625}, nil
}
