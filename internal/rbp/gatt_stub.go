//go:build !linux

package rbp

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by GATTPeripheral on non-Linux platforms.
var ErrUnsupported = errors.New("rbp: BLE peripheral not supported on this platform (requires Linux)")

// GATTPeripheral is not available on non-Linux platforms.
type GATTPeripheral struct{}

// NewGATTPeripheral returns a peripheral whose Serve always fails.
func NewGATTPeripheral(id int) *GATTPeripheral { return &GATTPeripheral{} }

func (p *GATTPeripheral) Serve(ctx context.Context, name string, services []*Service, h Handler) error {
	return ErrUnsupported
}
