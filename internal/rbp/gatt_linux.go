//go:build linux

package rbp

import (
	"context"
	"fmt"
	"sync"

	"github.com/paypal/gatt"
	log "github.com/sirupsen/logrus"
)

// GATTPeripheral drives a BlueZ HCI device through paypal/gatt.
// The HCI device must be down and bluetoothd stopped before Serve.
type GATTPeripheral struct {
	deviceID int
	log      *log.Entry
}

// NewGATTPeripheral uses HCI device id, or the first available if id < 0.
func NewGATTPeripheral(id int) *GATTPeripheral {
	return &GATTPeripheral{deviceID: id, log: log.WithField("component", "gatt")}
}

// Serve publishes services and advertises until ctx is cancelled. After a
// central disconnects it advertises again.
func (p *GATTPeripheral) Serve(ctx context.Context, name string, services []*Service, h Handler) error {
	d, err := gatt.NewDevice(gatt.LnxMaxConnections(1), gatt.LnxDeviceID(p.deviceID, true))
	if err != nil {
		return fmt.Errorf("open hci device: %w", err)
	}

	svcs := make([]*gatt.Service, 0, len(services))
	for _, s := range services {
		gs, err := p.buildService(s, h)
		if err != nil {
			return err
		}
		svcs = append(svcs, gs)
	}
	// Only the primary service is advertised; the rest are discovered after connect.
	var advertised []gatt.UUID
	if len(svcs) > 0 {
		advertised = []gatt.UUID{svcs[0].UUID()}
	}
	advertise := func(d gatt.Device) {
		if err := d.AdvertiseNameAndServices(name, advertised); err != nil {
			p.log.WithError(err).Warn("advertise failed")
			return
		}
		h.Advertising()
	}

	var (
		mu      sync.Mutex
		central gatt.Central
	)
	d.Handle(
		gatt.CentralConnected(func(c gatt.Central) {
			mu.Lock()
			central = c
			mu.Unlock()
			h.Connected(c.ID())
		}),
		gatt.CentralDisconnected(func(c gatt.Central) {
			mu.Lock()
			if central != nil && central.ID() == c.ID() {
				central = nil
			}
			mu.Unlock()
			h.Disconnected(c.ID())
			if ctx.Err() == nil {
				advertise(d)
			}
		}),
	)

	failed := make(chan error, 1)
	err = d.Init(func(d gatt.Device, s gatt.State) {
		p.log.WithField("state", s).Info("adapter state")
		if s != gatt.StatePoweredOn {
			return
		}
		for _, gs := range svcs {
			if err := d.AddService(gs); err != nil {
				select {
				case failed <- fmt.Errorf("add service %s: %w", gs.UUID(), err):
				default:
				}
				return
			}
		}
		advertise(d)
	})
	if err != nil {
		return fmt.Errorf("init hci device: %w", err)
	}

	select {
	case <-ctx.Done():
	case err = <-failed:
	}

	// Close the link before the table goes away. Disconnected is idempotent.
	mu.Lock()
	c := central
	central = nil
	mu.Unlock()
	if c != nil {
		if closeErr := c.Close(); closeErr != nil {
			p.log.WithError(closeErr).Warn("close central failed")
		}
		h.Disconnected(c.ID())
	}

	if stopErr := d.StopAdvertising(); stopErr != nil {
		p.log.WithError(stopErr).Warn("stop advertising failed")
	}
	if rmErr := d.RemoveAllServices(); rmErr != nil {
		p.log.WithError(rmErr).Warn("remove services failed")
	}
	return err
}

// buildService converts s to a gatt.Service. Descriptors are attached as
// each characteristic is created.
func (p *GATTPeripheral) buildService(s *Service, h Handler) (*gatt.Service, error) {
	su, err := gatt.ParseUUID(s.UUID)
	if err != nil {
		return nil, fmt.Errorf("service uuid %s: %w", s.UUID, err)
	}
	gs := gatt.NewService(su)
	for _, c := range s.Characteristics {
		cu, err := gatt.ParseUUID(c.UUID())
		if err != nil {
			return nil, fmt.Errorf("characteristic uuid %s: %w", c.UUID(), err)
		}
		gc := gs.AddCharacteristic(cu)
		for _, d := range c.Descriptors() {
			du, err := gatt.ParseUUID(d.UUID)
			if err != nil {
				return nil, fmt.Errorf("descriptor uuid %s: %w", d.UUID, err)
			}
			gc.AddDescriptor(du).SetValue(d.Value)
		}

		if c.IsStatic() {
			gc.SetValue(c.Value(noSnapshot))
			continue
		}
		uuid := c.UUID()
		if c.Props()&PropRead != 0 {
			gc.HandleReadFunc(func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
				v, err := h.Read(uuid)
				if err != nil {
					rsp.SetStatus(gatt.StatusUnexpectedError)
					return
				}
				rsp.Write(v)
			})
		}
		if c.CanNotify() {
			gc.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
				if err := h.Subscribe(uuid, n); err != nil {
					p.log.WithFields(log.Fields{"uuid": uuid, "error": err}).Warn("subscribe rejected")
				}
			})
		}
	}
	return gs, nil
}
