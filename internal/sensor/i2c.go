package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Conn is a single I2C device. *i2c.Dev satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// OpenBus initialises the host drivers and opens the named I2C bus.
// An empty name selects the first available bus.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return bus, nil
}

// Device returns the device at addr on bus.
func Device(bus i2c.Bus, addr uint16) Conn {
	return &i2c.Dev{Addr: addr, Bus: bus}
}
