package rbp

import (
	"strings"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Property is a characteristic capability bit.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropNotify
)

// Characteristic is one GATT characteristic. Its descriptor set is fixed at
// construction and cannot be changed afterwards.
type Characteristic struct {
	uuid        string
	props       Property
	descriptors []Descriptor

	// Exactly one of bound or static is set.
	bound    bool
	field    telemetry.Field
	encoding Encoding
	static   []byte
}

// NewCharacteristic creates a characteristic carrying descriptors.
func NewCharacteristic(uuid string, props Property, descriptors ...Descriptor) *Characteristic {
	return &Characteristic{
		uuid:        strings.ToLower(uuid),
		props:       props,
		descriptors: cloneDescriptors(descriptors),
	}
}

// NewStaticCharacteristic creates a read-only characteristic with a constant value.
func NewStaticCharacteristic(uuid string, value []byte, descriptors ...Descriptor) *Characteristic {
	c := NewCharacteristic(uuid, PropRead, descriptors...)
	c.static = append([]byte{}, value...)
	return c
}

// bind publishes field f through c using enc.
func (c *Characteristic) bind(f telemetry.Field, enc Encoding) *Characteristic {
	c.bound = true
	c.field = f
	c.encoding = enc
	return c
}

func (c *Characteristic) UUID() string    { return c.uuid }
func (c *Characteristic) Props() Property { return c.props }
func (c *Characteristic) CanNotify() bool { return c.props&PropNotify != 0 }
func (c *Characteristic) IsStatic() bool  { return c.static != nil }

// Descriptors returns a copy of the descriptor set.
func (c *Characteristic) Descriptors() []Descriptor {
	return cloneDescriptors(c.descriptors)
}

// Field returns the bound telemetry field, if any.
func (c *Characteristic) Field() (telemetry.Field, bool) {
	return c.field, c.bound
}

// Value returns the bytes for snap.
func (c *Characteristic) Value(snap telemetry.Snapshot) []byte {
	if c.static != nil {
		return append([]byte(nil), c.static...)
	}
	return Encode(c.encoding, c.field, snap)
}

// noSnapshot is used to read static values.
var noSnapshot telemetry.Snapshot

// Service is a group of characteristics.
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}
