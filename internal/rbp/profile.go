package rbp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// UUID returns the RBP UUID for a 16-bit mask, e.g. UUID("0001").
func UUID(mask string) string {
	return "4ac9" + mask + "-0b71-11e8-b8f5-b827ebe1d493"
}

// RBP service and characteristic UUIDs.
var (
	ServiceUUID       = UUID("0000")
	Temp1UUID         = UUID("0001")
	Temp2UUID         = UUID("0002")
	Humidity1UUID     = UUID("000b")
	User1UUID         = UUID("0015")
	User2UUID         = UUID("0016")
	User3UUID         = UUID("0017")
	HumidityScaleUUID = UUID("001c")
)

// Device Information service.
const (
	DeviceInfoUUID   = "180a"
	ManufacturerUUID = "2a29"
	SerialUUID       = "2a25"
)

// HumidityScalePercent marks a humidity characteristic as percent.
const HumidityScalePercent = 0x01

// Descriptor is static characteristic metadata.
type Descriptor struct {
	UUID  string `yaml:"uuid"`
	Value []byte `yaml:"value"`
}

// Slot maps a telemetry field onto a characteristic and its byte encoding.
type Slot struct {
	Field    telemetry.Field
	UUID     string
	Encoding Encoding
}

// Profile is the field -> (UUID, encoding) table plus the descriptors the
// protocol mandates for each characteristic UUID.
type Profile struct {
	Service     string
	Slots       []Slot
	Descriptors map[string][]Descriptor
}

// DefaultProfile returns the standard RBP mapping.
func DefaultProfile() Profile {
	return Profile{
		Service: ServiceUUID,
		Slots: []Slot{
			{Field: telemetry.BeanTemp, UUID: Temp1UUID, Encoding: EncodingCenti},
			{Field: telemetry.ExhaustTemp, UUID: Temp2UUID, Encoding: EncodingCenti},
			{Field: telemetry.Humidity, UUID: Humidity1UUID, Encoding: EncodingCenti},
			{Field: telemetry.CO2, UUID: User1UUID, Encoding: EncodingCO2Density},
			{Field: telemetry.Heater, UUID: User2UUID, Encoding: EncodingCenti},
			{Field: telemetry.Fan, UUID: User3UUID, Encoding: EncodingCenti},
		},
		Descriptors: map[string][]Descriptor{
			Humidity1UUID: {{UUID: HumidityScaleUUID, Value: []byte{HumidityScalePercent}}},
		},
	}
}

// SlotOverride remaps one field. Empty UUID or Encoding keep the current value.
// Descriptors, if set, replace the mandated descriptors for the resulting UUID.
type SlotOverride struct {
	Field       string       `yaml:"field"`
	UUID        string       `yaml:"uuid"`
	Encoding    string       `yaml:"encoding"`
	Descriptors []Descriptor `yaml:"descriptors"`
}

// Override returns a copy of p with overrides applied and validated.
// A field moved to a new UUID carries its mandated descriptors with it.
func (p Profile) Override(overrides []SlotOverride) (Profile, error) {
	out := p.clone()
	for _, o := range overrides {
		f, err := telemetry.ParseField(o.Field)
		if err != nil {
			return Profile{}, fmt.Errorf("override: %w", err)
		}
		i := out.slotIndex(f)
		if i < 0 {
			out.Slots = append(out.Slots, Slot{Field: f, Encoding: EncodingCenti})
			i = len(out.Slots) - 1
		}
		s := &out.Slots[i]
		if o.UUID != "" {
			next := strings.ToLower(o.UUID)
			if prev, ok := out.Descriptors[s.UUID]; ok && s.UUID != next {
				if _, taken := out.Descriptors[next]; !taken {
					out.Descriptors[next] = prev
				}
				delete(out.Descriptors, s.UUID)
			}
			s.UUID = next
		}
		if o.Encoding != "" {
			s.Encoding = Encoding(o.Encoding)
		}
		if o.Descriptors != nil {
			out.Descriptors[s.UUID] = append([]Descriptor(nil), o.Descriptors...)
		}
	}
	if err := out.Validate(); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// Validate checks UUID syntax, uniqueness, encodings and that the humidity
// characteristic carries the percentage scale descriptor.
func (p Profile) Validate() error {
	if err := validUUID(p.Service); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	uuids := make(map[string]telemetry.Field)
	fields := make(map[telemetry.Field]bool)
	for _, s := range p.Slots {
		if fields[s.Field] {
			return fmt.Errorf("field %s mapped twice", s.Field)
		}
		fields[s.Field] = true
		if err := validUUID(s.UUID); err != nil {
			return fmt.Errorf("%s: %w", s.Field, err)
		}
		if other, ok := uuids[s.UUID]; ok {
			return fmt.Errorf("%s: uuid %s already used by %s", s.Field, s.UUID, other)
		}
		uuids[s.UUID] = s.Field
		if !s.Encoding.valid() {
			return fmt.Errorf("%s: unknown encoding %q", s.Field, s.Encoding)
		}
		if s.Encoding == EncodingCO2Density && s.Field != telemetry.CO2 {
			return fmt.Errorf("%s: encoding %s only applies to co2", s.Field, s.Encoding)
		}
	}
	for charUUID, descs := range p.Descriptors {
		for _, d := range descs {
			if err := validUUID(d.UUID); err != nil {
				return fmt.Errorf("descriptor on %s: %w", charUUID, err)
			}
		}
	}
	if i := p.slotIndex(telemetry.Humidity); i >= 0 {
		if !hasDescriptor(p.Descriptors[p.Slots[i].UUID], HumidityScaleUUID) {
			return fmt.Errorf("humidity characteristic %s is missing scale descriptor %s", p.Slots[i].UUID, HumidityScaleUUID)
		}
	}
	return nil
}

// RequiredDescriptors returns the descriptors mandated for a characteristic UUID.
func (p Profile) RequiredDescriptors(charUUID string) []Descriptor {
	return cloneDescriptors(p.Descriptors[strings.ToLower(charUUID)])
}

func (p Profile) slotIndex(f telemetry.Field) int {
	for i, s := range p.Slots {
		if s.Field == f {
			return i
		}
	}
	return -1
}

func (p Profile) clone() Profile {
	out := Profile{
		Service:     p.Service,
		Slots:       append([]Slot(nil), p.Slots...),
		Descriptors: make(map[string][]Descriptor, len(p.Descriptors)),
	}
	for k, v := range p.Descriptors {
		out.Descriptors[k] = cloneDescriptors(v)
	}
	return out
}

func cloneDescriptors(ds []Descriptor) []Descriptor {
	if ds == nil {
		return nil
	}
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = Descriptor{UUID: d.UUID, Value: append([]byte(nil), d.Value...)}
	}
	return out
}

func hasDescriptor(ds []Descriptor, u string) bool {
	for _, d := range ds {
		if strings.EqualFold(d.UUID, u) {
			return true
		}
	}
	return false
}

// validUUID accepts 16-bit short forms ("2a29") and full 128-bit UUIDs.
func validUUID(s string) error {
	if len(s) == 4 {
		if _, err := uuid.Parse("0000" + s + "-0000-1000-8000-00805f9b34fb"); err != nil {
			return fmt.Errorf("invalid short uuid %q", s)
		}
		return nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return nil
}
