// Package telemetry holds the single authoritative snapshot of every
// published roaster field.
//
// Writers (the phase monitor and the sensor aggregator) apply field subsets
// under a mutex and publish a fresh immutable Snapshot through an atomic
// pointer. Readers never lock and never observe a partially applied update.
package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Field identifies a published value.
type Field int

const (
	BeanTemp Field = iota
	ExhaustTemp
	Humidity
	CO2
	Heater
	Fan
	NumFields
)

var fieldNames = [NumFields]string{
	BeanTemp:    "bean_temp",
	ExhaustTemp: "exhaust_temp",
	Humidity:    "humidity",
	CO2:         "co2",
	Heater:      "heater",
	Fan:         "fan",
}

func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseField returns the Field with the given name.
func ParseField(s string) (Field, error) {
	for i, n := range fieldNames {
		if n == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// AllFields returns every published field in order.
func AllFields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Value is the latest state of one field.
type Value struct {
	Value  float64
	Valid  bool      // at least one good reading has been recorded
	AsOf   time.Time // time of the last good reading
	Fault  bool      // the most recent attempt to read this field failed
	Faults uint64    // total failed reads
}

// Reading is one validated value for a field.
type Reading struct {
	Field Field
	Value float64
}

// Snapshot is an immutable point-in-time copy of all fields.
// It is a value type and safe to use after it has been returned.
type Snapshot struct {
	Version uint64
	Fields  [NumFields]Value
}

// Get returns the value of f.
func (s Snapshot) Get(f Field) Value {
	return s.Fields[f]
}

// State is the merged, always-current telemetry snapshot.
type State struct {
	mu   sync.Mutex // serialises writers
	cur  atomic.Pointer[Snapshot]
	subs map[int]chan struct{}
	next int
}

// New returns an empty State.
func New() *State {
	s := &State{subs: make(map[int]chan struct{})}
	s.cur.Store(&Snapshot{})
	return s
}

// Update applies readings atomically. Fields not listed keep their prior value.
// A good reading clears the field's fault flag.
func (s *State) Update(asOf time.Time, readings ...Reading) {
	if len(readings) == 0 {
		return
	}
	s.apply(func(snap *Snapshot) {
		for _, r := range readings {
			v := &snap.Fields[r.Field]
			v.Value = r.Value
			v.Valid = true
			v.AsOf = asOf
			v.Fault = false
		}
	})
}

// Fault marks fields as faulted without touching their last good value.
func (s *State) Fault(fields ...Field) {
	if len(fields) == 0 {
		return
	}
	s.apply(func(snap *Snapshot) {
		for _, f := range fields {
			v := &snap.Fields[f]
			v.Fault = true
			v.Faults++
		}
	})
}

func (s *State) apply(fn func(*Snapshot)) {
	s.mu.Lock()
	next := *s.cur.Load()
	fn(&next)
	next.Version++
	s.cur.Store(&next)
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// A signal is already pending; the reader will see this version.
		}
	}
	s.mu.Unlock()
}

// Snapshot returns the current immutable snapshot.
func (s *State) Snapshot() Snapshot {
	return *s.cur.Load()
}

// Subscribe returns a channel that receives a signal after every update.
// Signals coalesce: a slow reader sees one pending signal and then reads the
// latest Snapshot. The returned func unsubscribes.
func (s *State) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
