// Package rbp serves roaster telemetry to a mobile client as a GATT
// peripheral speaking the Roastmaster Bluetooth Protocol.
//
// The Bridge owns the characteristic table built from a Profile and the
// connection state machine. Reads are served from the latest telemetry
// snapshot. Each subscription runs its own notifier goroutine that wakes on
// telemetry changes, waits out a per-characteristic minimum interval and then
// sends the latest encoded value, so bursts coalesce into a single push.
// The radio itself sits behind the Peripheral interface.
package rbp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Defaults for the bridge.
const (
	DefaultName              = "RoastProbe"
	DefaultManufacturer      = "RBP_Pi"
	DefaultSerial            = "12345"
	DefaultMinNotifyInterval = 250 * time.Millisecond
)

var (
	// ErrNotConnected is returned for a subscription while no central is connected.
	ErrNotConnected = errors.New("rbp: no central connected")
	// ErrUnknownCharacteristic is returned for a UUID not in the table.
	ErrUnknownCharacteristic = errors.New("rbp: unknown characteristic")
	// ErrNotNotifiable is returned when subscribing to a read-only characteristic.
	ErrNotNotifiable = errors.New("rbp: characteristic does not support notify")
)

// ConnState is the connection state of the peripheral.
type ConnState string

const (
	StateIdle         ConnState = "IDLE"
	StateAdvertising  ConnState = "ADVERTISING"
	StateConnected    ConnState = "CONNECTED"
	StateDisconnected ConnState = "DISCONNECTED"
)

// Config holds identity and notification pacing.
type Config struct {
	Name              string
	Manufacturer      string
	Serial            string
	MinNotifyInterval time.Duration
}

// Notifier pushes values to one subscribed central.
type Notifier interface {
	Write(p []byte) (int, error)
	// Done reports whether the central has unsubscribed.
	Done() bool
}

// Handler receives events from a Peripheral. Bridge implements it.
type Handler interface {
	Advertising()
	Connected(central string)
	Disconnected(central string)
	Read(uuid string) ([]byte, error)
	Subscribe(uuid string, n Notifier) error
}

// Peripheral runs the radio: it publishes services, advertises, and reports
// connection events to h until ctx is cancelled, then tears the
// advertisement down.
type Peripheral interface {
	Serve(ctx context.Context, name string, services []*Service, h Handler) error
}

// Stats are the bridge counters.
type Stats struct {
	State         ConnState `json:"state"`
	Central       string    `json:"central,omitempty"`
	Subscriptions int       `json:"subscriptions"`
	Connects      uint64    `json:"connects"`
	Disconnects   uint64    `json:"disconnects"`
	Notifications uint64    `json:"notifications"`
	Coalesced     uint64    `json:"coalesced"`
	NotifyErrors  uint64    `json:"notify_errors"`
}

type subscription struct {
	cancel context.CancelFunc
}

// Bridge keeps characteristic values in step with a telemetry.State.
type Bridge struct {
	state    *telemetry.State
	profile  Profile
	cfg      Config
	services []*Service
	byUUID   map[string]*Characteristic
	log      *log.Entry

	mu      sync.Mutex
	conn    ConnState
	central string
	serving context.Context // Serve's ctx; sessions derive from it
	session context.Context
	end     context.CancelFunc
	subs    map[string]*subscription
	wg      sync.WaitGroup

	connects      atomic.Uint64
	disconnects   atomic.Uint64
	notifications atomic.Uint64
	coalesced     atomic.Uint64
	notifyErrors  atomic.Uint64
}

// New validates profile and builds the characteristic table. Every
// characteristic is created with its mandated descriptors.
func New(state *telemetry.State, profile Profile, cfg Config) (*Bridge, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("rbp profile: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Manufacturer == "" {
		cfg.Manufacturer = DefaultManufacturer
	}
	if cfg.Serial == "" {
		cfg.Serial = DefaultSerial
	}
	if cfg.MinNotifyInterval <= 0 {
		cfg.MinNotifyInterval = DefaultMinNotifyInterval
	}

	b := &Bridge{
		state:   state,
		profile: profile,
		cfg:     cfg,
		byUUID:  make(map[string]*Characteristic),
		log:     log.WithField("component", "rbp"),
		conn:    StateIdle,
		subs:    make(map[string]*subscription),
	}

	rbpSvc := &Service{UUID: profile.Service}
	for _, s := range profile.Slots {
		c := NewCharacteristic(s.UUID, PropRead|PropNotify, profile.RequiredDescriptors(s.UUID)...).bind(s.Field, s.Encoding)
		rbpSvc.Characteristics = append(rbpSvc.Characteristics, c)
	}
	info := &Service{
		UUID: DeviceInfoUUID,
		Characteristics: []*Characteristic{
			NewStaticCharacteristic(ManufacturerUUID, []byte(cfg.Manufacturer)),
			NewStaticCharacteristic(SerialUUID, []byte(cfg.Serial)),
		},
	}
	b.services = []*Service{rbpSvc, info}
	for _, svc := range b.services {
		for _, c := range svc.Characteristics {
			b.byUUID[c.UUID()] = c
		}
	}
	return b, nil
}

// Services returns the service table. The RBP service is first.
func (b *Bridge) Services() []*Service { return b.services }

// Characteristic returns the characteristic with the given UUID.
func (b *Bridge) Characteristic(uuid string) (*Characteristic, bool) {
	c, ok := b.byUUID[strings.ToLower(uuid)]
	return c, ok
}

// Serve runs the bridge on p until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, p Peripheral) error {
	b.log.WithField("name", b.cfg.Name).Info("starting peripheral")
	b.mu.Lock()
	b.serving = ctx
	b.mu.Unlock()

	err := p.Serve(ctx, b.cfg.Name, b.services, b)
	b.mu.Lock()
	b.endSession()
	b.serving = nil
	b.conn = StateIdle
	b.mu.Unlock()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("peripheral: %w", err)
	}
	return nil
}

// Read encodes the current value of a characteristic from the latest snapshot.
func (b *Bridge) Read(uuid string) ([]byte, error) {
	c, ok := b.Characteristic(uuid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, uuid)
	}
	return c.Value(b.state.Snapshot()), nil
}

// Advertising records that the peripheral is advertising and not connected.
func (b *Bridge) Advertising() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == StateConnected {
		return
	}
	b.conn = StateAdvertising
	b.log.Info("advertising")
}

// Connected starts a session for central. The session ends on disconnect
// or as soon as Serve's ctx is cancelled, whichever comes first.
func (b *Bridge) Connected(central string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endSession()
	parent := b.serving
	if parent == nil {
		parent = context.Background()
	}
	b.session, b.end = context.WithCancel(parent)
	b.conn = StateConnected
	b.central = central
	b.connects.Add(1)
	b.log.WithField("central", central).Info("central connected")
}

// Disconnected ends the session and cancels every subscription. Nothing
// queued for the old session is delivered.
func (b *Bridge) Disconnected(central string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != StateConnected {
		return
	}
	b.endSession()
	b.conn = StateDisconnected
	b.central = ""
	b.disconnects.Add(1)
	b.log.WithField("central", central).Info("central disconnected")
}

// endSession must be called with b.mu held.
func (b *Bridge) endSession() {
	if b.end != nil {
		b.end()
		b.end = nil
	}
	b.session = nil
	clear(b.subs)
}

// Subscribe starts pushing uuid's value to n. The current value is sent
// first, then every material change, no more often than MinNotifyInterval.
// A repeat subscription to the same characteristic replaces the previous one.
func (b *Bridge) Subscribe(uuid string, n Notifier) error {
	c, ok := b.Characteristic(uuid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, uuid)
	}
	if !c.CanNotify() {
		return fmt.Errorf("%w: %s", ErrNotNotifiable, uuid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != StateConnected || b.session == nil || b.session.Err() != nil {
		return ErrNotConnected
	}
	if prev, ok := b.subs[c.UUID()]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(b.session)
	sub := &subscription{cancel: cancel}
	b.subs[c.UUID()] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.notify(ctx, c, n)
		cancel()
		b.mu.Lock()
		if b.subs[c.UUID()] == sub {
			delete(b.subs, c.UUID())
		}
		b.mu.Unlock()
	}()
	b.log.WithField("uuid", c.UUID()).Debug("subscribed")
	return nil
}

func (b *Bridge) notify(ctx context.Context, c *Characteristic, n Notifier) {
	changes, unsubscribe := b.state.Subscribe()
	defer unsubscribe()

	limiter := rate.NewLimiter(rate.Every(b.cfg.MinNotifyInterval), 1)
	var last []byte

	send := func() bool {
		if n.Done() {
			return false
		}
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		// Read after the wait so coalesced changes go out as the latest value.
		v := c.Value(b.state.Snapshot())
		if last != nil && bytes.Equal(v, last) {
			b.coalesced.Add(1)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if _, err := n.Write(v); err != nil {
			b.notifyErrors.Add(1)
			b.log.WithFields(log.Fields{"uuid": c.UUID(), "error": err}).Warn("notify failed")
			return false
		}
		b.notifications.Add(1)
		last = v
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !send() {
				return
			}
		}
	}
}

// State returns the connection state.
func (b *Bridge) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	s := Stats{State: b.conn, Central: b.central, Subscriptions: len(b.subs)}
	b.mu.Unlock()
	s.Connects = b.connects.Load()
	s.Disconnects = b.disconnects.Load()
	s.Notifications = b.notifications.Load()
	s.Coalesced = b.coalesced.Load()
	s.NotifyErrors = b.notifyErrors.Load()
	return s
}
