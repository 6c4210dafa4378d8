package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/roastlog"
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are held in a backlog and replayed on reconnect.
type RealPublisher struct {
	client client
	log    *log.Entry

	mu       sync.Mutex
	buf      *backlog
	connects atomic.Uint32
}

// NewRealPublisher creates a publisher for the given broker. If the broker is
// not reachable within the connect timeout the publisher is still returned and
// keeps retrying in the background.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := newPublisher(nil, DefaultBufferSize)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, false).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.WithError(err).Warn("connection lost")
		})

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.WithField("broker", broker).Warn("broker not reachable, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(c client, bufferSize int) *RealPublisher {
	return &RealPublisher{
		client: c,
		buf:    newBacklog(bufferSize),
		log:    log.WithField("component", "mqtt"),
	}
}

// Publish sends a telemetry sample to the broker.
func (p *RealPublisher) Publish(row roastlog.Row) error {
	payload, err := FormatPayload(row)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(outgoing{topic: TopicTelemetry, payload: payload})
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so lifecycle events survive a flaky link.
	return p.send(outgoing{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(m outgoing) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.buf.add(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.publish(m)
}

func (p *RealPublisher) publish(m outgoing) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// handleConnect replays buffered messages. Every connection after the first
// also announces RECONNECTED.
func (p *RealPublisher) handleConnect() {
	n := p.connects.Add(1)

	p.mu.Lock()
	pending := p.buf.take()
	p.mu.Unlock()

	p.log.WithFields(log.Fields{"connects": n, "buffered": len(pending)}).Info("connected")
	for i, m := range pending {
		if err := p.publish(m); err != nil {
			p.mu.Lock()
			p.buf.requeue(pending[i:])
			p.mu.Unlock()
			p.log.WithError(err).WithField("requeued", len(pending)-i).Warn("replay failed")
			return
		}
	}
	if n > 1 {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			p.log.WithError(err).Warn("publish RECONNECTED")
		}
	}
}

// Buffered returns how many messages are waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.size()
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
