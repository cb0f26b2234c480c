// Package sink publishes logged sensor records.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mklimuk/tagsensors/monitor"
)

var ErrNotConnected = errors.New("sink: not connected")

// MQTT publishes records as JSON to a single topic.
type MQTT struct {
	client paho.Client
	topic  string
	qos    byte
	log    *slog.Logger

	mx        sync.Mutex
	connected bool
}

type MQTTOption func(*MQTT, *paho.ClientOptions)

func WithQoS(qos byte) MQTTOption {
	return func(m *MQTT, _ *paho.ClientOptions) {
		m.qos = qos
	}
}

func WithLogger(log *slog.Logger) MQTTOption {
	return func(m *MQTT, _ *paho.ClientOptions) {
		m.log = log
	}
}

// ClientOptions builds paho options from a broker URL. Credentials in the
// URL are passed to the broker.
func ClientOptions(broker, clientID string) (*paho.ClientOptions, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("sink: invalid broker url: %w", err)
	}
	server := &url.URL{Scheme: u.Scheme, Host: u.Host}
	if server.Scheme == "" {
		server.Scheme = "tcp"
	}
	opts := paho.NewClientOptions().
		AddBroker(server.String()).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, nil
}

func NewMQTT(broker, clientID, topic string, opts ...MQTTOption) (*MQTT, error) {
	popts, err := ClientOptions(broker, clientID)
	if err != nil {
		return nil, err
	}
	m := &MQTT{topic: topic, log: slog.Default()}
	for _, opt := range opts {
		opt(m, popts)
	}
	popts.SetOnConnectHandler(func(paho.Client) {
		m.setConnected(true)
		m.log.Info("mqtt connected", "broker", broker)
	})
	popts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		m.setConnected(false)
		m.log.Warn("mqtt connection lost", "error", err)
	})
	m.client = paho.NewClient(popts)
	return m, nil
}

func (m *MQTT) setConnected(v bool) {
	m.mx.Lock()
	m.connected = v
	m.mx.Unlock()
}

func (m *MQTT) Connected() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.connected
}

func (m *MQTT) Connect(ctx context.Context) error {
	err := wait(ctx, m.client.Connect())
	if err != nil {
		return fmt.Errorf("sink: could not connect: %w", err)
	}
	return nil
}

// Publish sends rec without retaining it.
func (m *MQTT) Publish(ctx context.Context, rec monitor.Record) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := Payload(rec)
	if err != nil {
		return err
	}
	return wait(ctx, m.client.Publish(m.topic, m.qos, false, payload))
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	m.setConnected(false)
	return nil
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Payload is the wire form of a record.
func Payload(rec monitor.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("sink: could not encode record: %w", err)
	}
	return b, nil
}

// Printer writes one JSON record per line.
type Printer struct {
	mx  sync.Mutex
	enc *json.Encoder
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{enc: json.NewEncoder(w)}
}

func (p *Printer) Publish(_ context.Context, rec monitor.Record) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.enc.Encode(rec)
}

func (p *Printer) Close() error {
	return nil
}
