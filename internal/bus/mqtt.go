package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/clawinfra/pilink/internal/types"
)

// MQTTOptions configures the MQTT adapter.
type MQTTOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string // prepended to every topic, e.g. "pilink/"
	QoS         byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	// AutoReconnect keeps the session alive across drops. Receivers run with
	// it off so a lost connection ends their loop and the process restarts.
	AutoReconnect bool
	// Buffer is the per-subscription delivery buffer.
	Buffer int
}

func (o *MQTTOptions) withDefaults() {
	if o.Port == 0 {
		o.Port = 1883
	}
	if o.ClientID == "" {
		o.ClientID = "pilink-" + uuid.NewString()[:8]
	}
	if o.QoS == 0 {
		o.QoS = 1
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PublishTimeout == 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.Buffer == 0 {
		o.Buffer = 100
	}
}

// MQTTBus implements Bus over an MQTT broker. Subscriptions use manual
// acknowledgment: a message is only acked when Delivery.Ack is called.
type MQTTBus struct {
	opts   MQTTOptions
	logger *slog.Logger
	client MQTTClient

	// Factory function for creating MQTT client
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient

	lost     chan struct{}
	lostOnce sync.Once

	mu   sync.Mutex
	subs map[string]*mqttSubscription
}

// NewMQTT creates an MQTT bus backed by the paho client.
func NewMQTT(opts MQTTOptions, logger *slog.Logger) *MQTTBus {
	return NewMQTTWithClient(opts, logger, func(o *mqtt.ClientOptions) MQTTClient {
		return &DefaultMQTTClient{client: mqtt.NewClient(o)}
	})
}

// NewMQTTWithClient creates an MQTT bus with a custom client factory (for testing)
func NewMQTTWithClient(opts MQTTOptions, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTBus {
	opts.withDefaults()
	return &MQTTBus{
		opts:          opts,
		logger:        logger.With("component", "mqtt"),
		clientFactory: clientFactory,
		lost:          make(chan struct{}),
		subs:          make(map[string]*mqttSubscription),
	}
}

// TopicFor maps a logical topic to its MQTT topic string.
func (b *MQTTBus) TopicFor(t types.Topic) string {
	return b.opts.TopicPrefix + string(t)
}

// Connect opens the broker session.
func (b *MQTTBus) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", b.opts.Host, b.opts.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(b.opts.ClientID)

	if b.opts.Username != "" {
		opts.SetUsername(b.opts.Username)
		opts.SetPassword(b.opts.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(b.opts.AutoReconnect)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(true)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "error", err, "auto_reconnect", b.opts.AutoReconnect)
		if !b.opts.AutoReconnect {
			b.markLost()
		}
	})

	b.client = b.clientFactory(opts)

	b.logger.Info("connecting to mqtt broker", "broker", brokerURL, "client_id", b.opts.ClientID)
	if err := waitToken(ctx, b.client.Connect(), b.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	b.logger.Info("mqtt bus connected")
	return nil
}

func (b *MQTTBus) markLost() {
	b.lostOnce.Do(func() { close(b.lost) })
}

// Publish sends payload with the configured QoS and waits for the broker to
// accept it.
func (b *MQTTBus) Publish(ctx context.Context, topic types.Topic, payload []byte) error {
	if b.client == nil || !b.client.IsConnected() {
		return ErrNotConnected
	}

	mqttTopic := b.TopicFor(topic)
	if err := waitToken(ctx, b.client.Publish(mqttTopic, b.opts.QoS, false, payload), b.opts.PublishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", mqttTopic, err)
	}

	b.logger.Debug("message published", "topic", mqttTopic, "size", len(payload))
	return nil
}

// Subscribe opens a shared subscription named subscription on topic. An empty
// subscription name subscribes directly to the topic.
func (b *MQTTBus) Subscribe(ctx context.Context, topic types.Topic, subscription string) (Subscription, error) {
	if b.client == nil || !b.client.IsConnected() {
		return nil, ErrNotConnected
	}

	filter := b.TopicFor(topic)
	if subscription != "" {
		filter = fmt.Sprintf("$share/%s/%s", subscription, filter)
	}

	sub := &mqttSubscription{
		bus:    b,
		filter: filter,
		ch:     make(chan Delivery, b.opts.Buffer),
		closed: make(chan struct{}),
	}

	if err := waitToken(ctx, b.client.Subscribe(filter, b.opts.QoS, sub.handle), b.opts.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", filter, err)
	}

	b.mu.Lock()
	b.subs[filter] = sub
	b.mu.Unlock()

	b.logger.Info("subscribed", "filter", filter)
	return sub, nil
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() error {
	b.logger.Info("closing mqtt bus")

	b.mu.Lock()
	for _, s := range b.subs {
		s.markClosed()
	}
	b.subs = make(map[string]*mqttSubscription)
	b.mu.Unlock()

	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (b *MQTTBus) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

type mqttSubscription struct {
	bus       *MQTTBus
	filter    string
	ch        chan Delivery
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *mqttSubscription) handle(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.ch <- &mqttDelivery{msg: msg}:
	case <-s.closed:
	}
}

func (s *mqttSubscription) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	return collect(ctx, s.ch, s.bus.lost, s.closed, max, wait)
}

func (s *mqttSubscription) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *mqttSubscription) Close() error {
	s.markClosed()

	s.bus.mu.Lock()
	delete(s.bus.subs, s.filter)
	s.bus.mu.Unlock()

	if s.bus.client != nil && s.bus.client.IsConnected() {
		if err := waitToken(context.Background(), s.bus.client.Unsubscribe(s.filter), s.bus.opts.ConnectTimeout); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", s.filter, err)
		}
	}
	return nil
}

type mqttDelivery struct {
	msg mqtt.Message
}

func (d *mqttDelivery) Topic() string   { return d.msg.Topic() }
func (d *mqttDelivery) Payload() []byte { return d.msg.Payload() }

func (d *mqttDelivery) Ack() error {
	d.msg.Ack()
	return nil
}

// waitToken waits for token completion, the context, or the timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}
