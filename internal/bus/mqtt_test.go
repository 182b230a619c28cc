package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/pilink/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// MockMQTTToken implements mqtt.Token for testing
type MockMQTTToken struct {
	err     error
	pending bool
}

func (m *MockMQTTToken) Wait() bool                     { return !m.pending }
func (m *MockMQTTToken) WaitTimeout(time.Duration) bool { return !m.pending }
func (m *MockMQTTToken) Error() error                   { return m.err }

func (m *MockMQTTToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !m.pending {
		close(ch)
	}
	return ch
}

// MockMQTTClient implements MQTTClient for testing
type MockMQTTClient struct {
	ConnectFunc   func() mqtt.Token
	PublishFunc   func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	SubscribeFunc func(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token

	IsConnectedVal bool
	handlers       map[string]mqtt.MessageHandler
	unsubscribed   []string
	published      []publishedMessage
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	if m.ConnectFunc != nil {
		return m.ConnectFunc()
	}
	m.IsConnectedVal = true
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) Disconnect(quiesce uint) { m.IsConnectedVal = false }

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if m.PublishFunc != nil {
		return m.PublishFunc(topic, qos, retained, payload)
	}
	m.published = append(m.published, publishedMessage{topic: topic, qos: qos, payload: payload.([]byte)})
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(topic, qos, callback)
	}
	if m.handlers == nil {
		m.handlers = make(map[string]mqtt.MessageHandler)
	}
	m.handlers[topic] = callback
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) IsConnected() bool { return m.IsConnectedVal }

// MockMQTTMessage implements mqtt.Message for testing
type MockMQTTMessage struct {
	topic   string
	payload []byte
	acks    atomic.Int32
}

func (m *MockMQTTMessage) Duplicate() bool   { return false }
func (m *MockMQTTMessage) Qos() byte         { return 1 }
func (m *MockMQTTMessage) Retained() bool    { return false }
func (m *MockMQTTMessage) Topic() string     { return m.topic }
func (m *MockMQTTMessage) MessageID() uint16 { return 0 }
func (m *MockMQTTMessage) Payload() []byte   { return m.payload }
func (m *MockMQTTMessage) Ack()              { m.acks.Add(1) }

func newTestBus(t *testing.T, client *MockMQTTClient, opts MQTTOptions) (*MQTTBus, *mqtt.ClientOptions) {
	t.Helper()
	var captured *mqtt.ClientOptions
	b := NewMQTTWithClient(opts, testLogger(), func(o *mqtt.ClientOptions) MQTTClient {
		captured = o
		return client
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return b, captured
}

func TestMQTTConnect_Success(t *testing.T) {
	client := &MockMQTTClient{}
	b, opts := newTestBus(t, client, MQTTOptions{Host: "localhost"})

	if !b.IsConnected() {
		t.Error("expected bus to be connected")
	}
	if !opts.AutoAckDisabled {
		t.Error("expected manual acknowledgment to be enabled")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("unexpected broker list %v", opts.Servers)
	}
}

func TestMQTTConnect_Failed(t *testing.T) {
	client := &MockMQTTClient{
		ConnectFunc: func() mqtt.Token {
			return &MockMQTTToken{err: fmt.Errorf("connection refused")}
		},
	}
	b := NewMQTTWithClient(MQTTOptions{Host: "localhost"}, testLogger(), func(*mqtt.ClientOptions) MQTTClient { return client })

	err := b.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestMQTTConnect_Timeout(t *testing.T) {
	client := &MockMQTTClient{
		ConnectFunc: func() mqtt.Token { return &MockMQTTToken{pending: true} },
	}
	b := NewMQTTWithClient(MQTTOptions{Host: "localhost", ConnectTimeout: 20 * time.Millisecond}, testLogger(),
		func(*mqtt.ClientOptions) MQTTClient { return client })

	if err := b.Connect(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestMQTTPublish_UsesPrefixAndQoS(t *testing.T) {
	client := &MockMQTTClient{}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost", TopicPrefix: "pilink/"})

	if err := b.Publish(context.Background(), types.TopicAction, []byte(`{"ActionType":"camera"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.published))
	}
	got := client.published[0]
	if got.topic != "pilink/Action" {
		t.Errorf("expected topic pilink/Action, got %s", got.topic)
	}
	if got.qos != 1 {
		t.Errorf("expected QoS 1, got %d", got.qos)
	}
}

func TestMQTTPublish_NotConnected(t *testing.T) {
	b := NewMQTTWithClient(MQTTOptions{Host: "localhost"}, testLogger(), nil)

	err := b.Publish(context.Background(), types.TopicTelemetry, []byte("{}"))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMQTTPublish_BrokerError(t *testing.T) {
	client := &MockMQTTClient{
		PublishFunc: func(string, byte, bool, interface{}) mqtt.Token {
			return &MockMQTTToken{err: fmt.Errorf("not authorized")}
		},
	}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost"})

	if err := b.Publish(context.Background(), types.TopicAction, []byte("{}")); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestMQTTPublish_Timeout(t *testing.T) {
	client := &MockMQTTClient{
		PublishFunc: func(string, byte, bool, interface{}) mqtt.Token {
			return &MockMQTTToken{pending: true}
		},
	}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost", PublishTimeout: 20 * time.Millisecond})

	if err := b.Publish(context.Background(), types.TopicAction, []byte("{}")); err == nil {
		t.Fatal("expected publish timeout")
	}
}

func TestMQTTSubscribe_SharedFilterAndAck(t *testing.T) {
	client := &MockMQTTClient{}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost", TopicPrefix: "pilink/"})

	sub, err := b.Subscribe(context.Background(), types.TopicAction, "pi-action-subscription")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	filter := "$share/pi-action-subscription/pilink/Action"
	handler, ok := client.handlers[filter]
	if !ok {
		t.Fatalf("expected subscription on %s, got %v", filter, client.handlers)
	}

	msg := &MockMQTTMessage{topic: "pilink/Action", payload: []byte(`{"ActionType":"camera"}`)}
	handler(nil, msg)

	batch, err := sub.Receive(context.Background(), 10, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(batch))
	}
	if string(batch[0].Payload()) != `{"ActionType":"camera"}` {
		t.Errorf("unexpected payload %s", batch[0].Payload())
	}
	if msg.acks.Load() != 0 {
		t.Error("message must not be acked before Ack is called")
	}
	if err := batch[0].Ack(); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if msg.acks.Load() != 1 {
		t.Errorf("expected 1 ack, got %d", msg.acks.Load())
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != filter {
		t.Errorf("expected unsubscribe from %s, got %v", filter, client.unsubscribed)
	}
}

func TestMQTTSubscribe_DirectWithoutName(t *testing.T) {
	client := &MockMQTTClient{}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost"})

	if _, err := b.Subscribe(context.Background(), types.TopicTelemetry, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, ok := client.handlers["Telemetry"]; !ok {
		t.Errorf("expected direct subscription on Telemetry, got %v", client.handlers)
	}
}

func TestMQTTReceive_WaitElapses(t *testing.T) {
	client := &MockMQTTClient{}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost"})
	sub, _ := b.Subscribe(context.Background(), types.TopicAction, "s")

	batch, err := sub.Receive(context.Background(), 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("expected nil error on empty wait, got %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected empty batch, got %d", len(batch))
	}
}

func TestMQTTConnectionLost_EndsReceive(t *testing.T) {
	client := &MockMQTTClient{}
	b, opts := newTestBus(t, client, MQTTOptions{Host: "localhost"})
	sub, _ := b.Subscribe(context.Background(), types.TopicAction, "s")

	opts.OnConnectionLost(nil, fmt.Errorf("EOF"))

	_, err := sub.Receive(context.Background(), 10, time.Second)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestMQTTConnectionLost_AutoReconnectKeepsReceiving(t *testing.T) {
	client := &MockMQTTClient{}
	b, opts := newTestBus(t, client, MQTTOptions{Host: "localhost", AutoReconnect: true})
	sub, _ := b.Subscribe(context.Background(), types.TopicAction, "s")

	opts.OnConnectionLost(nil, fmt.Errorf("EOF"))

	if _, err := sub.Receive(context.Background(), 10, 10*time.Millisecond); err != nil {
		t.Fatalf("expected receive to survive with auto reconnect, got %v", err)
	}
}

func TestMQTTClose_ClosesSubscriptions(t *testing.T) {
	client := &MockMQTTClient{}
	b, _ := newTestBus(t, client, MQTTOptions{Host: "localhost"})
	sub, _ := b.Subscribe(context.Background(), types.TopicAction, "s")

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.IsConnectedVal {
		t.Error("expected client to be disconnected")
	}
	if _, err := sub.Receive(context.Background(), 1, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
