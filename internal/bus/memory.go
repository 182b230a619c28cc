package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawinfra/pilink/internal/types"
)

// Memory is an in-process Bus. Each named subscription on a topic receives
// its own copy of every message published after it was opened; messages
// published to a topic with no subscriptions are dropped.
type Memory struct {
	mu       sync.Mutex
	groups   map[types.Topic]map[string]chan Delivery
	lost     chan struct{}
	lostOnce sync.Once
	buffer   int
}

// NewMemory creates an in-process bus with the given per-subscription buffer.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 100
	}
	return &Memory{
		groups: make(map[types.Topic]map[string]chan Delivery),
		lost:   make(chan struct{}),
		buffer: buffer,
	}
}

func (m *Memory) Publish(ctx context.Context, topic types.Topic, payload []byte) error {
	select {
	case <-m.lost:
		return ErrNotConnected
	default:
	}

	m.mu.Lock()
	targets := make([]chan Delivery, 0, len(m.groups[topic]))
	for _, ch := range m.groups[topic] {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		d := &MemoryDelivery{topic: string(topic), payload: append([]byte(nil), payload...)}
		select {
		case ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic types.Topic, subscription string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.groups[topic] == nil {
		m.groups[topic] = make(map[string]chan Delivery)
	}
	ch, ok := m.groups[topic][subscription]
	if !ok {
		ch = make(chan Delivery, m.buffer)
		m.groups[topic][subscription] = ch
	}
	return &memorySubscription{bus: m, ch: ch, closed: make(chan struct{})}, nil
}

// Inject places a raw delivery on an existing subscription, bypassing
// encoding. Used to simulate foreign or corrupt publishers.
func (m *Memory) Inject(topic types.Topic, subscription string, payload []byte) *MemoryDelivery {
	m.mu.Lock()
	ch := m.groups[topic][subscription]
	m.mu.Unlock()

	d := &MemoryDelivery{topic: string(topic), payload: payload}
	if ch != nil {
		ch <- d
	}
	return d
}

// Disconnect simulates losing the broker connection.
func (m *Memory) Disconnect() {
	m.lostOnce.Do(func() { close(m.lost) })
}

func (m *Memory) Close() error {
	m.Disconnect()
	return nil
}

type memorySubscription struct {
	bus       *Memory
	ch        chan Delivery
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	return collect(ctx, s.ch, s.bus.lost, s.closed, max, wait)
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// MemoryDelivery counts its acknowledgments so tests can check them.
type MemoryDelivery struct {
	topic   string
	payload []byte
	acks    atomic.Int32
}

func (d *MemoryDelivery) Topic() string   { return d.topic }
func (d *MemoryDelivery) Payload() []byte { return d.payload }

func (d *MemoryDelivery) Ack() error {
	d.acks.Add(1)
	return nil
}

// Acks returns how many times Ack was called.
func (d *MemoryDelivery) Acks() int { return int(d.acks.Load()) }
