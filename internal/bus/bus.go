// Package bus defines the publish/subscribe port the gateway and the
// dispatcher depend on, together with its MQTT and in-memory adapters.
// Broker topology (topics, subscriptions) is provisioned elsewhere.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/clawinfra/pilink/internal/types"
)

var (
	// ErrConnectionLost is returned by Receive once the broker connection is
	// gone. It is fatal for a receive loop.
	ErrConnectionLost = errors.New("bus: connection lost")
	// ErrNotConnected is returned by Publish when no broker session exists.
	ErrNotConnected = errors.New("bus: not connected")
	// ErrClosed is returned by Receive after Close.
	ErrClosed = errors.New("bus: subscription closed")
)

// Publisher places a payload on a topic. Implementations must be safe for
// concurrent use by multiple publishers.
type Publisher interface {
	Publish(ctx context.Context, topic types.Topic, payload []byte) error
}

// Subscriber opens a named subscription (consumer group) on a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic types.Topic, subscription string) (Subscription, error)
}

// Bus is a broker connection usable from both sides.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription yields batches of deliveries.
type Subscription interface {
	// Receive blocks up to wait for the first delivery, then returns at most
	// max deliveries. An empty batch with a nil error means the wait elapsed.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	Close() error
}

// Delivery is one received message and its acknowledgment handle.
type Delivery interface {
	Topic() string
	Payload() []byte
	// Ack removes the message from the subscription.
	Ack() error
}

// collect implements Receive on top of a push channel.
func collect(ctx context.Context, in <-chan Delivery, lost, closed <-chan struct{}, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var first Delivery
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-lost:
		return nil, ErrConnectionLost
	case <-closed:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	case first = <-in:
	}

	batch := []Delivery{first}
	for len(batch) < max {
		select {
		case d := <-in:
			batch = append(batch, d)
		default:
			return batch, nil
		}
	}
	return batch, nil
}
