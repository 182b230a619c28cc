// Package dispatcher routes envelopes received on one subscription to
// handlers selected by a normalized payload field. Delivery is best effort
// and at most once: every received message is acknowledged exactly once,
// whatever happens to it.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/types"
)

// minBackoff is the first wait after a transient receive error.
const minBackoff = 50 * time.Millisecond

// Handler performs the device side effect for one request. It gets the full
// parsed payload and logs its own outcome.
type Handler func(ctx context.Context, payload map[string]any) error

// Routes maps a normalized routing key to its handler.
type Routes map[string]Handler

// State of the receive loop.
type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceiving:
		return "RECEIVING"
	case StateDispatching:
		return "DISPATCHING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats are cumulative counters for one dispatcher.
type Stats struct {
	Received  int64 `json:"received"`
	Handled   int64 `json:"handled"`
	Malformed int64 `json:"malformed"`
	Unknown   int64 `json:"unknown"`
	Failed    int64 `json:"failed"`
	AckErrors int64 `json:"ack_errors"`
}

// Config for a Dispatcher.
type Config struct {
	Name      string        // used in logs, e.g. "action"
	KeyField  string        // payload field holding the routing key
	BatchSize int           // max deliveries per Receive, default 10
	MaxWait   time.Duration // Receive wait, default 5s
}

// Dispatcher is a single long-lived receive loop over one subscription.
type Dispatcher struct {
	cfg    Config
	sub    bus.Subscription
	routes Routes
	logger *slog.Logger

	state     atomic.Int32
	received  atomic.Int64
	handled   atomic.Int64
	malformed atomic.Int64
	unknown   atomic.Int64
	failed    atomic.Int64
	ackErrors atomic.Int64
}

// New builds a dispatcher. routes is copied with keys normalized, so later
// changes to the caller's map have no effect.
func New(cfg Config, sub bus.Subscription, routes Routes, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.KeyField
	}

	table := make(Routes, len(routes))
	for k, h := range routes {
		table[NormalizeKey(k)] = h
	}

	return &Dispatcher{
		cfg:    cfg,
		sub:    sub,
		routes: table,
		logger: logger.With("component", "dispatcher", "dispatcher", cfg.Name),
	}
}

// NormalizeKey trims and lower-cases a routing key.
func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  d.received.Load(),
		Handled:   d.handled.Load(),
		Malformed: d.malformed.Load(),
		Unknown:   d.unknown.Load(),
		Failed:    d.failed.Load(),
		AckErrors: d.ackErrors.Load(),
	}
}

// Run pulls and dispatches until ctx is cancelled (returns nil) or the broker
// connection is lost (returns a transport error). A cancelled context stops
// pulling, but the batch in hand is finished first.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.state.Store(int32(StateIdle))

	d.logger.Info("dispatcher started",
		"key_field", d.cfg.KeyField,
		"routes", len(d.routes),
		"batch_size", d.cfg.BatchSize,
		"max_wait", d.cfg.MaxWait,
	)

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped")
			return nil
		}

		d.state.Store(int32(StateReceiving))
		batch, err := d.sub.Receive(ctx, d.cfg.BatchSize, d.cfg.MaxWait)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				d.logger.Info("dispatcher stopped")
				return nil
			case errors.Is(err, bus.ErrConnectionLost), errors.Is(err, bus.ErrClosed):
				d.logger.Error("receive loop ended", "error", err)
				return types.NewError(types.KindTransport, "receive "+d.cfg.Name, "subscription ended", err)
			default:
				backoff = nextBackoff(backoff, d.cfg.MaxWait)
				d.logger.Warn("receive failed", "error", err, "retry_in", backoff)
				select {
				case <-ctx.Done():
					d.logger.Info("dispatcher stopped")
					return nil
				case <-time.After(backoff):
				}
				continue
			}
		}
		backoff = 0

		if len(batch) == 0 {
			continue
		}

		d.state.Store(int32(StateDispatching))
		// Handlers in the batch run to completion even if shutdown began.
		hctx := context.WithoutCancel(ctx)
		for _, del := range batch {
			d.dispatch(hctx, del)
		}
	}
}

// nextBackoff doubles the previous wait starting at minBackoff, capped at limit.
func nextBackoff(prev, limit time.Duration) time.Duration {
	next := prev * 2
	if next < minBackoff {
		next = minBackoff
	}
	if next > limit {
		next = limit
	}
	return next
}

// dispatch processes one delivery and acks it exactly once on every path.
func (d *Dispatcher) dispatch(ctx context.Context, del bus.Delivery) {
	d.received.Add(1)

	var once sync.Once
	ack := func() {
		once.Do(func() {
			if err := del.Ack(); err != nil {
				d.ackErrors.Add(1)
				d.logger.Warn("ack failed", "error", err)
			}
		})
	}
	defer ack()

	var payload map[string]any
	if err := json.Unmarshal(del.Payload(), &payload); err != nil || payload == nil {
		d.malformed.Add(1)
		if err == nil {
			err = errors.New("payload is not an object")
		}
		merr := types.NewError(types.KindMalformedMessage, "dispatch "+d.cfg.Name, "unparsable payload", err)
		d.logger.Warn("dropping message", "error", merr, "size", len(del.Payload()))
		return
	}

	raw, _ := payload[d.cfg.KeyField].(string)
	key := NormalizeKey(raw)

	handler, ok := d.routes[key]
	if !ok {
		d.unknown.Add(1)
		uerr := types.NewError(types.KindUnknownRoute, "dispatch "+d.cfg.Name, fmt.Sprintf("unknown key %q", key), nil)
		d.logger.Warn("dropping message", "error", uerr)
		return
	}

	if err := d.invoke(ctx, key, handler, payload); err != nil {
		d.failed.Add(1)
		d.logger.Error("handler failed", "key", key, "error", err)
		return
	}

	d.handled.Add(1)
	d.logger.Debug("message handled", "key", key)
}

func (d *Dispatcher) invoke(ctx context.Context, key string, h Handler, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", key, r)
		}
	}()
	return h(ctx, payload)
}
