// Package gateway bridges validated requests to the message bus and
// translates broker outcomes into a result both the HTTP surface and the
// tool loop can consume. A successful publish means the broker accepted the
// envelope, never that a device handled it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/requests"
	"github.com/clawinfra/pilink/internal/types"
)

// SuccessMessage is returned to callers on every accepted publish.
const SuccessMessage = "Action request submitted successfully"

// PublishResult describes an accepted publish.
type PublishResult struct {
	OK        bool        `json:"ok"`
	Topic     types.Topic `json:"topic"`
	MessageID string      `json:"message_id"`
	Message   string      `json:"message"`
}

// Record is one publish outcome handed to a Recorder.
type Record struct {
	MessageID string
	Topic     types.Topic
	Key       string
	Status    string // "ok" or an error Kind
	Error     string
	At        time.Time
}

// Recorder persists publish outcomes. Failures are logged by the gateway and
// never surfaced to callers.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRecorder attaches a Recorder to the gateway.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// Gateway publishes requests to their fixed topics.
type Gateway struct {
	pub      bus.Publisher
	recorder Recorder
	logger   *slog.Logger
}

// New creates a gateway. A nil publisher is a configuration problem: it is
// logged here once and every call answers with a configuration error.
func New(pub bus.Publisher, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		pub:    pub,
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if pub == nil {
		g.logger.Error("no message bus configured, all publishes will fail")
	}
	return g
}

// Configured reports whether a bus is attached.
func (g *Gateway) Configured() bool {
	return g.pub != nil
}

// SendAction validates and publishes an action request.
func (g *Gateway) SendAction(ctx context.Context, req types.ActionRequest) (*PublishResult, error) {
	return g.Send(ctx, requests.Action(req))
}

// SendTelemetry validates and publishes a telemetry request.
func (g *Gateway) SendTelemetry(ctx context.Context, req types.TelemetryRequest) (*PublishResult, error) {
	return g.Send(ctx, requests.Telemetry(req))
}

// Send validates req and makes exactly one publish attempt. Validation
// failures never reach the bus.
func (g *Gateway) Send(ctx context.Context, req requests.Request) (*PublishResult, error) {
	env, err := req.Envelope()
	if err != nil {
		g.logger.Warn("request rejected", "error", err)
		return nil, err
	}

	if g.pub == nil {
		err := types.NewError(types.KindConfiguration, "send "+env.Topic.String(), "message bus not configured", nil)
		g.record(ctx, env, err)
		return nil, err
	}

	if err := g.pub.Publish(ctx, env.Topic, env.Payload); err != nil {
		terr := types.NewError(types.KindTransport, "send "+env.Topic.String(), "publish failed", err)
		g.logger.Error("publish failed",
			"topic", env.Topic,
			"message_id", env.MessageID,
			"key", env.Key,
			"error", err,
		)
		g.record(ctx, env, terr)
		return nil, terr
	}

	g.logger.Info("request published",
		"topic", env.Topic,
		"message_id", env.MessageID,
		"key", env.Key,
	)
	g.record(ctx, env, nil)

	return &PublishResult{
		OK:        true,
		Topic:     env.Topic,
		MessageID: env.MessageID,
		Message:   SuccessMessage,
	}, nil
}

func (g *Gateway) record(ctx context.Context, env *types.Envelope, err error) {
	if g.recorder == nil {
		return
	}

	rec := Record{
		MessageID: env.MessageID,
		Topic:     env.Topic,
		Key:       env.Key,
		Status:    "ok",
		At:        time.Now().UTC(),
	}
	if err != nil {
		rec.Status = string(types.KindOf(err))
		rec.Error = err.Error()
	}

	if rerr := g.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		g.logger.Warn("failed to record publish", "message_id", env.MessageID, "error", fmt.Errorf("record: %w", rerr))
	}
}
