package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/device"
	"github.com/clawinfra/pilink/internal/dispatcher"
	"github.com/clawinfra/pilink/internal/types"
)

// buildDispatchers opens one subscription per configured receiver and
// binds it to the route table for its topic.
func buildDispatchers(ctx context.Context, cfg *config.DeviceConfig, sub bus.Subscriber, h *device.Handlers, logger *slog.Logger) ([]*dispatcher.Dispatcher, error) {
	out := make([]*dispatcher.Dispatcher, 0, len(cfg.Receivers))

	for _, rc := range cfg.Receivers {
		topic := types.Topic(rc.Topic)

		var routes dispatcher.Routes
		switch topic {
		case types.TopicAction:
			routes = h.ActionRoutes()
		case types.TopicTelemetry:
			routes = h.TelemetryRoutes()
		default:
			return nil, fmt.Errorf("receiver %s: unknown topic %q", rc.Name, rc.Topic)
		}

		s, err := sub.Subscribe(ctx, topic, rc.Subscription)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s/%s: %w", rc.Topic, rc.Subscription, err)
		}

		name := rc.Name
		if name == "" {
			name = rc.Subscription
		}
		out = append(out, dispatcher.New(dispatcher.Config{
			Name:      name,
			KeyField:  rc.KeyField(),
			BatchSize: rc.BatchSize,
			MaxWait:   rc.MaxWait(),
		}, s, routes, logger))
	}
	return out, nil
}

// runDispatchers runs every dispatcher until ctx ends. The first fatal
// error stops the others and is returned.
func runDispatchers(ctx context.Context, ds []*dispatcher.Dispatcher) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range ds {
		g.Go(func() error { return d.Run(gctx) })
	}
	return g.Wait()
}
