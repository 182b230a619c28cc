// Package device holds the handlers a Raspberry Pi runs for each routing key.
// They log the request and perform what local work the host allows; actual
// actuator and sensor drivers plug in behind the same Handler contract.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/clawinfra/pilink/internal/dispatcher"
	"github.com/clawinfra/pilink/internal/types"
)

// DefaultLoadAvgPath is where cpu telemetry reads the host load average.
const DefaultLoadAvgPath = "/proc/loadavg"

// Handlers is the default handler set for one device.
type Handlers struct {
	DeviceID    string
	LoadAvgPath string
	logger      *slog.Logger
}

// New creates the default handlers.
func New(deviceID string, logger *slog.Logger) *Handlers {
	return &Handlers{
		DeviceID:    deviceID,
		LoadAvgPath: DefaultLoadAvgPath,
		logger:      logger.With("component", "device", "device_id", deviceID),
	}
}

// ActionRoutes returns the route table for the Action topic.
func (h *Handlers) ActionRoutes() dispatcher.Routes {
	return dispatcher.Routes{
		"camera": h.Camera,
	}
}

// TelemetryRoutes returns the route table for the Telemetry topic.
func (h *Handlers) TelemetryRoutes() dispatcher.Routes {
	return dispatcher.Routes{
		"temperature": h.Temperature,
		"light":       h.Light,
		"cpu":         h.CPU,
	}
}

// Camera executes a camera action such as capture or start/stop recording.
func (h *Handlers) Camera(_ context.Context, payload map[string]any) error {
	actionType := stringField(payload, types.FieldActionType)
	spec := stringField(payload, types.FieldActionSpec)
	h.logger.Info("executing camera action", "action_type", actionType, "spec", spec)
	return nil
}

// Temperature reports temperature readings for the requested window.
func (h *Handlers) Temperature(_ context.Context, payload map[string]any) error {
	h.logTelemetry("temperature", payload)
	return nil
}

// Light reports light sensor readings for the requested window.
func (h *Handlers) Light(_ context.Context, payload map[string]any) error {
	h.logTelemetry("light", payload)
	return nil
}

// CPU reports host load for the requested window.
func (h *Handlers) CPU(_ context.Context, payload map[string]any) error {
	h.logTelemetry("cpu", payload)

	load, err := ReadLoadAvg(h.LoadAvgPath)
	if err != nil {
		return fmt.Errorf("read cpu load: %w", err)
	}
	h.logger.Info("cpu load", "load1", load[0], "load5", load[1], "load15", load[2])
	return nil
}

func (h *Handlers) logTelemetry(sensor string, payload map[string]any) {
	h.logger.Info("collecting telemetry",
		"sensor", sensor,
		"start_date", stringField(payload, types.FieldStartDate),
		"end_date", stringField(payload, types.FieldEndDate),
	)
}

// ReadLoadAvg parses the 1, 5 and 15 minute load averages from a
// /proc/loadavg style file.
func ReadLoadAvg(path string) ([3]float64, error) {
	var out [3]float64

	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return out, fmt.Errorf("unexpected loadavg format: %q", strings.TrimSpace(string(data)))
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return out, fmt.Errorf("parse loadavg field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
