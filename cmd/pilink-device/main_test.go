package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/device"
	"github.com/clawinfra/pilink/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func deviceConfig(t *testing.T) *config.DeviceConfig {
	t.Helper()
	cfg := config.DefaultDeviceConfig()
	cfg.DeviceID = "pi-test"
	cfg.MQTT.Host = "localhost"
	for i := range cfg.Receivers {
		cfg.Receivers[i].MaxWaitMs = 20
	}

	loadavg := filepath.Join(t.TempDir(), "loadavg")
	if err := os.WriteFile(loadavg, []byte("0.10 0.20 0.30 1/100 4242\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.LoadAvgPath = loadavg
	return cfg
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"--version"}, &out, &errOut); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "pilink-device v") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"reboot"}, &out, &errOut); code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
}

func TestRunRequiresBroker(t *testing.T) {
	t.Setenv("PILINK_MQTT_HOST", "")
	path := filepath.Join(t.TempDir(), "device.toml")

	var out, errOut bytes.Buffer
	if code := run([]string{"--config", path, "--env-file", "missing.env"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "mqtt.host required") {
		t.Errorf("unexpected stderr %q", errOut.String())
	}
}

func TestLoadDeviceFromFile(t *testing.T) {
	t.Setenv("PILINK_MQTT_HOST", "")
	t.Setenv("PILINK_ACTION_SUBSCRIPTION_NAME", "")
	path := filepath.Join(t.TempDir(), "device.toml")

	cfg := config.DefaultDeviceConfig()
	cfg.DeviceID = "pi-garage"
	cfg.LogLevel = "warn"
	cfg.MQTT.Host = "broker.local"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	got, logger, err := loadDevice(path, "missing.env", io.Discard)
	if err != nil {
		t.Fatalf("loadDevice failed: %v", err)
	}
	if got.DeviceID != "pi-garage" || got.MQTT.Host != "broker.local" || len(got.Receivers) != 2 {
		t.Errorf("unexpected config %+v", got)
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected warn level logger")
	}
}

func TestBuildDispatchersRejectsUnknownTopic(t *testing.T) {
	cfg := deviceConfig(t)
	cfg.Receivers[0].Topic = "Reboot"

	h := device.New(cfg.DeviceID, testLogger())
	if _, err := buildDispatchers(context.Background(), cfg, bus.NewMemory(10), h, testLogger()); err == nil {
		t.Error("expected unknown topic error")
	}
}

func TestDispatchersRouteBothTopics(t *testing.T) {
	cfg := deviceConfig(t)
	mem := bus.NewMemory(10)
	h := device.New(cfg.DeviceID, testLogger())
	h.LoadAvgPath = cfg.LoadAvgPath

	ds, err := buildDispatchers(context.Background(), cfg, mem, h, testLogger())
	if err != nil {
		t.Fatalf("buildDispatchers failed: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 dispatchers, got %d", len(ds))
	}

	action := mem.Inject(types.TopicAction, "pi-action-subscription",
		[]byte(`{"ActionType":"Camera","ActionSpec":"{\"operation\":\"capture\"}"}`))
	telemetry := mem.Inject(types.TopicTelemetry, "pi-telemetry-subscription",
		[]byte(`{"SensorKey":"CPU","StartDate":"2025-01-01T00:00:00Z","EndDate":"2025-01-02T00:00:00Z"}`))
	unknown := mem.Inject(types.TopicAction, "pi-action-subscription",
		[]byte(`{"ActionType":"Laser"}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDispatchers(ctx, ds) }()

	deadline := time.After(2 * time.Second)
	for action.Acks() == 0 || telemetry.Acks() == 0 || unknown.Acks() == 0 {
		select {
		case <-deadline:
			t.Fatal("deliveries were not acknowledged")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
	if st := ds[0].Stats(); st.Handled != 1 || st.Unknown != 1 {
		t.Errorf("unexpected action stats %+v", st)
	}
	if st := ds[1].Stats(); st.Handled != 1 {
		t.Errorf("unexpected telemetry stats %+v", st)
	}
}

func TestConnectionLossStopsAllReceivers(t *testing.T) {
	cfg := deviceConfig(t)
	mem := bus.NewMemory(10)

	done := make(chan error, 1)
	go func() { done <- receive(context.Background(), cfg, mem, testLogger()) }()

	time.Sleep(50 * time.Millisecond)
	mem.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, bus.ErrConnectionLost) || types.KindOf(err) != types.KindTransport {
			t.Errorf("expected transport error from lost connection, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receivers did not stop")
	}
}
