package device

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestRoutes(t *testing.T) {
	h := New("pi-1", testLogger())

	action := h.ActionRoutes()
	if _, ok := action["camera"]; !ok || len(action) != 1 {
		t.Errorf("unexpected action routes: %v", action)
	}

	telemetry := h.TelemetryRoutes()
	for _, k := range []string{"temperature", "light", "cpu"} {
		if _, ok := telemetry[k]; !ok {
			t.Errorf("missing telemetry route %s", k)
		}
	}
}

func TestReadLoadAvg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadavg")
	if err := os.WriteFile(path, []byte("0.52 0.58 0.59 1/389 12345\n"), 0644); err != nil {
		t.Fatal(err)
	}

	load, err := ReadLoadAvg(path)
	if err != nil {
		t.Fatalf("ReadLoadAvg failed: %v", err)
	}
	if load[0] != 0.52 || load[1] != 0.58 || load[2] != 0.59 {
		t.Errorf("unexpected load %v", load)
	}
}

func TestReadLoadAvg_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadLoadAvg(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	short := filepath.Join(dir, "short")
	_ = os.WriteFile(short, []byte("0.1"), 0644)
	if _, err := ReadLoadAvg(short); err == nil {
		t.Error("expected error for short file")
	}

	bad := filepath.Join(dir, "bad")
	_ = os.WriteFile(bad, []byte("x y z"), 0644)
	if _, err := ReadLoadAvg(bad); err == nil {
		t.Error("expected error for non-numeric file")
	}
}

func TestCPU_UsesLoadAvgPath(t *testing.T) {
	h := New("pi-1", testLogger())
	h.LoadAvgPath = filepath.Join(t.TempDir(), "missing")

	if err := h.CPU(context.Background(), map[string]any{"SensorKey": "cpu"}); err == nil {
		t.Error("expected cpu handler to report unreadable load average")
	}

	path := filepath.Join(t.TempDir(), "loadavg")
	_ = os.WriteFile(path, []byte("1.00 2.00 3.00 1/1 1"), 0644)
	h.LoadAvgPath = path
	if err := h.CPU(context.Background(), map[string]any{"SensorKey": "cpu"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCameraAndSensors(t *testing.T) {
	h := New("pi-1", testLogger())
	ctx := context.Background()

	if err := h.Camera(ctx, map[string]any{"ActionType": "camera", "ActionSpec": `{"op":"capture"}`}); err != nil {
		t.Errorf("camera: %v", err)
	}
	if err := h.Temperature(ctx, map[string]any{"StartDate": "a", "EndDate": "b"}); err != nil {
		t.Errorf("temperature: %v", err)
	}
	if err := h.Light(ctx, map[string]any{"StartDate": 1}); err != nil {
		t.Errorf("light: %v", err)
	}
}

func TestStringField(t *testing.T) {
	p := map[string]any{"s": "x", "n": 3.5, "nil": nil}
	if stringField(p, "s") != "x" || stringField(p, "n") != "3.5" || stringField(p, "nil") != "" || stringField(p, "none") != "" {
		t.Error("unexpected stringField conversions")
	}
}
