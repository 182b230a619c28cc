package api

import (
	"net/http"
	"testing"

	"github.com/clawinfra/pilink/internal/types"
)

func TestTelemetryPublishes(t *testing.T) {
	s, sender := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/api/telemetry",
		`{"SensorKey":"Temperature","StartDate":"2025-01-01T00:00:00Z","EndDate":"2025-01-02T00:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body FleetResponse
	decode(t, w, &body)
	if body.Status != "success" || body.Message != "Telemetry request sent" || body.MessageID != "msg-t" {
		t.Errorf("unexpected body %+v", body)
	}
	if len(sender.telemetry) != 1 || sender.telemetry[0].SensorKey != "Temperature" {
		t.Errorf("unexpected telemetry %+v", sender.telemetry)
	}
}

func TestActionPublishes(t *testing.T) {
	s, sender := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/api/action",
		`{"ActionType":"Camera","ActionSpec":"{\"operation\":\"capture\"}"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body FleetResponse
	decode(t, w, &body)
	if body.Status != "success" || body.Message != "Action request sent" {
		t.Errorf("unexpected body %+v", body)
	}
	if len(sender.actions) != 1 || sender.actions[0].ActionSpec != `{"operation":"capture"}` {
		t.Errorf("unexpected actions %+v", sender.actions)
	}
}

func TestFleetErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"bad json", "/api/action", `{"ActionType":`, nil, http.StatusBadRequest},
		{"empty body", "/api/telemetry", "", nil, http.StatusBadRequest},
		{"missing field", "/api/telemetry", `{"SensorKey":"Light"}`, nil, http.StatusBadRequest},
		{"missing action type", "/api/action", `{"ActionSpec":"{}"}`, nil, http.StatusBadRequest},
		{"bus not configured", "/api/action", `{"ActionType":"Camera"}`,
			types.NewError(types.KindConfiguration, "send Action", "message bus not configured", nil),
			http.StatusInternalServerError},
		{"publish failed", "/api/telemetry",
			`{"SensorKey":"CPU","StartDate":"a","EndDate":"b"}`,
			types.NewError(types.KindTransport, "send Telemetry", "publish failed", nil),
			http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sender := newTestServer(t, nil)
			sender.err = tt.err

			w := do(t, s.Handler(), http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			var body FleetResponse
			decode(t, w, &body)
			if body.Status != "error" || body.Message == "" {
				t.Errorf("unexpected body %+v", body)
			}
			if len(sender.actions)+len(sender.telemetry) != 0 {
				t.Error("nothing should have been recorded as sent")
			}
		})
	}
}

func TestFleetRejectsGet(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/action", "/api/telemetry"} {
		if w := do(t, s.Handler(), http.MethodGet, path, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, w.Code)
		}
	}
}
