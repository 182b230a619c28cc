package api

import (
	"net/http"

	"github.com/clawinfra/pilink/internal/types"
)

// FleetResponse is the body of /api/telemetry and /api/action responses.
type FleetResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

// handleTelemetry handles POST /api/telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req types.TelemetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, FleetResponse{Status: "error", Message: err.Error()})
		return
	}

	res, err := s.gateway.SendTelemetry(r.Context(), req)
	if err != nil {
		s.logger.Warn("telemetry request failed", "sensor", req.SensorKey, "error", err)
		writeJSON(w, statusFor(err), FleetResponse{Status: "error", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, FleetResponse{
		Status:    "success",
		Message:   "Telemetry request sent",
		MessageID: res.MessageID,
	})
}

// handleAction handles POST /api/action
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req types.ActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, FleetResponse{Status: "error", Message: err.Error()})
		return
	}

	res, err := s.gateway.SendAction(r.Context(), req)
	if err != nil {
		s.logger.Warn("action request failed", "action", req.ActionType, "error", err)
		writeJSON(w, statusFor(err), FleetResponse{Status: "error", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, FleetResponse{
		Status:    "success",
		Message:   "Action request sent",
		MessageID: res.MessageID,
	})
}
