// Package requests turns typed tool invocations into validated envelopes.
// Builders are pure: they never perform I/O and the topic is fixed per kind.
package requests

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clawinfra/pilink/internal/types"
)

// Request is anything the gateway can publish.
type Request interface {
	Envelope() (*types.Envelope, error)
}

// Action wraps an ActionRequest so it satisfies Request.
type Action types.ActionRequest

func (a Action) Envelope() (*types.Envelope, error) {
	return BuildAction(types.ActionRequest(a))
}

// Telemetry wraps a TelemetryRequest so it satisfies Request.
type Telemetry types.TelemetryRequest

func (t Telemetry) Envelope() (*types.Envelope, error) {
	return BuildTelemetry(types.TelemetryRequest(t))
}

// BuildActionEnvelope validates the fields and returns an envelope for the
// Action topic.
func BuildActionEnvelope(actionType, actionSpec string) (*types.Envelope, error) {
	return BuildAction(types.ActionRequest{ActionType: actionType, ActionSpec: actionSpec})
}

// BuildTelemetryEnvelope validates the fields and returns an envelope for the
// Telemetry topic. StartDate is not required to precede EndDate.
func BuildTelemetryEnvelope(sensorKey, startDate, endDate string) (*types.Envelope, error) {
	return BuildTelemetry(types.TelemetryRequest{SensorKey: sensorKey, StartDate: startDate, EndDate: endDate})
}

func BuildAction(req types.ActionRequest) (*types.Envelope, error) {
	missing := missingFields(
		types.FieldActionType, req.ActionType,
		types.FieldActionSpec, req.ActionSpec,
	)
	if len(missing) > 0 {
		return nil, types.Validationf("build action", "invalid request, required fields: %s", strings.Join(missing, ", "))
	}
	return seal(types.TopicAction, req.ActionType, req)
}

func BuildTelemetry(req types.TelemetryRequest) (*types.Envelope, error) {
	missing := missingFields(
		types.FieldSensorKey, req.SensorKey,
		types.FieldStartDate, req.StartDate,
		types.FieldEndDate, req.EndDate,
	)
	if len(missing) > 0 {
		return nil, types.Validationf("build telemetry", "invalid request, required fields: %s", strings.Join(missing, ", "))
	}
	return seal(types.TopicTelemetry, req.SensorKey, req)
}

// missingFields takes name/value pairs and returns the names whose value is blank.
func missingFields(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}

func seal(topic types.Topic, key string, body any) (*types.Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return &types.Envelope{
		Topic:       topic,
		Payload:     payload,
		MessageID:   uuid.NewString(),
		ContentType: types.ContentTypeJSON,
		Key:         key,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
