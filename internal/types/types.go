// Package types provides the wire-level data contract shared by the
// publish side (gateway) and the subscribe side (dispatcher).
package types

import "time"

// Topic is a broker-side named channel. Topics are fixed per request kind and
// are never taken from client input.
type Topic string

const (
	TopicAction    Topic = "Action"
	TopicTelemetry Topic = "Telemetry"
)

func (t Topic) String() string { return string(t) }

// Payload field names as they appear on the wire and on the HTTP surface.
const (
	FieldActionType = "ActionType"
	FieldActionSpec = "ActionSpec"
	FieldSensorKey  = "SensorKey"
	FieldStartDate  = "StartDate"
	FieldEndDate    = "EndDate"
)

// ContentTypeJSON is the only payload encoding used on the bus.
const ContentTypeJSON = "application/json"

// ActionRequest asks a device to perform an action. ActionSpec is opaque
// free-form JSON-as-text.
type ActionRequest struct {
	ActionType string `json:"ActionType"`
	ActionSpec string `json:"ActionSpec"`
}

// TelemetryRequest asks a device for sensor readings over a time window.
// The window is not range-checked.
type TelemetryRequest struct {
	SensorKey string `json:"SensorKey"`
	StartDate string `json:"StartDate"`
	EndDate   string `json:"EndDate"`
}

// Envelope is a serialized request addressed to a topic. It is consumed by
// exactly one publish call.
type Envelope struct {
	Topic       Topic     `json:"topic"`
	Payload     []byte    `json:"payload"`
	MessageID   string    `json:"message_id"`
	ContentType string    `json:"content_type"`
	Key         string    `json:"key"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}
