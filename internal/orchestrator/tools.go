package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawinfra/pilink/internal/gateway"
	"github.com/clawinfra/pilink/internal/types"
)

// Tool names exposed to the model.
const (
	ToolSendAction   = "send_action"
	ToolGetTelemetry = "get_telemetry"
)

// ToolParam is one string parameter of a tool.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ToolParam `json:"params"`
}

// Parameters renders the params as a JSON Schema object.
func (s ToolSchema) Parameters() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]interface{}{
			"type":        typ,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToolFunc executes a tool. The returned value is JSON-encoded into the
// tool-result message.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// BuiltinTool pairs a schema with its executor.
type BuiltinTool struct {
	Schema  ToolSchema
	Execute ToolFunc
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	Tool      string `json:"tool"`
	Status    string `json:"status"` // "success", "error"
	Result    string `json:"result"` // JSON text fed back to the model
	ErrorKind string `json:"error_kind,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ToolManager holds the immutable tool table for a loop.
type ToolManager struct {
	tools  map[string]*BuiltinTool
	order  []string
	logger *slog.Logger
}

// NewToolManager builds a tool table. Later tools with a duplicate name
// replace earlier ones.
func NewToolManager(logger *slog.Logger, tools ...*BuiltinTool) *ToolManager {
	tm := &ToolManager{
		tools:  make(map[string]*BuiltinTool, len(tools)),
		logger: logger.With("component", "tools"),
	}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := tm.tools[t.Schema.Name]; !dup {
			tm.order = append(tm.order, t.Schema.Name)
		}
		tm.tools[t.Schema.Name] = t
	}
	return tm
}

// Schemas returns the tool contracts in registration order.
func (tm *ToolManager) Schemas() []ToolSchema {
	if tm == nil {
		return nil
	}
	out := make([]ToolSchema, 0, len(tm.order))
	for _, name := range tm.order {
		out = append(out, tm.tools[name].Schema)
	}
	return out
}

// Get returns the named tool or nil.
func (tm *ToolManager) Get(name string) *BuiltinTool {
	if tm == nil {
		return nil
	}
	return tm.tools[name]
}

// Execute runs one call. Failures, including unknown tools, become error
// results rather than Go errors so the model can recover conversationally.
func (tm *ToolManager) Execute(ctx context.Context, call ToolCall) *ToolResult {
	start := time.Now()
	res := &ToolResult{Tool: call.Name}

	tool := tm.Get(call.Name)
	if tool == nil {
		res.Status = "error"
		res.ErrorKind = string(types.KindUnknownRoute)
		res.Result = encodeResult(map[string]interface{}{
			"error": fmt.Sprintf("Unknown function: %s", call.Name),
			"kind":  types.KindUnknownRoute,
		})
		if tm != nil {
			tm.logger.Warn("model requested unknown tool", "tool", call.Name, "call_id", call.ID)
		}
		res.ElapsedMs = time.Since(start).Milliseconds()
		return res
	}

	out, err := tool.Execute(ctx, call.Arguments)
	res.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		kind := types.KindOf(err)
		if kind == "" {
			kind = types.KindTransport
		}
		res.Status = "error"
		res.ErrorKind = string(kind)
		res.Result = encodeResult(map[string]interface{}{
			"error": err.Error(),
			"kind":  kind,
		})
		tm.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "kind", kind, "error", err)
		return res
	}

	res.Status = "success"
	res.Result = encodeResult(out)
	tm.logger.Info("tool executed", "tool", call.Name, "call_id", call.ID, "elapsed_ms", res.ElapsedMs)
	return res
}

func encodeResult(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("encode result: %v", err)})
	}
	return string(data)
}

// StringArg returns args[name] as text. Strings pass through; other values
// are re-encoded as JSON. Missing or null values yield "".
func StringArg(args map[string]interface{}, name string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Sender is the publish side the fleet tools call into.
type Sender interface {
	SendAction(ctx context.Context, req types.ActionRequest) (*gateway.PublishResult, error)
	SendTelemetry(ctx context.Context, req types.TelemetryRequest) (*gateway.PublishResult, error)
}

// SendActionSchema is the send_action contract.
var SendActionSchema = ToolSchema{
	Name:        ToolSendAction,
	Description: "Send an action command to the Raspberry Pi. Use this to control devices like camera, LEDs, or other actuators.",
	Params: []ToolParam{
		{Name: "action_type", Type: "string", Required: true,
			Description: "The type of action to perform (e.g., 'Camera', 'LED', 'Servo')"},
		{Name: "action_spec", Type: "string", Required: true,
			Description: `JSON string specifying the action details (e.g., '{"operation": "capture", "resolution": "1920x1080"}')`},
	},
}

// GetTelemetrySchema is the get_telemetry contract.
var GetTelemetrySchema = ToolSchema{
	Name:        ToolGetTelemetry,
	Description: "Retrieve telemetry data from a sensor. Use this to get temperature, light, or CPU readings from the Raspberry Pi.",
	Params: []ToolParam{
		{Name: "sensor_key", Type: "string", Required: true,
			Description: "The type of sensor to query (e.g., 'Temperature', 'Light', 'CPU')"},
		{Name: "start_date", Type: "string", Required: true,
			Description: "Start date for telemetry data in ISO 8601 format (e.g., '2025-01-01T00:00:00Z')"},
		{Name: "end_date", Type: "string", Required: true,
			Description: "End date for telemetry data in ISO 8601 format (e.g., '2025-01-02T00:00:00Z')"},
	},
}

// FleetTools returns the send_action and get_telemetry tools backed by s.
func FleetTools(s Sender) []*BuiltinTool {
	return []*BuiltinTool{
		{
			Schema: GetTelemetrySchema,
			Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				res, err := s.SendTelemetry(ctx, types.TelemetryRequest{
					SensorKey: StringArg(args, "sensor_key"),
					StartDate: StringArg(args, "start_date"),
					EndDate:   StringArg(args, "end_date"),
				})
				if err != nil {
					return nil, err
				}
				return publishOutcome(res), nil
			},
		},
		{
			Schema: SendActionSchema,
			Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				res, err := s.SendAction(ctx, types.ActionRequest{
					ActionType: StringArg(args, "action_type"),
					ActionSpec: StringArg(args, "action_spec"),
				})
				if err != nil {
					return nil, err
				}
				return publishOutcome(res), nil
			},
		},
	}
}

func publishOutcome(res *gateway.PublishResult) map[string]interface{} {
	return map[string]interface{}{
		"success":    res.OK,
		"message":    res.Message,
		"message_id": res.MessageID,
		"topic":      res.Topic,
	}
}
