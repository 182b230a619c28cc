// Package orchestrator drives one user turn through bounded rounds of model
// inference and tool execution. Tool calls are fulfilled by publishing to
// the device fleet; the result folded back into the conversation is the
// publish outcome, never the device's own output.
package orchestrator

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ModelProvider is the inference collaborator.
type ModelProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
	Tools        []ToolSchema
	MaxTokens    int
	Temperature  float64
}

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ChatResponse struct {
	Content      string
	Model        string
	TokensInput  int
	TokensOutput int
	FinishReason string
	ToolCalls    []ToolCall
}

// ToolCall represents a tool invocation from the model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// RequestsTools reports whether the response asks for tool execution. Some
// providers report "stop" alongside tool calls, so only the calls count.
func (r *ChatResponse) RequestsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}
