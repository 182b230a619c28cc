package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/orchestrator"
)

func TestNewOpenAIProvider(t *testing.T) {
	p := NewOpenAIProvider("openai", config.ProviderConfig{
		Type:   "openai",
		APIKey: "test-key",
		Model:  "gpt-4o-mini",
	})

	if p.Name() != "openai" {
		t.Errorf("expected name 'openai', got '%s'", p.Name())
	}
	if p.Model() != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %s", p.Model())
	}
	if p.baseURL != "https://api.openai.com/v1" {
		t.Errorf("expected default base URL, got %s", p.baseURL)
	}
}

func TestOpenAIChatSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}

		var body openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-4o-mini" {
			t.Errorf("expected configured model, got %s", body.Model)
		}
		if len(body.Tools) != 0 {
			t.Errorf("expected no tools, got %d", len(body.Tools))
		}

		resp := `{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Hello! I'm here to help."},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})

	resp, err := p.Chat(context.Background(), orchestrator.ChatRequest{
		SystemPrompt: "You are a helpful assistant",
		Messages:     []orchestrator.ChatMessage{{Role: "user", Content: "Hello"}},
		Temperature:  0.7,
		MaxTokens:    1000,
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if resp.Content != "Hello! I'm here to help." {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.TokensInput != 120 || resp.TokensOutput != 30 {
		t.Errorf("unexpected usage %d/%d", resp.TokensInput, resp.TokensOutput)
	}
	if resp.FinishReason != "stop" || resp.RequestsTools() {
		t.Errorf("unexpected finish %s tools=%v", resp.FinishReason, resp.ToolCalls)
	}
}

func TestOpenAIChatToolRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if len(body.Tools) != 1 || body.Tools[0].Type != "function" || body.Tools[0].Function.Name != orchestrator.ToolSendAction {
			t.Errorf("unexpected tools %+v", body.Tools)
		}
		params := body.Tools[0].Function.Parameters
		if params["type"] != "object" {
			t.Errorf("expected object schema, got %v", params)
		}

		// system, user, assistant with call, tool result
		if len(body.Messages) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(body.Messages))
		}
		asst := body.Messages[2]
		if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_prev" || asst.ToolCalls[0].Function.Arguments != `{"action_type":"camera"}` {
			t.Errorf("unexpected assistant message %+v", asst)
		}
		if body.Messages[3].Role != "tool" || body.Messages[3].ToolCallID != "call_prev" {
			t.Errorf("unexpected tool message %+v", body.Messages[3])
		}

		resp := `{"model": "gpt-4o", "choices": [{"message": {"role": "assistant", "content": "",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_telemetry",
			"arguments": "{\"sensor_key\":\"cpu\",\"start_date\":\"2025-01-01T00:00:00Z\"}"}}]},
			"finish_reason": "tool_calls"}]}`
		_, _ = w.Write([]byte(resp))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL, Model: "gpt-4o"})

	resp, err := p.Chat(context.Background(), orchestrator.ChatRequest{
		SystemPrompt: "sys",
		Messages: []orchestrator.ChatMessage{
			{Role: "user", Content: "snap a photo"},
			{Role: "assistant", ToolCalls: []orchestrator.ToolCall{{
				ID: "call_prev", Name: orchestrator.ToolSendAction,
				Arguments: map[string]interface{}{"action_type": "camera"},
			}}},
			{Role: "tool", ToolCallID: "call_prev", Content: `{"success":true}`},
		},
		Tools: []orchestrator.ToolSchema{orchestrator.SendActionSchema},
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if !resp.RequestsTools() || len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_telemetry" || call.Arguments["sensor_key"] != "cpu" {
		t.Errorf("unexpected call %+v", call)
	}
}

func TestOpenAIChatBadArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant",
			"tool_calls": [{"id": "c", "type": "function", "function": {"name": "x", "arguments": "{oops"}}]}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL})
	if _, err := p.Chat(context.Background(), orchestrator.ChatRequest{}); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestOpenAIChatMissingToolCallID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"finish_reason": "tool_calls", "message": {"role": "assistant",
			"tool_calls": [
				{"type": "function", "function": {"name": "get_telemetry", "arguments": "{}"}},
				{"id": "", "type": "function", "function": {"name": "send_action", "arguments": "{}"}}
			]}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL})
	resp, err := p.Chat(context.Background(), orchestrator.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	a, b := resp.ToolCalls[0].ID, resp.ToolCalls[1].ID
	if !strings.HasPrefix(a, "call_") || !strings.HasPrefix(b, "call_") || a == b {
		t.Errorf("expected distinct generated ids, got %q and %q", a, b)
	}
}

func TestOpenAIChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL, APIKey: "bad-key"})

	_, err := p.Chat(context.Background(), orchestrator.ChatRequest{
		Messages: []orchestrator.ChatMessage{{Role: "user", Content: "Hello"}},
	})
	if err == nil {
		t.Error("expected error when authentication fails")
	}
}

func TestOpenAIChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL})
	if _, err := p.Chat(context.Background(), orchestrator.ChatRequest{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIChatCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewOpenAIProvider("openai", config.ProviderConfig{BaseURL: server.URL})
	if _, err := p.Chat(ctx, orchestrator.ChatRequest{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
