package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRounds caps tool-execution rounds per turn.
const DefaultMaxRounds = 5

// ToolLoopOption is a functional option for configuring a ToolLoop.
type ToolLoopOption func(*ToolLoop)

// WithMaxRounds sets the round cap. Values below 1 are ignored.
func WithMaxRounds(n int) ToolLoopOption {
	return func(tl *ToolLoop) {
		if n > 0 {
			tl.maxRounds = n
		}
	}
}

// WithModel sets the model id passed to the provider.
func WithModel(model string) ToolLoopOption {
	return func(tl *ToolLoop) { tl.model = model }
}

// WithSampling sets max tokens and temperature for every inference call.
func WithSampling(maxTokens int, temperature float64) ToolLoopOption {
	return func(tl *ToolLoop) {
		tl.maxTokens = maxTokens
		tl.temperature = temperature
	}
}

// WithMaxParallel lets calls within one round run concurrently. Results are
// still appended in call order.
func WithMaxParallel(n int) ToolLoopOption {
	return func(tl *ToolLoop) {
		if n > 0 {
			tl.maxParallel = n
		}
	}
}

// ToolLoop manages the multi-round tool execution loop
type ToolLoop struct {
	provider ModelProvider
	tools    *ToolManager
	logger   *slog.Logger

	maxRounds   int
	maxParallel int
	model       string
	maxTokens   int
	temperature float64
}

// ToolLoopMetrics tracks tool loop performance
type ToolLoopMetrics struct {
	InferenceCalls int           `json:"inference_calls"`
	ToolCalls      int           `json:"tool_calls"`
	SuccessCount   int           `json:"success_count"`
	ErrorCount     int           `json:"error_count"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Content      string
	FinishReason string
	Model        string
	Rounds       int
	// CapReached is set when the last response still asked for tools.
	CapReached   bool
	ToolCalls    []ToolCall
	Metrics      ToolLoopMetrics
	Conversation []ChatMessage
}

// NewToolLoop creates a loop. tools may be nil, in which case no contracts
// are offered to the model.
func NewToolLoop(provider ModelProvider, tools *ToolManager, logger *slog.Logger, opts ...ToolLoopOption) *ToolLoop {
	tl := &ToolLoop{
		provider:    provider,
		tools:       tools,
		logger:      logger.With("component", "tool_loop"),
		maxRounds:   DefaultMaxRounds,
		maxParallel: 1,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(tl)
	}
	return tl
}

// MaxRounds returns the configured cap.
func (tl *ToolLoop) MaxRounds() int { return tl.maxRounds }

// Tools returns the contracts offered to the model.
func (tl *ToolLoop) Tools() []ToolSchema { return tl.tools.Schemas() }

// Run drives one turn to completion. Reaching the round cap is not an error:
// the last model response is returned as-is.
func (tl *ToolLoop) Run(ctx context.Context, turn Turn) (*TurnResult, error) {
	if tl.provider == nil {
		return nil, fmt.Errorf("no model provider configured")
	}

	start := time.Now()
	res := &TurnResult{}

	conv := NewConversation(turn.History)
	if err := conv.Append(ChatMessage{Role: RoleUser, Content: turn.Message}); err != nil {
		return nil, err
	}

	systemPrompt := turn.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	resp, err := tl.callLLM(ctx, conv, systemPrompt)
	res.Metrics.InferenceCalls++
	if err != nil {
		return nil, fmt.Errorf("call model (round 0): %w", err)
	}

	for resp.RequestsTools() && res.Rounds < tl.maxRounds {
		tl.logger.Info("model requested tool calls", "round", res.Rounds+1, "count", len(resp.ToolCalls))
		calls := withCallIDs(resp.ToolCalls)

		if err := conv.Append(ChatMessage{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		}); err != nil {
			return nil, fmt.Errorf("append tool calls (round %d): %w", res.Rounds+1, err)
		}

		results := tl.executeParallel(ctx, calls)
		for i, call := range calls {
			r := results[i]
			res.Metrics.ToolCalls++
			if r.Status == "success" {
				res.Metrics.SuccessCount++
			} else {
				res.Metrics.ErrorCount++
			}
			if err := conv.Append(ChatMessage{
				Role:       RoleTool,
				ToolCallID: call.ID,
				Content:    r.Result,
			}); err != nil {
				return nil, fmt.Errorf("append tool result (round %d): %w", res.Rounds+1, err)
			}
		}
		res.ToolCalls = append(res.ToolCalls, calls...)
		res.Rounds++

		resp, err = tl.callLLM(ctx, conv, systemPrompt)
		res.Metrics.InferenceCalls++
		if err != nil {
			return nil, fmt.Errorf("call model (round %d): %w", res.Rounds, err)
		}
	}

	res.CapReached = resp.RequestsTools()
	if res.CapReached {
		tl.logger.Warn("tool round cap reached", "max_rounds", tl.maxRounds)
	}

	// Tool calls of the final response were never executed, so only its text
	// joins the conversation.
	if err := conv.Append(ChatMessage{Role: RoleAssistant, Content: resp.Content}); err != nil {
		tl.logger.Warn("final response not added to conversation", "error", err)
	}

	res.Content = resp.Content
	res.FinishReason = resp.FinishReason
	res.Model = resp.Model
	res.Conversation = conv.Messages()
	res.Metrics.TotalDuration = time.Since(start)

	tl.logger.Info("tool loop complete",
		"rounds", res.Rounds,
		"messages", conv.Len(),
		"tool_calls", res.Metrics.ToolCalls,
		"errors", res.Metrics.ErrorCount,
		"elapsed", res.Metrics.TotalDuration,
	)
	return res, nil
}

// callLLM sends the full conversation and the tool contracts. Every tool
// call must have its result first.
func (tl *ToolLoop) callLLM(ctx context.Context, conv *Conversation, systemPrompt string) (*ChatResponse, error) {
	if pending := conv.Pending(); len(pending) > 0 {
		return nil, fmt.Errorf("tool calls %v have no result", pending)
	}
	resp, err := tl.provider.Chat(ctx, ChatRequest{
		Model:        tl.model,
		SystemPrompt: systemPrompt,
		Messages:     conv.Messages(),
		Tools:        tl.tools.Schemas(),
		MaxTokens:    tl.maxTokens,
		Temperature:  tl.temperature,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("provider %s returned no response", tl.provider.Name())
	}
	return resp, nil
}

// withCallIDs returns calls with a generated id on every call that has
// none. The provider's slice is not modified.
func withCallIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if strings.TrimSpace(c.ID) == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

// executeParallel executes a batch of tool calls and returns results in the
// original call order. With maxParallel 1 calls run one after another.
func (tl *ToolLoop) executeParallel(ctx context.Context, calls []ToolCall) []*ToolResult {
	results := make([]*ToolResult, len(calls))

	if tl.maxParallel <= 1 || len(calls) == 1 {
		for i, call := range calls {
			results[i] = tl.tools.Execute(ctx, call)
		}
		return results
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(tl.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			// unique index per goroutine, no mutex needed
			results[i] = tl.tools.Execute(gCtx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
