package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

// EinoProvider adapts an eino chat model to ModelProvider. Tools travel as
// per-call options so one model can serve concurrent turns.
type EinoProvider struct {
	name  string
	model string
	chat  model.BaseChatModel
}

// NewEinoProvider wraps chat. modelName is reported on responses.
func NewEinoProvider(name, modelName string, chat model.BaseChatModel) *EinoProvider {
	return &EinoProvider{name: name, model: modelName, chat: chat}
}

func (p *EinoProvider) Name() string { return p.name }

func (p *EinoProvider) Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	msgs, err := toEinoMessages(req)
	if err != nil {
		return nil, err
	}

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, model.WithTools(toEinoTools(req.Tools)))
	}

	out, err := p.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("generate: empty response")
	}

	resp := &orchestrator.ChatResponse{
		Content: out.Content,
		Model:   p.model,
	}
	if req.Model != "" {
		resp.Model = req.Model
	}
	if meta := out.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			resp.TokensInput = meta.Usage.PromptTokens
			resp.TokensOutput = meta.Usage.CompletionTokens
		}
	}

	for _, tc := range out.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("decode arguments for %s: %w", tc.Function.Name, err)
		}
		id := tc.ID
		if id == "" {
			// gemini function calls carry no ID
			id = "call_" + uuid.NewString()
		}
		resp.ToolCalls = append(resp.ToolCalls, orchestrator.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == "" {
		resp.FinishReason = "tool_calls"
	}

	return resp, nil
}

func toEinoMessages(req orchestrator.ChatRequest) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(req.SystemPrompt))
	}

	// tool results need the function name alongside the call ID
	names := make(map[string]string)

	for _, m := range req.Messages {
		switch m.Role {
		case orchestrator.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case orchestrator.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(m.Content))
		case orchestrator.RoleAssistant:
			out := &schema.Message{Role: schema.Assistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshal arguments for %s: %w", tc.Name, err)
				}
				names[tc.ID] = tc.Name
				out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			msgs = append(msgs, out)
		case orchestrator.RoleTool:
			msgs = append(msgs, &schema.Message{
				Role:       schema.Tool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolName:   names[m.ToolCallID],
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return msgs, nil
}

func toEinoTools(schemas []orchestrator.ToolSchema) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(schemas))
	for _, s := range schemas {
		params := make(map[string]*schema.ParameterInfo, len(s.Params))
		for _, p := range s.Params {
			typ := schema.DataType(p.Type)
			if typ == "" {
				typ = schema.String
			}
			params[p.Name] = &schema.ParameterInfo{
				Type:     typ,
				Desc:     p.Description,
				Required: p.Required,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        s.Name,
			Desc:        s.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}
