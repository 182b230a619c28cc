package models

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/clawinfra/pilink/internal/config"
)

// NewGeminiProvider builds an EinoProvider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, name string, cfg config.ProviderConfig) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider %s: api key required", name)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini model: %w", err)
	}

	return NewEinoProvider(name, cfg.Model, chat), nil
}
