package models

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/orchestrator"
)

// NewProvider builds the provider named by cfg.Type.
func NewProvider(ctx context.Context, name string, cfg config.ProviderConfig) (orchestrator.ModelProvider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(name, cfg), nil
	case "gemini":
		return NewGeminiProvider(ctx, name, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// BuildRouter registers every configured provider and orders the chain as
// primary then fallbacks. With no providers the router is returned empty
// and every Chat call fails.
func BuildRouter(ctx context.Context, cfg config.ModelsConfig, logger *slog.Logger) (*Router, error) {
	r := NewRouter(logger)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := NewProvider(ctx, name, cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", name, err)
		}
		r.RegisterProvider(p)
	}

	if cfg.Primary != "" {
		if err := r.SetChain(cfg.Primary, cfg.Fallbacks...); err != nil {
			return nil, err
		}
	}
	return r, nil
}
