package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

// Router is a ModelProvider that walks a fallback chain of providers and
// tracks per-provider usage.
type Router struct {
	providers map[string]orchestrator.ModelProvider
	chain     []string
	usage     *UsageTracker
	logger    *slog.Logger
	mu        sync.RWMutex
}

// UsageTracker tracks API usage per provider
type UsageTracker struct {
	mu    sync.RWMutex
	usage map[string]*ProviderUsage
}

// ProviderUsage is a snapshot of one provider's usage.
type ProviderUsage struct {
	TotalRequests   int64
	TotalFailures   int64
	TotalTokensIn   int64
	TotalTokensOut  int64
	LastRequestTime int64
}

// NewRouter creates a new model router
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		providers: make(map[string]orchestrator.ModelProvider),
		usage: &UsageTracker{
			usage: make(map[string]*ProviderUsage),
		},
		logger: logger.With("component", "model-router"),
	}
}

func (r *Router) Name() string { return "router" }

// RegisterProvider adds a provider under its own name. The first registered
// provider becomes the chain when SetChain is never called.
func (r *Router) RegisterProvider(p orchestrator.ModelProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	if len(r.chain) == 0 {
		r.chain = []string{p.Name()}
	}

	r.logger.Info("provider registered", "name", p.Name())
}

// SetChain sets the primary provider and its ordered fallbacks.
func (r *Router) SetChain(primary string, fallbacks ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := append([]string{primary}, fallbacks...)
	for _, name := range chain {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider not found: %s", name)
		}
	}
	r.chain = chain
	return nil
}

// Chain returns the current provider order.
func (r *Router) Chain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.chain...)
}

// Chat routes a chat request through the chain. A cancelled context stops
// the walk.
func (r *Router) Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	r.mu.RLock()
	chain := append([]string(nil), r.chain...)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, errors.New("no model providers registered")
	}

	var firstErr error
	for i, name := range chain {
		if i > 0 {
			if ctx.Err() != nil {
				break
			}
			r.logger.Info("trying fallback", "provider", name, "attempt", i)
		}

		resp, err := r.chatSingle(ctx, name, req)
		if err == nil {
			return resp, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		r.logger.Warn("provider failed", "provider", name, "error", err, "remaining", len(chain)-i-1)
	}

	return nil, fmt.Errorf("all providers failed, primary error: %w", firstErr)
}

func (r *Router) chatSingle(ctx context.Context, name string, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}

	resp, err := p.Chat(ctx, req)
	r.track(name, resp, err)
	if err != nil {
		return nil, fmt.Errorf("chat error: %w", err)
	}
	return resp, nil
}

func (r *Router) track(name string, resp *orchestrator.ChatResponse, err error) {
	r.usage.mu.Lock()
	defer r.usage.mu.Unlock()

	u, ok := r.usage.usage[name]
	if !ok {
		u = &ProviderUsage{}
		r.usage.usage[name] = u
	}

	u.TotalRequests++
	u.LastRequestTime = time.Now().Unix()
	if err != nil {
		u.TotalFailures++
		return
	}
	u.TotalTokensIn += int64(resp.TokensInput)
	u.TotalTokensOut += int64(resp.TokensOutput)

	r.logger.Debug("usage tracked",
		"provider", name,
		"tokens_in", resp.TokensInput,
		"tokens_out", resp.TokensOutput,
	)
}

// GetUsage returns usage stats for a provider
func (r *Router) GetUsage(name string) ProviderUsage {
	r.usage.mu.RLock()
	defer r.usage.mu.RUnlock()

	if u, ok := r.usage.usage[name]; ok {
		return *u
	}
	return ProviderUsage{}
}

// GetAllUsage returns usage stats for all providers
func (r *Router) GetAllUsage() map[string]ProviderUsage {
	r.usage.mu.RLock()
	defer r.usage.mu.RUnlock()

	result := make(map[string]ProviderUsage, len(r.usage.usage))
	for name, u := range r.usage.usage {
		result[name] = *u
	}
	return result
}

// ListProviders returns registered provider names, sorted.
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
