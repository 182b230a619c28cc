package models

import (
	"context"
	"testing"

	"github.com/clawinfra/pilink/internal/config"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), "local", config.ProviderConfig{Type: "openai", Model: "llama3"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if _, ok := p.(*OpenAIProvider); !ok || p.Name() != "local" {
		t.Errorf("unexpected provider %T %s", p, p.Name())
	}

	if _, err := NewProvider(context.Background(), "x", config.ProviderConfig{Type: "bedrock"}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := NewProvider(context.Background(), "g", config.ProviderConfig{Type: "gemini", Model: "gemini-2.0-flash"}); err == nil {
		t.Error("expected error for gemini without key")
	}
}

func TestBuildRouter(t *testing.T) {
	cfg := config.ModelsConfig{
		Primary:   "b",
		Fallbacks: []string{"a"},
		Providers: map[string]config.ProviderConfig{
			"a": {Type: "openai", Model: "m1"},
			"b": {Type: "openai", Model: "m2"},
		},
	}

	r, err := BuildRouter(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("BuildRouter failed: %v", err)
	}
	if chain := r.Chain(); len(chain) != 2 || chain[0] != "b" || chain[1] != "a" {
		t.Errorf("unexpected chain %v", chain)
	}

	cfg.Primary = "missing"
	if _, err := BuildRouter(context.Background(), cfg, testLogger()); err == nil {
		t.Error("expected error for unknown primary")
	}
}

func TestBuildRouterEmpty(t *testing.T) {
	r, err := BuildRouter(context.Background(), config.ModelsConfig{}, testLogger())
	if err != nil {
		t.Fatalf("BuildRouter failed: %v", err)
	}
	if len(r.ListProviders()) != 0 {
		t.Error("expected no providers")
	}
}
