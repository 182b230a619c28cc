package models

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// mockProvider returns a fixed response or error.
type mockProvider struct {
	name  string
	resp  *orchestrator.ChatResponse
	err   error
	mu    sync.Mutex
	calls int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(_ context.Context, _ orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func okProvider(name string) *mockProvider {
	return &mockProvider{name: name, resp: &orchestrator.ChatResponse{
		Content: "from " + name, TokensInput: 10, TokensOutput: 5, FinishReason: "stop",
	}}
}

func TestRouterPrimarySucceeds(t *testing.T) {
	r := NewRouter(testLogger())
	primary := okProvider("primary")
	backup := okProvider("backup")
	r.RegisterProvider(primary)
	r.RegisterProvider(backup)

	if err := r.SetChain("primary", "backup"); err != nil {
		t.Fatalf("SetChain failed: %v", err)
	}

	resp, err := r.Chat(context.Background(), orchestrator.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "from primary" || backup.calls != 0 {
		t.Errorf("expected primary only, got %q backup calls %d", resp.Content, backup.calls)
	}

	u := r.GetUsage("primary")
	if u.TotalRequests != 1 || u.TotalTokensIn != 10 || u.TotalTokensOut != 5 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestRouterFallback(t *testing.T) {
	r := NewRouter(testLogger())
	r.RegisterProvider(&mockProvider{name: "primary", err: errors.New("rate limited")})
	r.RegisterProvider(okProvider("backup"))
	_ = r.SetChain("primary", "backup")

	resp, err := r.Chat(context.Background(), orchestrator.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("expected backup response, got %q", resp.Content)
	}

	all := r.GetAllUsage()
	if all["primary"].TotalFailures != 1 || all["backup"].TotalRequests != 1 {
		t.Errorf("unexpected usage %+v", all)
	}
}

func TestRouterAllFail(t *testing.T) {
	primaryErr := errors.New("primary down")
	r := NewRouter(testLogger())
	r.RegisterProvider(&mockProvider{name: "a", err: primaryErr})
	r.RegisterProvider(&mockProvider{name: "b", err: errors.New("b down")})
	_ = r.SetChain("a", "b")

	_, err := r.Chat(context.Background(), orchestrator.ChatRequest{})
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected primary error wrapped, got %v", err)
	}
}

func TestRouterCancelledStopsFallback(t *testing.T) {
	r := NewRouter(testLogger())
	r.RegisterProvider(&mockProvider{name: "a", err: context.Canceled})
	backup := okProvider("b")
	r.RegisterProvider(backup)
	_ = r.SetChain("a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Chat(ctx, orchestrator.ChatRequest{}); err == nil {
		t.Error("expected error")
	}
	if backup.calls != 0 {
		t.Error("fallback must not run after cancellation")
	}
}

func TestRouterEmpty(t *testing.T) {
	r := NewRouter(nil)
	if _, err := r.Chat(context.Background(), orchestrator.ChatRequest{}); err == nil {
		t.Error("expected error with no providers")
	}
	if r.Name() != "router" {
		t.Errorf("unexpected name %s", r.Name())
	}
}

func TestRouterDefaultChainAndList(t *testing.T) {
	r := NewRouter(testLogger())
	r.RegisterProvider(okProvider("zeta"))
	r.RegisterProvider(okProvider("alpha"))

	if chain := r.Chain(); len(chain) != 1 || chain[0] != "zeta" {
		t.Errorf("expected first registered as chain, got %v", chain)
	}
	if names := r.ListProviders(); len(names) != 2 || names[0] != "alpha" {
		t.Errorf("unexpected providers %v", names)
	}
	if err := r.SetChain("alpha", "missing"); err == nil {
		t.Error("expected error for unknown fallback")
	}
	if u := r.GetUsage("nobody"); u.TotalRequests != 0 {
		t.Errorf("expected zero usage, got %+v", u)
	}
}
