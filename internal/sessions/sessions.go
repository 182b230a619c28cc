// Package sessions keeps per-conversation chat history between HTTP turns.
// Only user messages and final assistant text are stored; tool traffic
// stays inside a single turn.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/orchestrator"
)

// Store persists conversation history by session ID.
type Store interface {
	History(ctx context.Context, id string) ([]orchestrator.ChatMessage, error)
	Append(ctx context.Context, id string, msgs ...orchestrator.ChatMessage) error
	Clear(ctx context.Context, id string) error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.SessionsConfig, logger *slog.Logger) (Store, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(ttl, cfg.MaxMessages), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, ttl, cfg.MaxMessages, logger), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// keep drops tool traffic and empty assistant messages.
func keep(msgs []orchestrator.ChatMessage) []orchestrator.ChatMessage {
	out := make([]orchestrator.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case orchestrator.RoleUser:
		case orchestrator.RoleAssistant:
			if m.Content == "" {
				continue
			}
		default:
			continue
		}
		out = append(out, orchestrator.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
