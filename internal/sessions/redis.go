package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps each session as a Redis list of JSON messages. Every
// append refreshes the TTL.
type RedisStore struct {
	rdb         redisClient
	prefix      string
	ttl         time.Duration
	maxMessages int
	logger      *slog.Logger
}

func NewRedisStore(rdb redisClient, prefix string, ttl time.Duration, maxMessages int, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		maxMessages: maxMessages,
		logger:      logger.With("component", "sessions"),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id + ":messages"
}

func (s *RedisStore) History(ctx context.Context, id string) ([]orchestrator.ChatMessage, error) {
	key := s.key(id)

	rows, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []orchestrator.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("load history %s: %w", key, err)
	}

	msgs := make([]orchestrator.ChatMessage, 0, len(rows))
	for i, row := range rows {
		var m orchestrator.ChatMessage
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, msgs ...orchestrator.ChatMessage) error {
	kept := keep(msgs)
	if len(kept) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(kept))
	for _, m := range kept {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}

	key := s.key(id)
	if err := s.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("push history %s: %w", key, err)
	}

	if s.maxMessages > 0 {
		if err := s.rdb.LTrim(ctx, key, int64(-s.maxMessages), -1).Err(); err != nil {
			return fmt.Errorf("trim history %s: %w", key, err)
		}
	}

	if s.ttl > 0 {
		ok, err := s.rdb.Expire(ctx, key, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("expire history %s: %w", key, err)
		}
		if !ok {
			s.logger.Warn("failed to set TTL on session key", "key", key, "ttl", s.ttl)
		}
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, id string) error {
	key := s.key(id)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete history %s: %w", key, err)
	}
	return nil
}
