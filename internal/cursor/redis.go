package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "msgrelay:cursor"

// RedisStore keeps the cursor as a JSON string under one key. A single SET
// replaces the value atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the redis key holding the cursor.
func (s *RedisStore) Key() string {
	return s.key
}

// Load returns the stored state, or the zero state when the key is absent.
func (s *RedisStore) Load(ctx context.Context) (model.CursorState, error) {
	var state model.CursorState
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("cursor: redis get %s: %w", s.key, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("cursor: parse redis value: %w", err)
	}
	return state, nil
}

// Save overwrites the stored state.
func (s *RedisStore) Save(ctx context.Context, state model.CursorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cursor: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("cursor: redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
