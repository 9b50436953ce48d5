// Package store is the durable per-game key-value storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store keeps string fields scoped to one game id.
type Store interface {
	Get(ctx context.Context, gameID, key string) (string, bool, error)
	GetAll(ctx context.Context, gameID string) (map[string]string, error)
	Put(ctx context.Context, gameID, key, value string) error
	// PutAll은 전부 쓰거나 하나도 쓰지 않는다.
	PutAll(ctx context.Context, gameID string, fields map[string]string) error
}

// Field names used by game sessions.
const (
	FieldHistory        = "history"
	FieldStatus         = "status"
	FieldPlayer1        = "player1"
	FieldPlayer2        = "player2"
	FieldContractGameID = "contract_game_id"
	FieldCreatedAt      = "created_at"
	FieldAttestPlayer1  = "attest:player1"
	FieldAttestPlayer2  = "attest:player2"
)

// RedisStore keeps each game in one hash.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// Connect parses redisURL, dials, and pings.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func gameKey(id string) string { return "game:" + strings.TrimSpace(id) }

func (s *RedisStore) Get(ctx context.Context, gameID, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, gameKey(gameID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) GetAll(ctx context.Context, gameID string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, gameKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	return m, nil
}

func (s *RedisStore) Put(ctx context.Context, gameID, key, value string) error {
	if err := s.rdb.HSet(ctx, gameKey(gameID), key, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutAll(ctx context.Context, gameID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.rdb.HSet(ctx, gameKey(gameID), args...).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}
