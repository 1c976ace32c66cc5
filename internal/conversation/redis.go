package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for session turn lists.
const sessionKeyPrefix = "soraka:session:"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each session as a Redis list of JSON-encoded turns.
// RPUSH keeps appends ordered; the key TTL is refreshed on every append.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore parses url (redis://host:port/db), pings the server and
// returns a store with the given session TTL.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	val, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encoding turn: %w", err)
	}

	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending turn to %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	vals, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("decoding turn in %s: %w", sessionID, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
