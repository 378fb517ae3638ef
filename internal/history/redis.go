package history

import (
	"context"
	"fmt"

	"github.com/dyluth/quill/pkg/message"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each workflow's history in a Redis list.
// Pattern: quill:{namespace}:history:{correlation_id}
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore creates a store on an existing client. The caller keeps
// ownership of rdb.
func NewRedisStore(rdb *redis.Client, namespace string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &RedisStore{rdb: rdb, namespace: namespace}, nil
}

// Append pushes msg onto the end of its correlation list.
func (s *RedisStore) Append(ctx context.Context, msg *message.Message) error {
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}

	key := message.HistoryKey(s.namespace, msg.CorrelationID)
	if err := s.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append history to Redis: %w", err)
	}
	return nil
}

// List reads the full correlation list in arrival order.
func (s *RedisStore) List(ctx context.Context, correlationID string) ([]*message.Message, error) {
	key := message.HistoryKey(s.namespace, correlationID)

	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	out := make([]*message.Message, 0, len(raw))
	for i, entry := range raw {
		msg, err := message.Unmarshal([]byte(entry))
		if err != nil {
			return nil, fmt.Errorf("history entry %d of %s: %w", i, correlationID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close does not close the shared client.
func (s *RedisStore) Close() error {
	return nil
}
