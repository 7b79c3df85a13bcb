package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"mailmind/core/port/out"
)

const (
	entryKeyPrefix = "mailmind:entry:"
	indexKey       = "mailmind:index"
)

// RedisStore persists entries as individual keys and mirrors every entry in
// a single index hash. Writes that touch both namespaces go through a
// transactional pipeline so the index never drifts from the entries.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(messageID string) string {
	return entryKeyPrefix + messageID
}

func (s *RedisStore) Entry(ctx context.Context, messageID string) ([]byte, error) {
	data, err := s.client.Get(ctx, entryKey(messageID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", messageID, err)
	}
	return data, nil
}

func (s *RedisStore) PutEntry(ctx context.Context, messageID string, data []byte, idx out.IndexEntry) error {
	field, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(messageID), data, 0)
	pipe.HSet(ctx, indexKey, messageID, field)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", messageID, err)
	}
	return nil
}

func (s *RedisStore) PutIndexOnly(ctx context.Context, messageID string, idx out.IndexEntry) error {
	field, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(messageID))
	pipe.HSet(ctx, indexKey, messageID, field)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put index %s: %w", messageID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, messageID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(messageID))
	pipe.HDel(ctx, indexKey, messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete %s: %w", messageID, err)
	}
	return nil
}

func (s *RedisStore) Index(ctx context.Context) (map[string]out.IndexEntry, error) {
	fields, err := s.client.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index scan: %w", err)
	}

	index := make(map[string]out.IndexEntry, len(fields))
	for messageID, raw := range fields {
		var idx out.IndexEntry
		if err := json.Unmarshal([]byte(raw), &idx); err != nil {
			// Unreadable index records are skipped rather than failing
			// the whole scan. Cleanup will eventually rewrite them.
			continue
		}
		index[messageID] = idx
	}
	return index, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.HKeys(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, messageID := range ids {
		pipe.Del(ctx, entryKey(messageID))
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
