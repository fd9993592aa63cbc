package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMessageStore is a Redis-based implementation of MessageStore.
// Message bodies are plain keys, per-recipient order is a list and a sorted
// set indexes creation time for cleanup.
type RedisMessageStore struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// NewRedisMessageStore creates a new Redis-based message store
func NewRedisMessageStore(config StoreConfig) (*RedisMessageStore, error) {
	client, err := newRedisClient(config.Redis)
	if err != nil {
		return nil, err
	}
	store := NewRedisMessageStoreWithClient(client, redisKeyPrefix(config.Redis))
	store.ownClient = true
	return store, nil
}

// NewRedisMessageStoreWithClient creates a store on an existing client.
// Close does not close a client passed in this way.
func NewRedisMessageStoreWithClient(client *redis.Client, keyPrefix string) *RedisMessageStore {
	return &RedisMessageStore{
		client:    client,
		keyPrefix: keyPrefix + "msg:",
	}
}

// Close closes the store
func (s *RedisMessageStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// messageKey returns the Redis key for a message
func (s *RedisMessageStore) messageKey(msgID string) string {
	return s.keyPrefix + "data:" + msgID
}

// recipientKey returns the Redis key for a recipient's message list
func (s *RedisMessageStore) recipientKey(recipient string) string {
	return s.keyPrefix + "to:" + recipient
}

func (s *RedisMessageStore) indexKey() string      { return s.keyPrefix + "index" }
func (s *RedisMessageStore) recipientsKey() string { return s.keyPrefix + "recipients" }

// SaveMessage persists a single message
func (s *RedisMessageStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrInvalidInput
	}

	// Generate ID if not set
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.messageKey(msg.ID), data, 0)
	pipe.RPush(ctx, s.recipientKey(msg.To), msg.ID)
	pipe.SAdd(ctx, s.recipientsKey(), msg.To)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(msg.CreatedAt.UnixNano()),
		Member: msg.ID,
	})

	_, err = pipe.Exec(ctx)
	return err
}

// GetMessage retrieves a message by ID
func (s *RedisMessageStore) GetMessage(ctx context.Context, msgID string) (*Message, error) {
	data, err := s.client.Get(ctx, s.messageKey(msgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages retrieves messages for a recipient, oldest first
func (s *RedisMessageStore) ListMessages(ctx context.Context, recipient string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	msgIDs, err := s.client.LRange(ctx, s.recipientKey(recipient), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMessages(ctx, msgIDs)
}

func (s *RedisMessageStore) loadMessages(ctx context.Context, msgIDs []string) ([]*Message, error) {
	if len(msgIDs) == 0 {
		return []*Message{}, nil
	}

	keys := make([]string, len(msgIDs))
	for i, id := range msgIDs {
		keys[i] = s.messageKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // cleaned up between LRANGE and MGET
		}
		var msg Message
		if err := json.Unmarshal([]byte(str), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Cleanup removes messages older than the given age
func (s *RedisMessageStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	msgIDs, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	messages, err := s.loadMessages(ctx, msgIDs)
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	for _, msg := range messages {
		pipe.LRem(ctx, s.recipientKey(msg.To), 0, msg.ID)
	}
	for _, id := range msgIDs {
		pipe.Del(ctx, s.messageKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(msgIDs), nil
}

// Stats returns statistics about the message store
func (s *RedisMessageStore) Stats(ctx context.Context) (*MessageStoreStats, error) {
	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	stats := &MessageStoreStats{
		TotalMessages:   total,
		RecipientCounts: make(map[string]int64),
	}

	recipients, err := s.client.SMembers(ctx, s.recipientsKey()).Result()
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		n, err := s.client.LLen(ctx, s.recipientKey(r)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			stats.RecipientCounts[r] = n
		}
	}

	oldest, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(oldest) > 0 {
		stats.OldestAge = time.Since(time.Unix(0, int64(oldest[0].Score)))
	}
	return stats, nil
}
