package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExecutionStore is a Redis-based implementation of ExecutionStore.
// Records are JSON values; a sorted set scored by start time orders them.
type RedisExecutionStore struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// NewRedisExecutionStore creates a new Redis-based execution store
func NewRedisExecutionStore(config StoreConfig) (*RedisExecutionStore, error) {
	client, err := newRedisClient(config.Redis)
	if err != nil {
		return nil, err
	}
	store := NewRedisExecutionStoreWithClient(client, redisKeyPrefix(config.Redis))
	store.ownClient = true
	return store, nil
}

// NewRedisExecutionStoreWithClient creates a store on an existing client.
func NewRedisExecutionStoreWithClient(client *redis.Client, keyPrefix string) *RedisExecutionStore {
	return &RedisExecutionStore{
		client:    client,
		keyPrefix: keyPrefix + "exec:",
	}
}

// Close closes the store
func (s *RedisExecutionStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisExecutionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisExecutionStore) recordKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisExecutionStore) indexKey() string           { return s.keyPrefix + "index" }

// SaveExecution inserts or replaces a record
func (s *RedisExecutionStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// GetExecution retrieves a record by ID
func (s *RedisExecutionStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// ListExecutions returns records matching the filter, newest first
func (s *RedisExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	limit := filter.limit()
	result := make([]*ExecutionRecord, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(result) >= limit {
			break
		}
		rec, err := s.GetExecution(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// DeleteExecution removes a record
func (s *RedisExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.recordKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes terminal records that ended before now-olderThan.
// Records started after the cutoff cannot have ended before it, so only
// the older part of the index is scanned.
func (s *RedisExecutionStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		rec, err := s.GetExecution(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if !rec.endedBefore(cutoff) {
			continue
		}
		if err := s.DeleteExecution(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
