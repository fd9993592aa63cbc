package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryExecutionStore 是 ExecutionStore 的内存实现
type MemoryExecutionStore struct {
	records map[string][]byte // id -> JSON 快照，避免调用方修改共享 map
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryExecutionStore 创建内存执行记录存储
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{records: make(map[string][]byte)}
}

// Close 关闭存储
func (s *MemoryExecutionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryExecutionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveExecution 写入或覆盖执行记录
func (s *MemoryExecutionStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.records[rec.ID] = data
	return nil
}

// GetExecution 按 ID 读取执行记录
func (s *MemoryExecutionStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

// ListExecutions 按过滤条件列出执行记录，新的在前
func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []*ExecutionRecord
	for _, data := range s.records {
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}

	sortNewestFirst(result)
	if len(result) > filter.limit() {
		result = result[:filter.limit()]
	}
	return result, nil
}

// DeleteExecution 删除执行记录
func (s *MemoryExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Cleanup 删除已结束且超过保留期的记录
func (s *MemoryExecutionStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, data := range s.records {
		rec, err := decodeRecord(data)
		if err != nil {
			return removed, err
		}
		if rec.endedBefore(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func decodeRecord(data []byte) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &rec, nil
}
