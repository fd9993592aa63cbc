package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryMessageStore 是 MessageStore 的内存实现，适合开发和测试，重启后数据丢失。
type MemoryMessageStore struct {
	messages   map[string]*Message // msgID -> Message
	recipients map[string][]string // recipient -> []msgID
	mu         sync.RWMutex
	closed     bool
	config     StoreConfig
	done       chan struct{}
}

// NewMemoryMessageStore 创建内存消息存储
func NewMemoryMessageStore(config StoreConfig) *MemoryMessageStore {
	store := &MemoryMessageStore{
		messages:   make(map[string]*Message),
		recipients: make(map[string][]string),
		config:     config,
		done:       make(chan struct{}),
	}

	// 启用后开始清理 goroutine
	if config.Cleanup.Enabled && config.Cleanup.Interval > 0 {
		go store.cleanupLoop(config.Cleanup.Interval)
	}

	return store
}

// Close 关闭存储
func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryMessageStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveMessage 保存一条消息
func (s *MemoryMessageStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// 未设置时生成 ID
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	cp := *msg
	if _, exists := s.messages[msg.ID]; !exists {
		s.recipients[msg.To] = append(s.recipients[msg.To], msg.ID)
	}
	s.messages[msg.ID] = &cp
	return nil
}

// GetMessage 按 ID 获取消息
func (s *MemoryMessageStore) GetMessage(ctx context.Context, msgID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	msg, ok := s.messages[msgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// ListMessages 按接收者列出消息（按写入顺序）
func (s *MemoryMessageStore) ListMessages(ctx context.Context, recipient string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := s.recipients[recipient]
	result := make([]*Message, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(result) >= limit {
			break
		}
		if msg, ok := s.messages[id]; ok {
			cp := *msg
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Cleanup 删除超过保留期的消息
func (s *MemoryMessageStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, msg := range s.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(s.messages, id)
			removed++
		}
	}

	if removed > 0 {
		for recipient, ids := range s.recipients {
			kept := ids[:0]
			for _, id := range ids {
				if _, ok := s.messages[id]; ok {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				delete(s.recipients, recipient)
			} else {
				s.recipients[recipient] = kept
			}
		}
	}
	return removed, nil
}

// Stats 返回存储统计
func (s *MemoryMessageStore) Stats(ctx context.Context) (*MessageStoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &MessageStoreStats{
		TotalMessages:   int64(len(s.messages)),
		RecipientCounts: make(map[string]int64, len(s.recipients)),
	}
	for recipient, ids := range s.recipients {
		stats.RecipientCounts[recipient] = int64(len(ids))
	}

	var oldest time.Time
	for _, msg := range s.messages {
		if oldest.IsZero() || msg.CreatedAt.Before(oldest) {
			oldest = msg.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats, nil
}

// cleanupLoop 定期清理过期消息
func (s *MemoryMessageStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), s.config.Cleanup.MessageRetention)
		}
	}
}
