package collaboration

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/orchestra/agent/persistence"
)

// Broadcast 广播接收者键
const Broadcast = "*"

// MessageType 消息类型
type MessageType string

const (
	MessageTypeTask     MessageType = "task"
	MessageTypeResult   MessageType = "result"
	MessageTypeProgress MessageType = "progress"
	MessageTypeStatus   MessageType = "status"
	MessageTypeNotice   MessageType = "notice"
)

// Message 总线消息，发布后不再修改
type Message struct {
	ID            string         `json:"id"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Type          MessageType    `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      int            `json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewMessage 创建带 ID 与时间戳的消息
func NewMessage(from, to string, msgType MessageType, payload map[string]any) Message {
	return Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// WithCorrelation 返回带关联 ID 的副本
func (m Message) WithCorrelation(id string) Message {
	m.CorrelationID = id
	return m
}

// WithPriority 返回带优先级的副本
func (m Message) WithPriority(p int) Message {
	m.Priority = p
	return m
}

// IsBroadcast 是否为广播消息
func (m Message) IsBroadcast() bool {
	return m.To == Broadcast
}

// ToRecord 转换为持久化归档格式
func (m Message) ToRecord() *persistence.Message {
	return &persistence.Message{
		ID:            m.ID,
		From:          m.From,
		To:            m.To,
		Type:          string(m.Type),
		Payload:       maps.Clone(m.Payload),
		Priority:      m.Priority,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
	}
}
