package persistence

import (
	"context"
	"time"
)

// MessageStore archives bus traffic. It is an audit trail, not a delivery
// queue: nothing is redelivered from it.
type MessageStore interface {
	Store

	// SaveMessage persists a single message to the store
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID
	GetMessage(ctx context.Context, msgID string) (*Message, error)

	// ListMessages returns up to limit messages addressed to recipient, oldest first
	ListMessages(ctx context.Context, recipient string, limit int) ([]*Message, error)

	// Cleanup removes messages older than the given age
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns statistics about the message store
	Stats(ctx context.Context) (*MessageStoreStats, error)
}

// Message is the archived form of a bus message
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// From is the sender identity
	From string `json:"from"`

	// To is the recipient key ("*" for broadcast)
	To string `json:"to"`

	// Type is the message type tag
	Type string `json:"type"`

	// Payload contains the structured message body
	Payload map[string]any `json:"payload,omitempty"`

	// Priority is carried as metadata
	Priority int `json:"priority"`

	// CorrelationID links the message to its causing request
	CorrelationID string `json:"correlation_id,omitempty"`

	// CreatedAt is when the message was created
	CreatedAt time.Time `json:"created_at"`
}

// MessageStoreStats contains statistics about the message store
type MessageStoreStats struct {
	// TotalMessages is the total number of messages in the store
	TotalMessages int64 `json:"total_messages"`

	// RecipientCounts is the message count per recipient
	RecipientCounts map[string]int64 `json:"recipient_counts"`

	// OldestAge is the age of the oldest archived message
	OldestAge time.Duration `json:"oldest_age"`
}
