package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// NewMessageStore creates a new MessageStore based on the configuration
func NewMessageStore(config StoreConfig) (MessageStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryMessageStore(config), nil
	case StoreTypeRedis:
		return NewRedisMessageStore(config)
	default:
		return nil, fmt.Errorf("unsupported message store type: %s", config.Type)
	}
}

// NewExecutionStore creates a new ExecutionStore based on the configuration.
// db is only used, and then required, when Type is "sql".
func NewExecutionStore(ctx context.Context, config StoreConfig, db *gorm.DB) (ExecutionStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryExecutionStore(), nil
	case StoreTypeRedis:
		return NewRedisExecutionStore(config)
	case StoreTypeSQL:
		if db == nil {
			return nil, fmt.Errorf("%w: sql execution store requires a database connection", ErrInvalidInput)
		}
		return NewSQLExecutionStore(db), nil
	case StoreTypeMongo:
		return NewMongoExecutionStore(ctx, config.Mongo)
	default:
		return nil, fmt.Errorf("unsupported execution store type: %s", config.Type)
	}
}

// MustNewMessageStore creates a new MessageStore or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
// For runtime store creation, use NewMessageStore instead.
func MustNewMessageStore(config StoreConfig) MessageStore {
	store, err := NewMessageStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create message store: %v", err))
	}
	return store
}
