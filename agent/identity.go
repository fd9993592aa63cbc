package agent

import (
	"fmt"
	"slices"
	"time"
)

// 默认执行参数
const (
	DefaultTimeout          = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultRetryBackoff     = 100 * time.Millisecond
)

// Identity 描述一个 Agent 的不可变身份与执行参数。
type Identity struct {
	Name             string        `json:"name" yaml:"name"`
	Capabilities     []string      `json:"capabilities,omitempty" yaml:"capabilities"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff     time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
}

// Validate 校验身份配置
func (id Identity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	}
	if id.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidIdentity)
	}
	if id.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidIdentity)
	}
	if id.FailureThreshold < 0 {
		return fmt.Errorf("%w: failure_threshold must not be negative", ErrInvalidIdentity)
	}
	return nil
}

// HasCapability reports whether the agent declares the given capability tag.
func (id Identity) HasCapability(capability string) bool {
	return slices.Contains(id.Capabilities, capability)
}

// withDefaults 填充零值参数，并复制切片保证不可变
func (id Identity) withDefaults() Identity {
	if id.Timeout == 0 {
		id.Timeout = DefaultTimeout
	}
	if id.FailureThreshold == 0 {
		id.FailureThreshold = DefaultFailureThreshold
	}
	if id.RetryBackoff <= 0 {
		id.RetryBackoff = DefaultRetryBackoff
	}
	id.Capabilities = slices.Clone(id.Capabilities)
	return id
}
