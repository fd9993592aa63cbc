package agent

import (
	"errors"
	"time"
)

// TaskResult 是每次调用的返回值，构造后不再修改。
type TaskResult struct {
	Success     bool           `json:"success"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Err         error          `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Duration    time.Duration  `json:"duration"`
	CompletedAt time.Time      `json:"completed_at"`
}

// BreakerOpen reports whether the call was rejected by an open breaker.
func (r TaskResult) BreakerOpen() bool {
	return errors.Is(r.Err, ErrBreakerOpen)
}

// HealthSnapshot 运行时状态的只读快照
type HealthSnapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	BreakerOpen     bool      `json:"breaker_open"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}
