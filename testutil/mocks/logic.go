// Package mocks 提供 Agent 业务逻辑的测试模拟实现。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockFailure 由 WithFailAfter 注入的默认错误
var ErrMockFailure = errors.New("mock logic failure")

// MockLogicCall 记录单次调用
type MockLogicCall struct {
	Task   string
	Input  map[string]any
	Output any
	Error  error
}

// MockLogic 可脚本化的 agent.Logic / agent.Pinger 实现
type MockLogic struct {
	mu sync.Mutex

	response any
	echo     bool
	err      error
	pingErr  error
	delay    time.Duration
	// 前 failAfter 次调用成功，之后全部失败；0 表示不启用
	failAfter int
	fn        func(ctx context.Context, task string, input map[string]any) (any, error)

	calls []MockLogicCall
	pings int
}

// NewMockLogic 创建默认回显任务文本的 MockLogic
func NewMockLogic() *MockLogic {
	return &MockLogic{echo: true}
}

// WithResponse 设置固定响应
func (m *MockLogic) WithResponse(v any) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = v
	m.echo = false
	return m
}

// WithError 设置每次调用返回的错误
func (m *MockLogic) WithError(err error) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置调用延迟，延迟期间响应上下文取消
func (m *MockLogic) WithDelay(d time.Duration) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 前 n 次调用成功，之后返回 ErrMockFailure
func (m *MockLogic) WithFailAfter(n int) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithPingError 设置 Ping 返回的错误
func (m *MockLogic) WithPingError(err error) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// WithFunc 完全自定义执行逻辑，优先级最高
func (m *MockLogic) WithFunc(fn func(ctx context.Context, task string, input map[string]any) (any, error)) *MockLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Execute implements agent.Logic.
func (m *MockLogic) Execute(ctx context.Context, task string, input map[string]any) (any, error) {
	m.mu.Lock()
	delay, fn := m.delay, m.fn
	n := len(m.calls)
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.record(MockLogicCall{Task: task, Input: input, Error: ctx.Err()})
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var (
		out any
		err error
	)
	switch {
	case fn != nil:
		out, err = fn(ctx, task, input)
	default:
		m.mu.Lock()
		switch {
		case m.err != nil:
			err = m.err
		case m.failAfter > 0 && n >= m.failAfter:
			err = ErrMockFailure
		case m.echo:
			out = task
		default:
			out = m.response
		}
		m.mu.Unlock()
	}

	m.record(MockLogicCall{Task: task, Input: input, Output: out, Error: err})
	return out, err
}

// Ping implements agent.Pinger.
func (m *MockLogic) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *MockLogic) record(c MockLogicCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls 返回调用记录副本
func (m *MockLogic) Calls() []MockLogicCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockLogicCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockLogic) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// PingCount 返回 Ping 次数
func (m *MockLogic) PingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// LastCall 返回最近一次调用
func (m *MockLogic) LastCall() (MockLogicCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockLogicCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockLogic) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.pings = 0
}
