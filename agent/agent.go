package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/orchestra/agent"

// maxBackoffShift 限制指数退避的倍数
const maxBackoffShift = 10

// Logic 是外部领域逻辑的能力契约。
type Logic interface {
	Execute(ctx context.Context, task string, input map[string]any) (any, error)
}

// LogicFunc 函数适配器
type LogicFunc func(ctx context.Context, task string, input map[string]any) (any, error)

// Execute implements Logic.
func (f LogicFunc) Execute(ctx context.Context, task string, input map[string]any) (any, error) {
	return f(ctx, task, input)
}

// Pinger 可选接口：支持带外存活探测的逻辑实现。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Observer 接收 Agent 的运行事件（指标采集用）。
type Observer interface {
	ObserveSubmit(agent string, result TaskResult)
	ObserveStateChange(agent string, from, to State)
	ObserveBreaker(agent string, open bool)
}

// Option 配置 Agent
type Option func(*Agent)

// WithObserver 设置运行事件观察者
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) {
		if t != nil {
			a.tracer = t
		}
	}
}

// Agent 包装一段领域逻辑，并用独立的熔断器隔离其失败。
type Agent struct {
	identity Identity
	logic    Logic
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer

	mu              sync.RWMutex
	state           State
	inFlight        int
	failureCount    int       // 连续失败次数
	lastFailureTime time.Time // 最后失败时间
	breakerOpen     bool
}

type transition struct {
	from, to State
}

// New 创建 Agent，零值参数使用默认值。
func New(identity Identity, logic Logic, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if logic == nil {
		return nil, ErrNilLogic
	}
	identity = identity.withDefaults()
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Agent{
		identity: identity,
		logic:    logic,
		logger:   logger.With(zap.String("component", "agent"), zap.String("agent", identity.Name)),
		tracer:   otel.Tracer(instrumentationName),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.identity.Name }

// Identity returns a copy of the agent's identity.
func (a *Agent) Identity() Identity {
	id := a.identity
	id.Capabilities = append([]string(nil), a.identity.Capabilities...)
	return id
}

// Submit 执行一次任务。
// 熔断器打开时立即返回失败结果且不调用逻辑；否则在超时保护下调用逻辑，
// 最多尝试 1+MaxRetries 次，并在返回前完成失败记账。
func (a *Agent) Submit(ctx context.Context, task string, input map[string]any) TaskResult {
	start := time.Now()

	changes, err := a.beforeSubmit()
	if err != nil {
		res := TaskResult{
			Error:       err.Error(),
			Err:         err,
			Metadata:    map[string]any{"agent": a.identity.Name, "attempts": 0},
			CompletedAt: time.Now(),
		}
		a.observeSubmit(res)
		return res
	}
	a.observeStates(changes)

	ctx, span := a.tracer.Start(ctx, "agent.submit", trace.WithAttributes(
		attribute.String("agent.name", a.identity.Name),
		attribute.String("agent.task", task),
	))
	defer span.End()

	output, attempts, err := a.invokeWithRetry(ctx, task, input)

	res := TaskResult{
		Metadata:    map[string]any{"agent": a.identity.Name, "attempts": attempts},
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		res.Success = true
		res.Output = output
	}
	span.SetAttributes(attribute.Int("agent.attempts", attempts), attribute.Bool("agent.success", res.Success))

	changes, opened := a.afterSubmit(err == nil)
	a.observeStates(changes)
	if opened && a.observer != nil {
		a.observer.ObserveBreaker(a.identity.Name, true)
	}
	a.observeSubmit(res)
	return res
}

// invokeWithRetry 按重试预算调用逻辑，尝试之间指数退避
func (a *Agent) invokeWithRetry(ctx context.Context, task string, input map[string]any) (any, int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.identity.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.identity.RetryBackoff << min(attempt-1, maxBackoffShift)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempts, lastErr
			case <-timer.C:
			}
			a.logger.Debug("retrying agent invocation",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
		}

		attempts++
		output, err := a.invokeOnce(ctx, task, input)
		if err == nil {
			return output, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, attempts, lastErr
}

type callResult struct {
	output any
	err    error
}

// invokeOnce 在超时保护下执行一次逻辑，panic 转换为错误
func (a *Agent) invokeOnce(ctx context.Context, task string, input map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.identity.Timeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("agent logic panicked",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				resultCh <- callResult{err: fmt.Errorf("%w: %v", ErrLogicPanic, r)}
			}
		}()
		output, err := a.logic.Execute(callCtx, task, input)
		resultCh <- callResult{output: output, err: err}
	}()

	select {
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent invocation cancelled: %w", err)
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, a.identity.Timeout)
	case res := <-resultCh:
		return res.output, res.err
	}
}

// beforeSubmit 调用前检查熔断器，并进入 Processing
func (a *Agent) beforeSubmit() ([]transition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.breakerOpen {
		return nil, ErrBreakerOpen
	}

	a.inFlight++
	var changes []transition
	if a.state == StateCompleted || a.state == StateFailed {
		changes = a.transitionLocked(StateIdle, changes)
	}
	if a.state == StateIdle {
		changes = a.transitionLocked(StateProcessing, changes)
	}
	return changes, nil
}

// afterSubmit 调用后记账：成功清零计数，失败累加并在达到阈值时打开熔断器
func (a *Agent) afterSubmit(success bool) (changes []transition, opened bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight--
	if success {
		a.failureCount = 0
	} else {
		a.failureCount++
		a.lastFailureTime = time.Now()
		if !a.breakerOpen && a.failureCount >= a.identity.FailureThreshold {
			a.breakerOpen = true
			opened = true
			a.logger.Warn("熔断器打开",
				zap.Int("failure_count", a.failureCount),
				zap.Int("threshold", a.identity.FailureThreshold),
			)
		}
	}

	// 并发调用时，由最后一个完成的调用决定最终状态
	if a.inFlight == 0 {
		target := StateCompleted
		if !success {
			target = StateFailed
		}
		changes = a.transitionLocked(target, changes)
	}
	return changes, opened
}

func (a *Agent) transitionLocked(to State, changes []transition) []transition {
	if !CanTransition(a.state, to) {
		a.logger.Warn("ignoring invalid state transition",
			zap.Error(ErrInvalidTransition{From: a.state, To: to}),
		)
		return changes
	}
	changes = append(changes, transition{from: a.state, to: to})
	a.state = to
	return changes
}

// ResetBreaker 无条件清零失败计数并关闭熔断器
func (a *Agent) ResetBreaker() {
	a.mu.Lock()
	wasOpen := a.breakerOpen
	a.breakerOpen = false
	a.failureCount = 0
	a.mu.Unlock()

	a.logger.Info("熔断器已重置", zap.Bool("was_open", wasOpen))
	if wasOpen && a.observer != nil {
		a.observer.ObserveBreaker(a.identity.Name, false)
	}
}

// HealthSnapshot 返回运行时状态快照
func (a *Agent) HealthSnapshot() HealthSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return HealthSnapshot{
		Name:            a.identity.Name,
		State:           a.state,
		FailureCount:    a.failureCount,
		BreakerOpen:     a.breakerOpen,
		LastFailureTime: a.lastFailureTime,
	}
}

// BreakerOpen reports whether the breaker currently rejects calls.
func (a *Agent) BreakerOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.breakerOpen
}

// Ping 带外存活探测，不经过熔断器也不影响失败计数。
func (a *Agent) Ping(ctx context.Context) error {
	p, ok := a.logic.(Pinger)
	if !ok {
		return ErrPingUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, a.identity.Timeout)
	defer cancel()
	return p.Ping(ctx)
}

func (a *Agent) observeStates(changes []transition) {
	for _, c := range changes {
		a.logger.Debug("agent state changed",
			zap.String("from", string(c.from)),
			zap.String("to", string(c.to)),
		)
		if a.observer != nil {
			a.observer.ObserveStateChange(a.identity.Name, c.from, c.to)
		}
	}
}

func (a *Agent) observeSubmit(res TaskResult) {
	if a.observer != nil {
		a.observer.ObserveSubmit(a.identity.Name, res)
	}
}
