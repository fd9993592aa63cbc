package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/persistence"
	"github.com/BaSui01/orchestra/types"
	"github.com/BaSui01/orchestra/workflow/expr"
)

const instrumentationName = "github.com/BaSui01/orchestra/workflow"

const (
	// DefaultRetention 终态执行在内存中保留的时长
	DefaultRetention = 10 * time.Minute

	// ProgressSender 进度消息的发送方
	ProgressSender = "workflow-engine"

	persistTimeout = 5 * time.Second
	publishTimeout = time.Second
)

// AgentLookup 引擎对注册表的最小依赖
type AgentLookup interface {
	Lookup(name string) (*agent.Agent, error)
	IsHealthy(name string) bool
}

// Publisher 进度消息的发布端
type Publisher interface {
	Publish(ctx context.Context, msg collaboration.Message) error
}

// Observer 接收执行与步骤事件（指标采集用）
type Observer interface {
	ObserveExecution(exec *Execution)
	ObserveStep(kind StepKind, success bool, d time.Duration)
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithPublisher 每个步骤开始和执行结束时向 recipient 发布进度消息
func WithPublisher(p Publisher, recipient string) EngineOption {
	return func(e *Engine) {
		e.publisher = p
		e.progressKey = recipient
	}
}

// WithStore 持久化执行记录
func WithStore(s persistence.ExecutionStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithRetention 设置终态执行的内存保留时长，0 表示不保留
func WithRetention(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.retention = d
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// run 一次进行中的执行
type run struct {
	mu   sync.RWMutex
	exec *Execution

	cancelRequested atomic.Bool
}

type retained struct {
	exec    *Execution
	retired time.Time
}

// Engine 工作流执行引擎。
// 每次 Execute 独占自己的 Execution，仅 ParallelStep 内部存在并发。
type Engine struct {
	registry    AgentLookup
	logger      *zap.Logger
	publisher   Publisher
	progressKey string
	store       persistence.ExecutionStore
	retention   time.Duration
	observer    Observer
	tracer      trace.Tracer

	mu       sync.RWMutex
	active   map[string]*run
	finished map[string]retained
}

// NewEngine 创建引擎
func NewEngine(registry AgentLookup, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry:    registry,
		logger:      logger.With(zap.String("component", "workflow_engine")),
		progressKey: collaboration.Broadcast,
		retention:   DefaultRetention,
		tracer:      otel.Tracer(instrumentationName),
		active:      make(map[string]*run),
		finished:    make(map[string]retained),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 同步执行工作流，返回终态执行的快照。
// 步骤失败体现在返回的 Execution 中，error 仅用于定义无效。
func (e *Engine) Execute(ctx context.Context, def *Definition, initial map[string]any) (*Execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r := e.begin(def, initial)
	return e.run(ctx, def, r), nil
}

// Start 异步执行工作流，立即返回执行 ID；done 在执行进入终态后收到快照。
func (e *Engine) Start(ctx context.Context, def *Definition, initial map[string]any) (string, <-chan *Execution, error) {
	if err := def.Validate(); err != nil {
		return "", nil, err
	}

	r := e.begin(def, initial)
	done := make(chan *Execution, 1)
	go func() {
		done <- e.run(ctx, def, r)
	}()
	return r.exec.ID, done, nil
}

func (e *Engine) run(ctx context.Context, def *Definition, r *run) *Execution {
	id := r.exec.ID

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.name", def.Name),
		attribute.String("workflow.execution_id", id),
		attribute.Int("workflow.steps", len(def.Steps)),
	))
	defer span.End()

	logger := e.logger.With(zap.String("workflow", def.Name), zap.String("execution_id", id))
	logger.Info("workflow execution started", zap.Int("steps", len(def.Steps)))
	e.persist(ctx, r.snapshot())

	for i, step := range def.Steps {
		name := topLevelName(step, i)
		r.setCurrent(i)

		if reason := e.cancelReason(ctx, r); reason != "" {
			logger.Info("workflow execution cancelled", zap.String("before_step", name), zap.String("reason", reason))
			r.terminate(StatusCancelled, -1, StepError{Step: name, Index: i, Code: types.ErrCancelled, Message: reason})
			break
		}
		e.publishProgress(ctx, r.snapshot(), name)

		out := e.runStep(ctx, r, step, name, i, r.contextSnapshot())
		if out.ok {
			continue
		}

		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
		logger.Warn("workflow step failed",
			zap.String("step", name),
			zap.Int("index", i),
			zap.String("status", string(status)),
			zap.Int("errors", len(out.errs)),
		)
		r.terminate(status, i, out.errs...)
		break
	}
	r.complete()

	snap := r.snapshot()
	e.retire(snap)
	e.persist(ctx, snap)
	e.publishProgress(ctx, snap, "")
	if e.observer != nil {
		e.observer.ObserveExecution(snap)
	}

	span.SetAttributes(attribute.String("workflow.status", string(snap.Status)))
	if snap.Status != StatusCompleted {
		span.SetStatus(codes.Error, string(snap.Status))
	}
	logger.Info("workflow execution finished",
		zap.String("status", string(snap.Status)),
		zap.Duration("duration", snap.Duration()),
	)
	return snap
}

func (e *Engine) begin(def *Definition, initial map[string]any) *run {
	vars := maps.Clone(initial)
	if vars == nil {
		vars = make(map[string]any)
	}
	exec := &Execution{
		ID:         uuid.New().String(),
		Workflow:   def.Name,
		Status:     StatusPending,
		Results:    make(map[string]any),
		TotalSteps: len(def.Steps),
		FailedStep: -1,
		Context:    vars,
	}
	r := &run{exec: exec}
	r.setStatus(StatusRunning)
	exec.StartedAt = time.Now()

	e.mu.Lock()
	e.active[exec.ID] = r
	e.mu.Unlock()
	return r
}

func (e *Engine) cancelReason(ctx context.Context, r *run) string {
	if r.cancelRequested.Load() {
		return "cancelled by request"
	}
	if err := ctx.Err(); err != nil {
		return "context: " + err.Error()
	}
	return ""
}

type stepOutcome struct {
	ok     bool
	output any
	errs   []StepError
}

func failed(name string, index int, code types.ErrorCode, msg string) stepOutcome {
	return stepOutcome{errs: []StepError{{Step: name, Index: index, Code: code, Message: msg}}}
}

// runStep 分派一个步骤，成功时按名称记录结果并写回运行上下文
func (e *Engine) runStep(ctx context.Context, r *run, step Step, name string, index int, input map[string]any) stepOutcome {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.name", name),
		attribute.String("step.kind", string(step.Kind())),
		attribute.Int("step.index", index),
	))
	defer span.End()

	var out stepOutcome
	switch s := step.(type) {
	case *AgentStep:
		out = e.runAgent(ctx, s, name, index, input)
	case *ConditionStep:
		out = e.runCondition(ctx, r, s, name, index, input)
	case *ParallelStep:
		out = e.runParallel(ctx, r, s, name, index, input)
	default:
		out = failed(name, index, types.ErrInvalidDefinition, fmt.Sprintf("unsupported step type %T", step))
	}

	if out.ok {
		r.record(name, out.output)
	} else {
		span.SetStatus(codes.Error, "step failed")
	}
	if e.observer != nil {
		e.observer.ObserveStep(step.Kind(), out.ok, time.Since(start))
	}
	return out
}

func (e *Engine) runAgent(ctx context.Context, s *AgentStep, name string, index int, input map[string]any) stepOutcome {
	task := expr.Substitute(s.Task, input)
	merged := maps.Clone(input)
	if merged == nil {
		merged = make(map[string]any, len(s.Context))
	}
	for k, v := range s.Context {
		merged[k] = expr.SubstituteValue(v, input)
	}

	a, err := e.registry.Lookup(s.Agent)
	if err != nil {
		return failed(name, index, types.ErrAgentNotFound, err.Error())
	}
	if s.RequireHealthy && !e.registry.IsHealthy(s.Agent) {
		return failed(name, index, types.ErrAgentUnhealthy, fmt.Sprintf("agent %s is not healthy", s.Agent))
	}

	res := a.Submit(ctx, task, merged)
	if !res.Success {
		code := agent.CodeOf(res.Err)
		if code == "" {
			code = types.ErrAgentFailed
		}
		return failed(name, index, code, res.Error)
	}
	return stepOutcome{ok: true, output: res.Output}
}

// runCondition 表达式求值出错按 false 处理；未配置对应分支时结果为布尔值本身
func (e *Engine) runCondition(ctx context.Context, r *run, s *ConditionStep, name string, index int, input map[string]any) stepOutcome {
	source := expr.Substitute(s.Expr, input)
	matched, err := expr.Evaluate(source, input)
	if err != nil {
		e.logger.Warn("condition evaluation failed, treating as false",
			zap.String("step", name),
			zap.String("expr", s.Expr),
			zap.String("substituted", source),
			zap.Error(err),
		)
		matched = false
	}

	branch, suffix := s.Else, "else"
	if matched {
		branch, suffix = s.Then, "then"
	}
	e.logger.Debug("condition evaluated",
		zap.String("step", name),
		zap.Bool("result", matched),
		zap.Bool("has_branch", branch != nil),
	)
	if branch == nil {
		return stepOutcome{ok: true, output: matched}
	}
	return e.runStep(ctx, r, branch, childName(branch, name, suffix), index, input)
}

// runParallel 等待全部子步骤结束后汇总，所有失败原因都会保留
func (e *Engine) runParallel(ctx context.Context, r *run, s *ParallelStep, name string, index int, input map[string]any) stepOutcome {
	outcomes := make([]stepOutcome, len(s.Steps))
	names := make([]string, len(s.Steps))

	var g errgroup.Group
	for j, sub := range s.Steps {
		names[j] = childName(sub, name, strconv.Itoa(j+1))
		g.Go(func() error {
			outcomes[j] = e.runStep(ctx, r, sub, names[j], index, input)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]SubResult, len(outcomes))
	var errs []StepError
	failures := 0
	for j, out := range outcomes {
		results[j] = SubResult{Step: names[j], Success: out.ok, Output: out.output}
		if !out.ok {
			failures++
			msgs := make([]string, 0, len(out.errs))
			for _, se := range out.errs {
				msgs = append(msgs, se.Message)
			}
			results[j].Error = strings.Join(msgs, "; ")
			errs = append(errs, out.errs...)
		}
	}

	if failures == 0 {
		return stepOutcome{ok: true, output: results}
	}

	r.record(name, results)
	errs = append(errs, StepError{
		Step:    name,
		Index:   index,
		Code:    types.ErrParallelFailed,
		Message: fmt.Sprintf("%d of %d sub-steps failed", failures, len(results)),
	})
	return stepOutcome{output: results, errs: errs}
}

// Cancel 请求取消执行，在下一个步骤开始前生效
func (e *Engine) Cancel(id string) error {
	e.mu.RLock()
	r, isActive := e.active[id]
	_, isFinished := e.finished[id]
	e.mu.RUnlock()

	switch {
	case isActive:
		r.mu.RLock()
		terminal := r.exec.Status.IsTerminal()
		r.mu.RUnlock()
		if terminal {
			return fmt.Errorf("%w: %s", ErrNotRunning, id)
		}
		r.cancelRequested.Store(true)
		e.logger.Info("workflow cancellation requested", zap.String("execution_id", id))
		return nil
	case isFinished:
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	default:
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
}

// GetProgress 返回完成百分比，同一执行的返回值单调不减。
// 超过保留期的执行与 Get 一样视为不存在。
func (e *Engine) GetProgress(id string) (float64, error) {
	e.mu.Lock()
	e.pruneLocked(time.Now())
	r, isActive := e.active[id]
	done, isFinished := e.finished[id]
	e.mu.Unlock()

	switch {
	case isActive:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.exec.Progress(), nil
	case isFinished:
		return done.exec.Progress(), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
}

// Get 依次在进行中、保留中和持久化存储中查找执行
func (e *Engine) Get(ctx context.Context, id string) (*Execution, error) {
	e.mu.Lock()
	e.pruneLocked(time.Now())
	r, isActive := e.active[id]
	done, isFinished := e.finished[id]
	e.mu.Unlock()

	if isActive {
		return r.snapshot(), nil
	}
	if isFinished {
		return done.exec.Snapshot(), nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	rec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	return FromRecord(rec), nil
}

// History 按过滤条件列出持久化的执行记录，最新的在前
func (e *Engine) History(ctx context.Context, filter persistence.ExecutionFilter) ([]*Execution, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	records, err := e.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]*Execution, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out, nil
}

// Delete 删除已结束的执行（保留索引与持久化存储中的副本）。
// 进行中的执行返回 ErrStillRunning。
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.active[id]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStillRunning, id)
	}
	_, retainedHere := e.finished[id]
	delete(e.finished, id)
	e.mu.Unlock()

	if e.store == nil {
		if retainedHere {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	err := e.store.DeleteExecution(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		if retainedHere {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	default:
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
}

// Active 返回进行中的执行 ID
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) retire(snap *Execution) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, snap.ID)
	if e.retention > 0 {
		e.finished[snap.ID] = retained{exec: snap, retired: now}
	}
	e.pruneLocked(now)
}

func (e *Engine) pruneLocked(now time.Time) {
	for id, done := range e.finished {
		if now.Sub(done.retired) > e.retention {
			delete(e.finished, id)
		}
	}
}

func (e *Engine) persist(ctx context.Context, snap *Execution) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.store.SaveExecution(ctx, snap.ToRecord()); err != nil {
		e.logger.Warn("failed to persist workflow execution",
			zap.String("execution_id", snap.ID),
			zap.String("status", string(snap.Status)),
			zap.Error(err),
		)
	}
}

func (e *Engine) publishProgress(ctx context.Context, snap *Execution, step string) {
	if e.publisher == nil {
		return
	}
	payload := map[string]any{
		"execution_id": snap.ID,
		"workflow":     snap.Workflow,
		"status":       string(snap.Status),
		"current_step": snap.CurrentStep,
		"total_steps":  snap.TotalSteps,
		"progress":     snap.Progress(),
	}
	if step != "" {
		payload["step"] = step
	}
	msg := collaboration.NewMessage(ProgressSender, e.progressKey, collaboration.MessageTypeProgress, payload).
		WithCorrelation(snap.ID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, msg); err != nil {
		e.logger.Debug("failed to publish workflow progress",
			zap.String("execution_id", snap.ID),
			zap.Error(err),
		)
	}
}

func (r *run) setStatus(to Status) bool {
	if !canTransition(r.exec.Status, to) {
		return false
	}
	r.exec.Status = to
	if to.IsTerminal() {
		now := time.Now()
		r.exec.EndedAt = &now
	}
	return true
}

func (r *run) setCurrent(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i > r.exec.CurrentStep {
		r.exec.CurrentStep = i
	}
}

func (r *run) record(name string, output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.Results[name] = output
	r.exec.Context[name] = output
}

func (r *run) terminate(status Status, failedStep int, errs ...StepError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setStatus(status) {
		r.exec.Errors = append(r.exec.Errors, errs...)
		r.exec.FailedStep = failedStep
	}
}

// complete 未失败也未取消时标记完成
func (r *run) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setStatus(StatusCompleted) {
		r.exec.CurrentStep = r.exec.TotalSteps
	}
}

func (r *run) contextSnapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.exec.Context)
}

func (r *run) snapshot() *Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exec.Snapshot()
}
