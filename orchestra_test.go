package orchestra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/config"
	"github.com/BaSui01/orchestra/testutil"
	"github.com/BaSui01/orchestra/testutil/fixtures"
	"github.com/BaSui01/orchestra/testutil/mocks"
	"github.com/BaSui01/orchestra/workflow"
	"github.com/BaSui01/orchestra/workflow/dsl"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Registry.HealthCheckInterval = 0
	cfg.Store.CleanupEnabled = false
	return cfg
}

func upper(_ context.Context, task string, input map[string]any) (any, error) {
	if task == "fail" {
		return nil, errors.New("requested failure")
	}
	return task + "!", nil
}

type recordingObserver struct {
	mu          sync.Mutex
	submits     int
	probes      int
	dispatches  int
	executions  int
	stepsByKind map[workflow.StepKind]int
}

func (o *recordingObserver) ObserveSubmit(string, agent.TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits++
}

func (o *recordingObserver) ObserveStateChange(string, agent.State, agent.State) {}
func (o *recordingObserver) ObserveBreaker(string, bool)                        {}

func (o *recordingObserver) ObserveProbe(string, bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes++
}

func (o *recordingObserver) ObserveDispatch(collaboration.Message, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches++
}

func (o *recordingObserver) ObserveHandlerPanic(collaboration.Message) {}
func (o *recordingObserver) ObserveDropped(int)                        {}

func (o *recordingObserver) ObserveExecution(*workflow.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executions++
}

func (o *recordingObserver) ObserveStep(kind workflow.StepKind, _ bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stepsByKind == nil {
		o.stepsByKind = make(map[workflow.StepKind]int)
	}
	o.stepsByKind[kind]++
}

func (o *recordingObserver) dispatched() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatches
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Bus.BufferSize = 0

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.buffer_size")
}

func TestNew_SQLStoreRequiresDB(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Type = "sql"
	cfg.Database.Driver = "sqlite"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution store")
}

func TestRuntime_MemoryEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Bus.ArchiveEnabled = true
	obs := &recordingObserver{}

	rt, err := New(cfg, zap.NewNop(), WithObserver(obs))
	require.NoError(t, err)
	require.NotNil(t, rt.Messages())

	_, err = rt.RegisterAgent("upper", agent.LogicFunc(upper), "text")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() { _ = rt.Stop() })
	require.NoError(t, rt.Ping(ctx))

	def := workflow.NewDefinition("shout",
		&workflow.AgentStep{Name: "first", Agent: "upper", Task: "hi"},
		&workflow.ParallelStep{Name: "fan", Steps: []workflow.Step{
			&workflow.AgentStep{Name: "a", Agent: "upper", Task: "x"},
			&workflow.AgentStep{Name: "b", Agent: "upper", Task: "y"},
		}},
	)
	exec, err := rt.Execute(ctx, def, map[string]any{"user": "bob"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "hi!", exec.Results["first"])
	assert.Equal(t, "x!", exec.Results["a"])

	rec, err := rt.Executions().GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatusCompleted), rec.Status)

	// 进度消息异步归档
	require.Eventually(t, func() bool {
		msgs, err := rt.Messages().ListMessages(ctx, cfg.Workflow.ProgressRecipient, 100)
		return err == nil && len(msgs) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, obs.dispatched())

	obs.mu.Lock()
	assert.Equal(t, 3, obs.submits)
	assert.Equal(t, 1, obs.executions)
	assert.Equal(t, 3, obs.stepsByKind[workflow.KindAgent])
	assert.Equal(t, 1, obs.stepsByKind[workflow.KindParallel])
	obs.mu.Unlock()
}

func TestRuntime_NewAgentUsesConfiguredDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.Timeout = 3 * time.Second
	cfg.Agent.MaxRetries = 2
	cfg.Agent.FailureThreshold = 7

	rt, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	a, err := rt.NewAgent("worker", agent.LogicFunc(upper), "a", "b")
	require.NoError(t, err)

	id := a.Identity()
	assert.Equal(t, 3*time.Second, id.Timeout)
	assert.Equal(t, 2, id.MaxRetries)
	assert.Equal(t, 7, id.FailureThreshold)
	assert.Equal(t, []string{"a", "b"}, id.Capabilities)

	_, err = rt.Registry().Lookup("worker")
	assert.Error(t, err, "NewAgent does not register")
}

func TestRuntime_RegisterDuplicate(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	_, err = rt.RegisterAgent("dup", agent.LogicFunc(upper))
	require.NoError(t, err)
	_, err = rt.RegisterAgent("dup", agent.LogicFunc(upper))
	assert.Error(t, err)
}

func TestRuntime_StartStop(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.Start(ctx), "second Start is a no-op")

	require.NoError(t, rt.Stop())
	require.NoError(t, rt.Stop())
	assert.Error(t, rt.Start(ctx))
}

func TestRuntime_CleanupLoopStops(t *testing.T) {
	cfg := testConfig()
	cfg.Store.CleanupEnabled = true
	cfg.Store.CleanupInterval = 5 * time.Millisecond
	cfg.Store.ExecutionRetention = time.Nanosecond

	rt, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = rt.RegisterAgent("upper", agent.LogicFunc(upper))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))

	exec, err := rt.Execute(ctx, workflow.NewDefinition("once",
		&workflow.AgentStep{Agent: "upper", Task: "go"}), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := rt.Executions().GetExecution(ctx, exec.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "terminal execution should be cleaned up")

	done := make(chan struct{})
	go func() {
		_ = rt.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestRuntime_RedisStores(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Registry.MirrorToRedis = true
	cfg.Store.Type = "redis"
	cfg.Store.MessageType = "redis"
	cfg.Bus.ArchiveEnabled = true

	rt, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = rt.RegisterAgent("upper", agent.LogicFunc(upper))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.Ping(ctx))

	healthy, err := rt.Registry().ProbeOne(ctx, "upper")
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.True(t, mr.Exists(cfg.Redis.KeyPrefix+"health:upper"))

	exec, err := rt.Execute(ctx, workflow.NewDefinition("redis",
		&workflow.AgentStep{Agent: "upper", Task: "r"}), nil)
	require.NoError(t, err)

	rec, err := rt.Executions().GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, rec.ID)

	// 进度消息异步归档
	require.Eventually(t, func() bool {
		stats := rt.Stats(ctx)
		return stats.Archive != nil && stats.Archive.TotalMessages > 0
	}, 2*time.Second, 10*time.Millisecond)
	stats := rt.Stats(ctx)
	assert.Empty(t, stats.Archive.Error)
	assert.Positive(t, stats.Archive.RecipientCounts["*"])
	require.NotNil(t, stats.Cache)
	assert.Empty(t, stats.Cache.Error)
	assert.Positive(t, stats.Cache.Keys)
	assert.Equal(t, 1, stats.Agents.Total)
	assert.True(t, stats.Bus.Running)

	require.NoError(t, rt.Stop())

	// 新实例从 Redis 恢复健康记录
	rt2, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt2.Stop() })
	_, err = rt2.RegisterAgent("upper", agent.LogicFunc(upper))
	require.NoError(t, err)

	assert.False(t, rt2.Registry().IsHealthy("upper"))
	require.NoError(t, rt2.Start(ctx))
	assert.True(t, rt2.Registry().IsHealthy("upper"))

	rec, err = rt2.Executions().GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "redis", rec.Workflow)
}

func TestRuntime_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Registry.MirrorToRedis = true

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestRuntime_Fixtures(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	logic := mocks.NewMockLogic()
	_, err = rt.RegisterAgent("echo", logic)
	require.NoError(t, err)

	ctx := testutil.TestContext(t)
	require.NoError(t, rt.Start(ctx))

	exec, err := rt.Execute(ctx, fixtures.Pipeline("echo", "a", "b", "c"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "c", exec.Results["step-3"])

	exec, err = rt.Execute(ctx, fixtures.Gate("echo", "${score} > 50"), map[string]any{"score": 10})
	require.NoError(t, err)
	assert.Equal(t, "rejected", exec.Results["else"])
	assert.NotContains(t, exec.Results, "then")

	exec, err = rt.Execute(ctx, fixtures.FanOut("echo"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "left", exec.Results["left"])
	assert.Equal(t, "right", exec.Results["right"])

	assert.Equal(t, 3+1+3, logic.CallCount())
}

func TestRuntime_ReleaseDSL(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	logic := mocks.NewMockLogic()
	_, err = rt.RegisterAgent("echo", logic)
	require.NoError(t, err)

	def, initial, err := dsl.NewParser().Parse([]byte(fixtures.ReleaseYAML))
	require.NoError(t, err)
	initial["service"] = "billing"
	initial["replicas"] = 3

	ctx := testutil.TestContext(t)
	require.NoError(t, rt.Start(ctx))

	exec, err := rt.Execute(ctx, def, initial)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "releasing billing", exec.Results["announce"])
	assert.Equal(t, "wide", exec.Results["wide"])
	assert.Equal(t, "smoke", exec.Results["smoke"])
}

func TestRuntime_FailingAgentStopsPipeline(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	logic := mocks.NewMockLogic().WithFailAfter(1)
	_, err = rt.RegisterAgent("echo", logic)
	require.NoError(t, err)

	ctx := testutil.TestContext(t)
	require.NoError(t, rt.Start(ctx))

	exec, err := rt.Execute(ctx, fixtures.Pipeline("echo", "a", "b", "c"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, exec.Status)
	assert.Equal(t, 1, exec.FailedStep)
	assert.Equal(t, 2, logic.CallCount())
}

func TestRuntime_HealthLoopOutlivesStartContext(t *testing.T) {
	cfg := testConfig()
	cfg.Registry.HealthCheckInterval = 5 * time.Millisecond

	rt, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	logic := mocks.NewMockLogic()
	_, err = rt.RegisterAgent("echo", logic)
	require.NoError(t, err)

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rt.Start(startCtx))
	cancel()

	seen := logic.CallCount()
	testutil.AssertEventuallyTrue(t, func() bool { return logic.CallCount() >= seen+3 }, 2*time.Second)

	require.NoError(t, rt.Stop())
	stopped := logic.CallCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, logic.CallCount(), "health loop must end with Stop")
}

func TestRuntime_StatsWithoutOptionalBackends(t *testing.T) {
	rt, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	_, err = rt.RegisterAgent("upper", agent.LogicFunc(upper))
	require.NoError(t, err)
	require.NoError(t, rt.Start(t.Context()))
	t.Cleanup(func() { _ = rt.Stop() })

	stats := rt.Stats(t.Context())
	assert.Nil(t, stats.Archive)
	assert.Nil(t, stats.Cache)
	assert.Equal(t, 1, stats.Agents.Total)
	assert.Zero(t, stats.Workflows.Active)
}
