package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/workflow"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWith("test", reg, zap.NewNop()), reg
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/agents", 200, 100*time.Millisecond, 0, 512)
	c.RecordHTTPRequest("GET", "/api/v1/agents", 204, 50*time.Millisecond, 0, 0)
	c.RecordHTTPRequest("POST", "/api/v1/workflows", 503, 10*time.Millisecond, 256, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/agents", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/workflows", "5xx")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}

func TestCollector_ObserveSubmit(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveSubmit("echo", agent.TaskResult{Success: true, Duration: time.Millisecond, Metadata: map[string]any{"attempts": 1}})
	c.ObserveSubmit("echo", agent.TaskResult{Err: errors.New("boom"), Metadata: map[string]any{"attempts": 3}})
	c.ObserveSubmit("echo", agent.TaskResult{Err: agent.ErrBreakerOpen, Metadata: map[string]any{"attempts": 0}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentSubmissionsTotal.WithLabelValues("echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentSubmissionsTotal.WithLabelValues("echo", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentSubmissionsTotal.WithLabelValues("echo", "rejected")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.agentAttemptsTotal.WithLabelValues("echo")))
}

func TestCollector_ObserveBreakerAndStates(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveStateChange("echo", agent.StateIdle, agent.StateProcessing)
	c.ObserveBreaker("echo", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentBreakerOpen.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentBreakerTripsTotal.WithLabelValues("echo")))

	c.ObserveBreaker("echo", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.agentBreakerOpen.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentBreakerTripsTotal.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentStateTransitions.WithLabelValues("echo", "idle", "processing")))
}

func TestCollector_ObserveProbe(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveProbe("echo", true, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentHealthy.WithLabelValues("echo")))

	c.ObserveProbe("echo", false, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.agentHealthy.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.healthProbesTotal.WithLabelValues("echo", "unhealthy")))
}

func TestCollector_BusObserver(t *testing.T) {
	c, _ := newTestCollector(t)
	msg := collaboration.NewMessage("a", "b", collaboration.MessageTypeTask, nil)

	c.ObserveDispatch(msg, 3)
	c.ObserveHandlerPanic(msg)
	c.ObserveDropped(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.busDispatchedTotal.WithLabelValues("task")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.busDeliveriesTotal.WithLabelValues("task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.busPanicsTotal.WithLabelValues("task")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.busDroppedTotal))
}

func TestCollector_WorkflowObserver(t *testing.T) {
	c, _ := newTestCollector(t)
	start := time.Now().Add(-time.Second)
	end := time.Now()

	c.ObserveExecution(&workflow.Execution{Workflow: "onboard", Status: workflow.StatusCompleted, StartedAt: start, EndedAt: &end})
	c.ObserveStep(workflow.KindAgent, true, time.Millisecond)
	c.ObserveStep(workflow.KindParallel, false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowExecutionsTotal.WithLabelValues("onboard", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowStepsTotal.WithLabelValues("agent", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowStepsTotal.WithLabelValues("parallel", "failure")))
}

func TestCollector_GaugeFuncs(t *testing.T) {
	c, reg := newTestCollector(t)
	depth, active := 7, 2

	c.RegisterQueueDepth(func() int { return depth })
	c.RegisterActiveExecutions(func() int { return active })

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		if f.GetType().String() == "GAUGE" && len(f.GetMetric()) == 1 {
			values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 7.0, values["test_bus_queue_depth"])
	assert.Equal(t, 2.0, values["test_workflow_active_executions"])
}

func TestCollector_RecordDB(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordDBConnections("postgres", 10, 4)
	c.RecordDBQuery("postgres", "insert", 2*time.Millisecond)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dbQueryDuration))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 0)
			c.ObserveProbe("echo", true, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.healthProbesTotal.WithLabelValues("echo", "healthy")))
}
