package metrics

import (
	"time"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/discovery"
	"github.com/BaSui01/orchestra/workflow"
)

var (
	_ agent.Observer         = (*Collector)(nil)
	_ discovery.Observer     = (*Collector)(nil)
	_ collaboration.Observer = (*Collector)(nil)
	_ workflow.Observer      = (*Collector)(nil)
)

// =============================================================================
// 🎭 Agent
// =============================================================================

// ObserveSubmit 记录一次任务提交
func (c *Collector) ObserveSubmit(name string, result agent.TaskResult) {
	status := "success"
	switch {
	case result.BreakerOpen():
		status = "rejected"
	case !result.Success:
		status = "failure"
	}
	c.agentSubmissionsTotal.WithLabelValues(name, status).Inc()
	if status == "rejected" {
		return
	}
	c.agentSubmitDuration.WithLabelValues(name).Observe(result.Duration.Seconds())
	if attempts, ok := result.Metadata["attempts"].(int); ok && attempts > 0 {
		c.agentAttemptsTotal.WithLabelValues(name).Add(float64(attempts))
	}
}

// ObserveStateChange 记录状态转换
func (c *Collector) ObserveStateChange(name string, from, to agent.State) {
	c.agentStateTransitions.WithLabelValues(name, string(from), string(to)).Inc()
}

// ObserveBreaker 记录熔断器开合
func (c *Collector) ObserveBreaker(name string, open bool) {
	c.agentBreakerOpen.WithLabelValues(name).Set(boolGauge(open))
	if open {
		c.agentBreakerTripsTotal.WithLabelValues(name).Inc()
	}
}

// =============================================================================
// 🏥 Registry
// =============================================================================

// ObserveProbe 记录一次健康探测
func (c *Collector) ObserveProbe(name string, healthy bool, latency time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	c.healthProbesTotal.WithLabelValues(name, result).Inc()
	c.healthProbeDuration.WithLabelValues(name).Observe(latency.Seconds())
	c.agentHealthy.WithLabelValues(name).Set(boolGauge(healthy))
}

// =============================================================================
// 📨 Bus
// =============================================================================

// ObserveDispatch 记录一次分发
func (c *Collector) ObserveDispatch(msg collaboration.Message, handlers int) {
	typ := string(msg.Type)
	c.busDispatchedTotal.WithLabelValues(typ).Inc()
	c.busDeliveriesTotal.WithLabelValues(typ).Add(float64(handlers))
}

// ObserveHandlerPanic 记录处理器 panic
func (c *Collector) ObserveHandlerPanic(msg collaboration.Message) {
	c.busPanicsTotal.WithLabelValues(string(msg.Type)).Inc()
}

// ObserveDropped 记录停止时丢弃的消息
func (c *Collector) ObserveDropped(n int) {
	c.busDroppedTotal.Add(float64(n))
}

// =============================================================================
// 🔀 Workflow
// =============================================================================

// ObserveExecution 记录一次结束的执行
func (c *Collector) ObserveExecution(exec *workflow.Execution) {
	c.workflowExecutionsTotal.WithLabelValues(exec.Workflow, string(exec.Status)).Inc()
	c.workflowDuration.WithLabelValues(exec.Workflow).Observe(exec.Duration().Seconds())
}

// ObserveStep 记录一个步骤
func (c *Collector) ObserveStep(kind workflow.StepKind, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.workflowStepsTotal.WithLabelValues(string(kind), status).Inc()
	c.workflowStepDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}
