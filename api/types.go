package api

import (
	"time"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/discovery"
)

// =============================================================================
// Agent 类型
// =============================================================================

// AgentInfo 单个 Agent 的身份、运行状态与最近一次探测
type AgentInfo struct {
	Name             string    `json:"name"`
	Capabilities     []string  `json:"capabilities,omitempty"`
	State            string    `json:"state"`
	BreakerOpen      bool      `json:"breaker_open"`
	FailureCount     int       `json:"failure_count"`
	FailureThreshold int       `json:"failure_threshold"`
	Timeout          string    `json:"timeout"`
	MaxRetries       int       `json:"max_retries"`
	Healthy          bool      `json:"healthy"`
	LastCheckedAt    time.Time `json:"last_checked_at,omitempty"`
	LastCheckError   string    `json:"last_check_error,omitempty"`
}

// NewAgentInfo 由注册表状态构建 AgentInfo
func NewAgentInfo(st discovery.AgentStatus) AgentInfo {
	info := AgentInfo{
		Name:             st.Identity.Name,
		Capabilities:     st.Identity.Capabilities,
		State:            string(st.Runtime.State),
		BreakerOpen:      st.Runtime.BreakerOpen,
		FailureCount:     st.Runtime.FailureCount,
		FailureThreshold: st.Identity.FailureThreshold,
		Timeout:          st.Identity.Timeout.String(),
		MaxRetries:       st.Identity.MaxRetries,
	}
	if st.Health != nil {
		info.Healthy = st.Health.Healthy
		info.LastCheckedAt = st.Health.CheckedAt
		info.LastCheckError = st.Health.Error
	}
	return info
}

// SubmitTaskRequest 直接向 Agent 提交任务
type SubmitTaskRequest struct {
	Task  string         `json:"task"`
	Input map[string]any `json:"input,omitempty"`
}

// TaskResponse Agent 任务结果
type TaskResponse struct {
	Agent       string         `json:"agent"`
	Success     bool           `json:"success"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Duration    string         `json:"duration"`
	CompletedAt time.Time      `json:"completed_at"`
}

// NewTaskResponse 由 TaskResult 构建响应
func NewTaskResponse(name string, res agent.TaskResult) TaskResponse {
	return TaskResponse{
		Agent:       name,
		Success:     res.Success,
		Output:      res.Output,
		Error:       res.Error,
		Metadata:    res.Metadata,
		Duration:    res.Duration.String(),
		CompletedAt: res.CompletedAt,
	}
}

// ProbeResponse 单次健康探测结果
type ProbeResponse struct {
	Agent   string `json:"agent"`
	Healthy bool   `json:"healthy"`
}

// =============================================================================
// Workflow 类型
// =============================================================================

// SubmitWorkflowRequest 提交工作流。DSL 为 YAML 或 JSON 文本。
type SubmitWorkflowRequest struct {
	DSL   string         `json:"dsl"`
	Input map[string]any `json:"input,omitempty"`
	// Async 为 true 时立即返回执行 ID
	Async bool `json:"async,omitempty"`
}

// WorkflowAccepted 异步提交的响应
type WorkflowAccepted struct {
	ExecutionID string `json:"execution_id"`
	Workflow    string `json:"workflow"`
}

// ProgressResponse 执行进度
type ProgressResponse struct {
	ExecutionID string  `json:"execution_id"`
	Progress    float64 `json:"progress"`
}

// =============================================================================
// Message 类型
// =============================================================================

// PublishMessageRequest 发布总线消息
type PublishMessageRequest struct {
	From          string         `json:"from"`
	To            string         `json:"to"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// PublishMessageResponse 已入队消息的 ID
type PublishMessageResponse struct {
	MessageID string `json:"message_id"`
}

// =============================================================================
// Stats 类型
// =============================================================================

// RuntimeStats 运行时各组件的统计快照。归档与缓存未启用时省略。
type RuntimeStats struct {
	Agents    AgentStats    `json:"agents"`
	Bus       BusStats      `json:"bus"`
	Workflows WorkflowStats `json:"workflows"`
	Archive   *ArchiveStats `json:"archive,omitempty"`
	Cache     *CacheStats   `json:"cache,omitempty"`
}

// AgentStats 注册表统计
type AgentStats struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
}

// BusStats 总线统计
type BusStats struct {
	Running bool `json:"running"`
	Pending int  `json:"pending"`
}

// WorkflowStats 引擎统计
type WorkflowStats struct {
	Active int `json:"active"`
}

// ArchiveStats 消息归档统计，读取失败时只填 Error
type ArchiveStats struct {
	TotalMessages   int64            `json:"total_messages"`
	RecipientCounts map[string]int64 `json:"recipient_counts,omitempty"`
	OldestAge       string           `json:"oldest_age,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// CacheStats Redis 统计，读取失败时只填 Error
type CacheStats struct {
	Keys        int64   `json:"keys"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	UsedMemory  int64   `json:"used_memory"`
	MaxMemory   int64   `json:"max_memory"`
	Connections int     `json:"connections"`
	Error       string  `json:"error,omitempty"`
}
