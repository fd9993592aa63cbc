package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent/discovery"
	"github.com/BaSui01/orchestra/api"
	"github.com/BaSui01/orchestra/types"
)

// AgentHandler Agent 管理端点
type AgentHandler struct {
	registry *discovery.Registry
	logger   *zap.Logger
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(registry *discovery.Registry, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{registry: registry, logger: logger}
}

// Register 挂载路由
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/v1/agents/{name}", h.HandleGetAgent)
	mux.HandleFunc("POST /api/v1/agents/{name}/tasks", h.HandleSubmitTask)
	mux.HandleFunc("POST /api/v1/agents/{name}/reset", h.HandleResetBreaker)
	mux.HandleFunc("POST /api/v1/agents/{name}/probe", h.HandleProbe)
}

// HandleListAgents 列出全部 Agent，?healthy=true 时只返回最近探测健康的
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	onlyHealthy := r.URL.Query().Get("healthy") == "true"

	statuses := h.registry.Statuses()
	result := make([]api.AgentInfo, 0, len(statuses))
	for _, st := range statuses {
		info := api.NewAgentInfo(st)
		if onlyHealthy && !info.Healthy {
			continue
		}
		result = append(result, info)
	}
	WriteSuccess(w, result)
}

// HandleGetAgent 返回单个 Agent
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.Status(r.PathValue("name"))
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewAgentInfo(st))
}

// HandleSubmitTask 直接向 Agent 提交一次任务（经过熔断器）
func (h *AgentHandler) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, err := h.registry.Lookup(name)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}

	var req api.SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Task == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task is required", h.logger)
		return
	}

	res := a.Submit(r.Context(), req.Task, req.Input)
	if res.BreakerOpen() {
		WriteError(w, types.NewError(types.ErrBreakerOpen, res.Error).WithRetryable(true), h.logger)
		return
	}
	// 逻辑失败属于任务结果，不是请求错误
	WriteSuccess(w, api.NewTaskResponse(name, res))
}

// HandleResetBreaker 手动关闭熔断器
func (h *AgentHandler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, err := h.registry.Lookup(name)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}

	a.ResetBreaker()
	h.logger.Info("breaker reset via API", zap.String("agent", name))

	st, err := h.registry.Status(name)
	if err != nil {
		// 重置与注销并发
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewAgentInfo(st))
}

// HandleProbe 立即执行一次健康探测
func (h *AgentHandler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	healthy, err := h.registry.ProbeOne(r.Context(), name)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ProbeResponse{Agent: name, Healthy: healthy})
}
