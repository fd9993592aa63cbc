package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent/persistence"
	"github.com/BaSui01/orchestra/api"
	"github.com/BaSui01/orchestra/types"
	"github.com/BaSui01/orchestra/workflow"
	"github.com/BaSui01/orchestra/workflow/dsl"
)

// WorkflowHandler 工作流提交与查询端点
type WorkflowHandler struct {
	engine *workflow.Engine
	parser *dsl.Parser
	logger *zap.Logger
	// baseCtx 异步执行的生命周期上限（服务关闭时取消）
	baseCtx context.Context
}

// NewWorkflowHandler 创建工作流处理器。异步执行在 baseCtx 取消时一并取消。
func NewWorkflowHandler(baseCtx context.Context, engine *workflow.Engine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &WorkflowHandler{
		engine:  engine,
		parser:  dsl.NewParser(),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Register 挂载路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/workflows", h.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/workflows/{id}/progress", h.HandleProgress)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", h.HandleCancel)
}

// HandleSubmit 提交工作流。
// application/json 请求体为 api.SubmitWorkflowRequest；
// YAML 请求体直接是 DSL，?async=true 切换为异步。
// 同步模式返回终态执行（步骤失败也是 200），异步模式返回 202 与执行 ID。
func (h *WorkflowHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitWorkflowRequest
	switch MediaType(r) {
	case "application/json":
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		data, ok := ReadBody(w, r, h.logger)
		if !ok {
			return
		}
		req.DSL = string(data)
		req.Async, _ = strconv.ParseBool(r.URL.Query().Get("async"))
	default:
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json or application/yaml", h.logger)
		return
	}

	if req.DSL == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "dsl is required", h.logger)
		return
	}

	def, initial, err := h.build(req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if req.Async {
		h.startAsync(w, r, def, initial)
		return
	}

	exec, runErr := h.engine.Execute(r.Context(), def, initial)
	if runErr != nil {
		WriteRuntimeError(w, runErr, h.logger)
		return
	}
	WriteSuccess(w, exec)
}

func (h *WorkflowHandler) build(req api.SubmitWorkflowRequest) (*workflow.Definition, map[string]any, *types.Error) {
	doc, err := h.parser.Decode([]byte(req.DSL))
	if err != nil {
		return nil, nil, types.NewError(types.ErrInvalidDefinition, "invalid workflow DSL").WithCause(err)
	}
	def, _, err := h.parser.Build(doc)
	if err != nil {
		return nil, nil, types.NewError(types.ErrInvalidDefinition, "invalid workflow definition").WithCause(err)
	}
	initial, err := doc.InitialContext(req.Input)
	if err != nil {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "invalid workflow input").WithCause(err)
	}
	return def, initial, nil
}

// startAsync 保留请求上下文中的值，但生命周期跟随 baseCtx 而不是请求
func (h *WorkflowHandler) startAsync(w http.ResponseWriter, r *http.Request, def *workflow.Definition, initial map[string]any) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(h.baseCtx, cancel)

	id, done, err := h.engine.Start(ctx, def, initial)
	if err != nil {
		stop()
		cancel()
		WriteRuntimeError(w, err, h.logger)
		return
	}

	go func() {
		defer cancel()
		defer stop()
		exec := <-done
		h.logger.Debug("async workflow finished",
			zap.String("execution_id", exec.ID),
			zap.String("status", string(exec.Status)),
		)
	}()

	w.Header().Set("Location", "/api/v1/workflows/"+id)
	WriteStatus(w, http.StatusAccepted, api.WorkflowAccepted{ExecutionID: id, Workflow: def.Name})
}

// HandleList 默认返回持久化的执行历史（?status=&workflow=&limit=），
// ?active=true 只返回进行中的执行 ID
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if active, _ := strconv.ParseBool(q.Get("active")); active {
		WriteSuccess(w, h.engine.Active())
		return
	}

	limit, ok := QueryLimit(w, r, h.logger)
	if !ok {
		return
	}
	filter := persistence.ExecutionFilter{
		Status:   q.Get("status"),
		Workflow: q.Get("workflow"),
		Limit:    limit,
	}
	if filter.Status != "" && !workflow.Status(filter.Status).Valid() {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "unknown status: "+filter.Status, h.logger)
		return
	}

	history, err := h.engine.History(r.Context(), filter)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}

// HandleDelete 删除已结束的执行，进行中的执行返回 409
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Delete(r.Context(), id); err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusOK, map[string]any{"execution_id": id, "deleted": true})
}

// HandleGet 返回执行快照（进行中、保留中或持久化存储中）
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, exec)
}

// HandleProgress 返回完成百分比
func (h *WorkflowHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	progress, err := h.engine.GetProgress(id)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ProgressResponse{ExecutionID: id, Progress: progress})
}

// HandleCancel 请求取消，在下一个步骤开始前生效
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Cancel(id); err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, map[string]any{"execution_id": id, "cancel_requested": true})
}
