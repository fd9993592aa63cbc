package workflow

import "errors"

var (
	// ErrInvalidDefinition 工作流定义无效
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrExecutionNotFound 未知的执行 ID
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrNotRunning 执行已处于终态
	ErrNotRunning = errors.New("workflow execution is not running")

	// ErrStillRunning 执行尚未结束，不能删除
	ErrStillRunning = errors.New("workflow execution is still running")

	// ErrNoStore 未配置执行存储
	ErrNoStore = errors.New("workflow execution store is not configured")
)
