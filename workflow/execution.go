package workflow

import (
	"maps"
	"slices"
	"time"

	"github.com/BaSui01/orchestra/agent/persistence"
	"github.com/BaSui01/orchestra/types"
)

// Status 工作流执行状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 终态不可再迁移
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.IsTerminal()
	}
	return false
}

// StepError 一次步骤失败
type StepError struct {
	Step    string          `json:"step"`
	Index   int             `json:"index"`
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// SubResult 并行步骤中单个子步骤的结果
type SubResult struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execution 一次工作流执行的记录。
// 执行中由引擎独占，调用方拿到的都是快照。
type Execution struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Results     map[string]any `json:"results"`
	Errors      []StepError    `json:"errors,omitempty"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	// FailedStep 失败的顶层步骤下标，未失败时为 -1
	FailedStep int            `json:"failed_step"`
	Context    map[string]any `json:"context"`
}

// Snapshot 返回副本，map 与切片不与原记录共享
func (e *Execution) Snapshot() *Execution {
	cp := *e
	cp.Results = maps.Clone(e.Results)
	cp.Context = maps.Clone(e.Context)
	cp.Errors = slices.Clone(e.Errors)
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// Progress 返回完成百分比 CurrentStep/TotalSteps*100
func (e *Execution) Progress() float64 {
	if e.TotalSteps == 0 {
		if e.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(e.CurrentStep) / float64(e.TotalSteps) * 100
}

// Duration 执行耗时，未结束时按当前时间计算
func (e *Execution) Duration() time.Duration {
	if e.EndedAt != nil {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

// ToRecord 转换为持久化记录
func (e *Execution) ToRecord() *persistence.ExecutionRecord {
	rec := &persistence.ExecutionRecord{
		ID:          e.ID,
		Workflow:    e.Workflow,
		Status:      string(e.Status),
		StartedAt:   e.StartedAt,
		Results:     maps.Clone(e.Results),
		CurrentStep: e.CurrentStep,
		TotalSteps:  e.TotalSteps,
		FailedStep:  e.FailedStep,
		Context:     maps.Clone(e.Context),
		UpdatedAt:   time.Now(),
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		rec.EndedAt = &t
	}
	for _, se := range e.Errors {
		rec.Errors = append(rec.Errors, persistence.StepErrorRecord{
			Step:    se.Step,
			Index:   se.Index,
			Code:    string(se.Code),
			Message: se.Message,
		})
	}
	return rec
}

// FromRecord 从持久化记录还原执行
func FromRecord(rec *persistence.ExecutionRecord) *Execution {
	e := &Execution{
		ID:          rec.ID,
		Workflow:    rec.Workflow,
		Status:      Status(rec.Status),
		StartedAt:   rec.StartedAt,
		Results:     maps.Clone(rec.Results),
		CurrentStep: rec.CurrentStep,
		TotalSteps:  rec.TotalSteps,
		FailedStep:  rec.FailedStep,
		Context:     maps.Clone(rec.Context),
	}
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		e.EndedAt = &t
	}
	for _, se := range rec.Errors {
		e.Errors = append(e.Errors, StepError{
			Step:    se.Step,
			Index:   se.Index,
			Code:    types.ErrorCode(se.Code),
			Message: se.Message,
		})
	}
	if e.Results == nil {
		e.Results = make(map[string]any)
	}
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	return e
}
