package persistence

import (
	"context"
	"sort"
	"time"
)

// Execution status values mirrored from the workflow engine
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether status is absorbing.
func IsTerminalStatus(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// ExecutionStore persists workflow execution records.
type ExecutionStore interface {
	Store

	// SaveExecution inserts or replaces a record
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// GetExecution retrieves a record by execution ID
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)

	// ListExecutions returns records matching the filter, newest first
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// DeleteExecution removes a record
	DeleteExecution(ctx context.Context, id string) error

	// Cleanup removes terminal records that ended before now-olderThan
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// ExecutionRecord is the stored form of a workflow execution
type ExecutionRecord struct {
	ID          string            `json:"id"`
	Workflow    string            `json:"workflow"`
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Results     map[string]any    `json:"results,omitempty"`
	Errors      []StepErrorRecord `json:"errors,omitempty"`
	CurrentStep int               `json:"current_step"`
	TotalSteps  int               `json:"total_steps"`
	FailedStep  int               `json:"failed_step"`
	Context     map[string]any    `json:"context,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StepErrorRecord is one recorded step failure
type StepErrorRecord struct {
	Step    string `json:"step"`
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsTerminal reports whether the record is in an absorbing status.
func (r *ExecutionRecord) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// endedBefore reports whether a terminal record ended before cutoff.
func (r *ExecutionRecord) endedBefore(cutoff time.Time) bool {
	return r.IsTerminal() && r.EndedAt != nil && r.EndedAt.Before(cutoff)
}

// ExecutionFilter defines criteria for listing executions
type ExecutionFilter struct {
	// Status filters by execution status
	Status string `json:"status,omitempty"`

	// Workflow filters by workflow name
	Workflow string `json:"workflow,omitempty"`

	// Limit is the maximum number of records to return (default: 100)
	Limit int `json:"limit,omitempty"`
}

func (f ExecutionFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f ExecutionFilter) matches(r *ExecutionRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Workflow != "" && r.Workflow != f.Workflow {
		return false
	}
	return true
}

// sortNewestFirst orders records by start time, newest first
func sortNewestFirst(records []*ExecutionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
