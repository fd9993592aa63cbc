package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// executionRow maps to the workflow_executions table created by internal/migration.
type executionRow struct {
	ID          string     `gorm:"column:id;primaryKey;size:64"`
	Workflow    string     `gorm:"column:workflow;size:255;index"`
	Status      string     `gorm:"column:status;size:32;index"`
	StartedAt   time.Time  `gorm:"column:started_at;index"`
	EndedAt     *time.Time `gorm:"column:ended_at"`
	CurrentStep int        `gorm:"column:current_step"`
	TotalSteps  int        `gorm:"column:total_steps"`
	FailedStep  int        `gorm:"column:failed_step"`
	Results     string     `gorm:"column:results;type:text"`
	Errors      string     `gorm:"column:errors;type:text"`
	Context     string     `gorm:"column:context;type:text"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

// TableName implements gorm's tabler.
func (executionRow) TableName() string { return "workflow_executions" }

// SQLExecutionStore is a gorm-based implementation of ExecutionStore.
// Maps are stored as JSON text columns so the schema is portable across
// postgres, mysql and sqlite.
type SQLExecutionStore struct {
	db *gorm.DB
}

// NewSQLExecutionStore creates a store on an open gorm connection.
func NewSQLExecutionStore(db *gorm.DB) *SQLExecutionStore {
	return &SQLExecutionStore{db: db}
}

// AutoMigrate creates the table without golang-migrate (dev and tests).
func (s *SQLExecutionStore) AutoMigrate() error {
	return s.db.AutoMigrate(&executionRow{})
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *SQLExecutionStore) Close() error { return nil }

// Ping checks if the database is reachable
func (s *SQLExecutionStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveExecution inserts or replaces a record
func (s *SQLExecutionStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

// GetExecution retrieves a record by ID
func (s *SQLExecutionStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var row executionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

// ListExecutions returns records matching the filter, newest first
func (s *SQLExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	q := s.db.WithContext(ctx).Model(&executionRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Workflow != "" {
		q = q.Where("workflow = ?", filter.Workflow)
	}

	var rows []executionRow
	if err := q.Order("started_at DESC").Limit(filter.limit()).Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*ExecutionRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// DeleteExecution removes a record
func (s *SQLExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&executionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes terminal records that ended before now-olderThan
func (s *SQLExecutionStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("status IN ?", []string{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled}).
		Where("ended_at IS NOT NULL AND ended_at < ?", cutoff).
		Delete(&executionRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func toRow(rec *ExecutionRecord) (*executionRow, error) {
	results, err := marshalText(rec.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	errs, err := marshalText(rec.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}
	execCtx, err := marshalText(rec.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	var ended *time.Time
	if rec.EndedAt != nil {
		t := rec.EndedAt.UTC()
		ended = &t
	}

	// stored as UTC so sqlite text timestamps compare and sort correctly
	return &executionRow{
		ID:          rec.ID,
		Workflow:    rec.Workflow,
		Status:      rec.Status,
		StartedAt:   rec.StartedAt.UTC(),
		EndedAt:     ended,
		CurrentStep: rec.CurrentStep,
		TotalSteps:  rec.TotalSteps,
		FailedStep:  rec.FailedStep,
		Results:     results,
		Errors:      errs,
		Context:     execCtx,
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}, nil
}

func fromRow(row *executionRow) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{
		ID:          row.ID,
		Workflow:    row.Workflow,
		Status:      row.Status,
		StartedAt:   row.StartedAt,
		EndedAt:     row.EndedAt,
		CurrentStep: row.CurrentStep,
		TotalSteps:  row.TotalSteps,
		FailedStep:  row.FailedStep,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := unmarshalText(row.Results, &rec.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	if err := unmarshalText(row.Errors, &rec.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	if err := unmarshalText(row.Context, &rec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return rec, nil
}

func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalText(s string, dest any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), dest)
}
