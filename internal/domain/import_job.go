package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportJobStatus captures lifecycle state for an import job.
type ImportJobStatus string

const (
	ImportJobStatusProcessing          ImportJobStatus = "processing"
	ImportJobStatusCompleted           ImportJobStatus = "completed"
	ImportJobStatusCompletedWithErrors ImportJobStatus = "completed_with_errors"
	ImportJobStatusFailed              ImportJobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ImportJobStatus) IsTerminal() bool {
	switch s {
	case ImportJobStatusCompleted, ImportJobStatusCompletedWithErrors, ImportJobStatusFailed:
		return true
	}
	return false
}

// RowError describes one rejected row, or one rejected batch when the error
// references the batch's starting row.
type RowError struct {
	Row     int               `json:"row"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// ImportJob mirrors the persisted ledger row for a live import.
type ImportJob struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	UserID            uuid.UUID       `json:"user_id"`
	Kind              ImportKind      `json:"kind"`
	FileName          string          `json:"file_name"`
	TotalRows         int             `json:"total_rows"`
	ProcessedRows     int             `json:"processed_rows"`
	FailedRows        int             `json:"failed_rows"`
	Errors            []RowError      `json:"errors"`
	Summary           string          `json:"summary"`
	Status            ImportJobStatus `json:"status"`
	SourceFingerprint string          `json:"source_fingerprint,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// NewImportJob returns a job in the processing state.
func NewImportJob(tenantID, userID uuid.UUID, kind ImportKind, fileName string, totalRows int) ImportJob {
	if totalRows < 0 {
		totalRows = 0
	}
	return ImportJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    userID,
		Kind:      kind,
		FileName:  fileName,
		TotalRows: totalRows,
		Errors:    []RowError{},
		Status:    ImportJobStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
}

// ImportJobOutcome is the single completion update applied to a job.
type ImportJobOutcome struct {
	Status            ImportJobStatus
	ProcessedRows     int
	FailedRows        int
	Errors            []RowError
	Summary           string
	SourceFingerprint string
	CompletedAt       time.Time
}

// ErrorsToJSON marshals the error list into the JSONB layout stored in Postgres.
func (o ImportJobOutcome) ErrorsToJSON() (json.RawMessage, error) {
	return RowErrorsToJSON(o.Errors)
}

// RowErrorsToJSON marshals a row error list, never producing JSON null.
func RowErrorsToJSON(errs []RowError) (json.RawMessage, error) {
	if errs == nil {
		errs = []RowError{}
	}
	return json.Marshal(errs)
}

// RowErrorsFromJSON unmarshals a persisted error list.
func RowErrorsFromJSON(data []byte) ([]RowError, error) {
	if len(data) == 0 {
		return []RowError{}, nil
	}
	var errs []RowError
	if err := json.Unmarshal(data, &errs); err != nil {
		return nil, err
	}
	if errs == nil {
		errs = []RowError{}
	}
	return errs, nil
}
