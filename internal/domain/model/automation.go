package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AutomationType represents the kind of automation a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AutomationType string

const (
	// AutomationMetadataRefresh refreshes connection metadata via the
	// metadata-collection task manager.
	AutomationMetadataRefresh AutomationType = "metadata_refresh"
	// AutomationSchemaChangeDetection diffs fresh schema snapshots against
	// the stored ones and records typed changes.
	AutomationSchemaChangeDetection AutomationType = "schema_change_detection"
	// AutomationValidation runs the active validation rules for a connection.
	AutomationValidation AutomationType = "validation_automation"
)

// AllAutomationTypes returns the closed set of automation types in a stable order.
func AllAutomationTypes() []AutomationType {
	return []AutomationType{
		AutomationMetadataRefresh,
		AutomationSchemaChangeDetection,
		AutomationValidation,
	}
}

// Valid returns true if the AutomationType is valid.
func (t AutomationType) Valid() bool {
	return t == AutomationMetadataRefresh ||
		t == AutomationSchemaChangeDetection ||
		t == AutomationValidation
}

// UnmarshalText implements encoding.TextUnmarshaler for AutomationType.
func (t *AutomationType) UnmarshalText(text []byte) error {
	v := AutomationType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid AutomationType: %q", string(text))
	}
	*t = v
	return nil
}

// JobStatus represents the lifecycle state of an automation job.
type JobStatus string

const (
	// JobStatusScheduled indicates a job has been created but not yet picked up.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusRunning indicates a job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was cancelled before completion.
	JobStatusCancelled JobStatus = "cancelled"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScheduled, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal, forward
// transition: scheduled → running → {completed, failed, cancelled}.
// Scheduled jobs may also fail or be cancelled directly (e.g., submission
// failure before a worker picks them up).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusScheduled:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// AutomationJob represents one dispatched execution of an automation type for
// a connection.
type AutomationJob struct {
	ID             string          `json:"id"                       db:"id"`
	OrganizationID string          `json:"organization_id"          db:"organization_id"`
	ConnectionID   string          `json:"connection_id"            db:"connection_id"`
	JobType        AutomationType  `json:"job_type"                 db:"job_type"`
	Status         JobStatus       `json:"status"                   db:"status"`
	ScheduledAt    time.Time       `json:"scheduled_at"             db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"     db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"   db:"completed_at"`
	ResultSummary  json.RawMessage `json:"result_summary,omitempty" db:"result_summary"`
	ErrorMessage   *string         `json:"error_message,omitempty"  db:"error_message"`
	CreatedAt      time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"               db:"updated_at"`
}

// AutomationRun is the per-job audit row carrying detailed results.
type AutomationRun struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	JobID          string          `json:"job_id"          db:"job_id"`
	ConnectionID   string          `json:"connection_id"   db:"connection_id"`
	JobType        AutomationType  `json:"job_type"        db:"job_type"`
	Results        json.RawMessage `json:"results"         db:"results"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// JobSummary aggregates job counts for a connection over a window.
type JobSummary struct {
	ConnectionID string                 `json:"connection_id"`
	WindowHours  int                    `json:"window_hours"`
	ByStatus     map[JobStatus]int      `json:"by_status"`
	ByType       map[AutomationType]int `json:"by_type"`
	LastJobAt    *time.Time             `json:"last_job_at,omitempty"`
}

// ImmediateRunResult reports the outcome of a manual trigger.
type ImmediateRunResult struct {
	JobsCreated         []string `json:"jobs_created"`
	PreventedDuplicates []string `json:"prevented_duplicates"`
}
