package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType represents a typed automation or metadata event on the bus.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type EventType string

// The closed set of bus event types.
const (
	EventMetadataRefreshed          EventType = "METADATA_REFRESHED"
	EventSchemaChangesDetected      EventType = "SCHEMA_CHANGES_DETECTED"
	EventValidationFailuresDetected EventType = "VALIDATION_FAILURES_DETECTED"
	EventJobScheduled               EventType = "JOB_SCHEDULED"
	EventJobStarted                 EventType = "JOB_STARTED"
	EventJobCompleted               EventType = "JOB_COMPLETED"
	EventJobFailed                  EventType = "JOB_FAILED"
	EventJobCancelled               EventType = "JOB_CANCELLED"
	EventConfigCreated              EventType = "CONFIG_CREATED"
	EventConfigUpdated              EventType = "CONFIG_UPDATED"
	EventConfigDeleted              EventType = "CONFIG_DELETED"
	EventValidationFailure          EventType = "VALIDATION_FAILURE"
	EventProfileCompletion          EventType = "PROFILE_COMPLETION"
	EventSchemaChange               EventType = "SCHEMA_CHANGE"
	EventUserRequest                EventType = "USER_REQUEST"
	EventSystemRefresh              EventType = "SYSTEM_REFRESH"
	EventManualTrigger              EventType = "MANUAL_TRIGGER"
	EventAutomationEnabled          EventType = "AUTOMATION_ENABLED"
	EventAutomationDisabled         EventType = "AUTOMATION_DISABLED"
)

var validEventTypes = map[EventType]bool{
	EventMetadataRefreshed: true, EventSchemaChangesDetected: true,
	EventValidationFailuresDetected: true, EventJobScheduled: true,
	EventJobStarted: true, EventJobCompleted: true, EventJobFailed: true,
	EventJobCancelled: true, EventConfigCreated: true, EventConfigUpdated: true,
	EventConfigDeleted: true, EventValidationFailure: true,
	EventProfileCompletion: true, EventSchemaChange: true,
	EventUserRequest: true, EventSystemRefresh: true, EventManualTrigger: true,
	EventAutomationEnabled: true, EventAutomationDisabled: true,
}

// Valid returns true if the EventType is valid.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// UnmarshalText implements encoding.TextUnmarshaler for EventType.
func (t *EventType) UnmarshalText(text []byte) error {
	v := EventType(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid EventType: %q", string(text))
	}
	*t = v
	return nil
}

// AutomationEvent is a published bus event. Every event is persisted to
// automation_events before handlers run.
type AutomationEvent struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	ConnectionID   *string         `json:"connection_id,omitempty" db:"connection_id"`
	Type           EventType       `json:"event_type"      db:"event_type"`
	Payload        json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}
