package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

// AutomationHandlers serves schedule configs, manual triggers, job history,
// status snapshots, and the event log.
type AutomationHandlers struct {
	Schedules    *service.ScheduleService
	Orchestrator *service.OrchestratorService
	Status       *service.StatusService
	History      *service.HistoryService
	Connections  *service.ConnectionService
}

// GetConfig returns the schedule config for one connection, defaults included.
func (h *AutomationHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Schedules.GetConnectionSchedule(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

type putConfigRequest struct {
	Config model.ScheduleConfig `json:"schedule_config"`
}

// PutConfig replaces the schedule config and rebuilds the materialised
// scheduled jobs.
func (h *AutomationHandlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	var req putConfigRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var updatedBy *string
	if session, ok := SessionFromContext(r.Context()); ok {
		updatedBy = &session.UserID
	}

	cfg, err := h.Schedules.UpdateConnectionSchedule(
		r.Context(), orgID(r.Context()), r.PathValue("id"), req.Config, updatedBy)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// DeleteConfig removes the schedule config and its scheduled jobs.
func (h *AutomationHandlers) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.Schedules.DeleteConnectionSchedule(r.Context(), orgID(r.Context()), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type triggerRequest struct {
	AutomationTypes []model.AutomationType `json:"automation_types,omitempty"`
	AutomationType  *model.AutomationType  `json:"automation_type,omitempty"`
}

// Trigger starts an immediate run for the connection, defaulting to every
// automation type.
func (h *AutomationHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	types := req.AutomationTypes
	if len(types) == 0 && req.AutomationType != nil {
		types = []model.AutomationType{*req.AutomationType}
	}

	result, err := h.Orchestrator.TriggerImmediate(
		r.Context(), orgID(r.Context()), r.PathValue("id"), types)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ListJobs returns job history filtered by query parameters.
func (h *AutomationHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	opts := data.JobListOptions{
		OrganizationID: orgID(r.Context()),
		ConnectionID:   strings.TrimSpace(q.Get("connection_id")),
		Limit:          limit,
	}
	if v := strings.TrimSpace(q.Get("job_type")); v != "" {
		if err := opts.JobType.UnmarshalText([]byte(v)); err != nil {
			WriteServiceError(w, apperrors.Validation(err.Error()))
			return
		}
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		if err := opts.Status.UnmarshalText([]byte(v)); err != nil {
			WriteServiceError(w, apperrors.Validation(err.Error()))
			return
		}
	}

	jobs, err := h.History.ListJobs(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// GetJob returns one job.
func (h *AutomationHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.History.GetJob(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob cancels a scheduled or running job.
func (h *AutomationHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.CancelJob(r.Context(), orgID(r.Context()), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.JobStatusCancelled)})
}

// ListRuns returns the audit runs for one job.
func (h *AutomationHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.History.ListJobRuns(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}

// ListEvents returns the event log filtered by query parameters.
func (h *AutomationHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	hours, _ := strconv.Atoi(q.Get("hours"))

	opts := data.EventListOptions{
		OrganizationID: orgID(r.Context()),
		ConnectionID:   strings.TrimSpace(q.Get("connection_id")),
		Limit:          limit,
	}
	if hours > 0 {
		opts.Since = time.Now().Add(-service.JobWindow(hours))
	}
	for _, v := range q["event_type"] {
		var t model.EventType
		if err := t.UnmarshalText([]byte(v)); err != nil {
			WriteServiceError(w, apperrors.Validation(err.Error()))
			return
		}
		opts.EventTypes = append(opts.EventTypes, t)
	}

	events, err := h.History.ListEvents(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

// GetStatus returns the status snapshot for one connection.
func (h *AutomationHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	connectionID := strings.TrimSpace(r.URL.Query().Get("connection_id"))
	if connectionID == "" {
		WriteServiceError(w, apperrors.Validation("connection_id is required"))
		return
	}
	status, err := h.Status.GetConnectionStatus(r.Context(), orgID(r.Context()), connectionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// GetStatusEnhanced returns status snapshots for every connection in the
// organization. Per-connection failures degrade to warnings instead of
// failing the whole response.
func (h *AutomationHandlers) GetStatusEnhanced(w http.ResponseWriter, r *http.Request) {
	org := orgID(r.Context())
	conns, err := h.Connections.List(r.Context(), org)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	statuses := make([]*service.ConnectionStatus, 0, len(conns))
	var warnings []string
	for _, conn := range conns {
		status, err := h.Status.GetConnectionStatus(r.Context(), org, conn.ID)
		if err != nil {
			warnings = append(warnings, "status unavailable for connection "+conn.ID)
			continue
		}
		statuses = append(statuses, status)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"connections":  statuses,
		"warnings":     warnings,
		"generated_at": time.Now().UTC(),
	})
}
