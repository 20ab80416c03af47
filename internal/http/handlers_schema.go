package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/data"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

// SchemaChangeHandlers serves the schema change log and its analytics.
type SchemaChangeHandlers struct {
	Changes   *data.SchemaChangeRepo
	Analytics *service.AnalyticsService
}

// List returns recorded schema changes filtered by query parameters.
func (h *SchemaChangeHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	hours, _ := strconv.Atoi(q.Get("hours"))
	onlyImportant, _ := strconv.ParseBool(q.Get("important"))
	unacknowledged, _ := strconv.ParseBool(q.Get("unacknowledged"))

	opts := data.SchemaChangeListOptions{
		OrganizationID: orgID(r.Context()),
		ConnectionID:   strings.TrimSpace(q.Get("connection_id")),
		TableName:      strings.TrimSpace(q.Get("table")),
		OnlyImportant:  onlyImportant,
		Unacknowledged: unacknowledged,
		Limit:          limit,
	}
	if hours > 0 {
		opts.Since = time.Now().Add(-service.JobWindow(hours))
	}

	changes, err := h.Changes.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, changes)
}

// Acknowledge marks one schema change as reviewed.
func (h *SchemaChangeHandlers) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.Changes.Acknowledge(r.Context(), orgID(r.Context()), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type computeAnalyticsRequest struct {
	ConnectionID string `json:"connection_id"`
	WindowHours  int    `json:"window_hours,omitempty"`
}

// Compute aggregates the trailing change window into a stored analytics
// document.
func (h *SchemaChangeHandlers) Compute(w http.ResponseWriter, r *http.Request) {
	var req computeAnalyticsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		WriteServiceError(w, apperrors.Validation("connection_id is required"))
		return
	}

	row, err := h.Analytics.ComputeWindow(
		r.Context(), orgID(r.Context()), req.ConnectionID, service.JobWindow(req.WindowHours))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, row)
}

// Query runs a JMESPath expression over the latest analytics document.
func (h *SchemaChangeHandlers) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	connectionID := strings.TrimSpace(q.Get("connection_id"))
	expression := strings.TrimSpace(q.Get("query"))
	if connectionID == "" || expression == "" {
		WriteServiceError(w, apperrors.Validation("connection_id and query are required"))
		return
	}

	result, err := h.Analytics.Query(r.Context(), orgID(r.Context()), connectionID, expression)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"result": result})
}
