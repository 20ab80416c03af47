package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

// ConnectionHandlers serves connection CRUD, probes, and previews.
type ConnectionHandlers struct {
	Svc *service.ConnectionService
}

// List returns the organization's connections.
func (h *ConnectionHandlers) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.Svc.List(r.Context(), orgID(r.Context()))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conns)
}

// Create stores a new connection.
func (h *ConnectionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConnectionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	conn, err := h.Svc.Create(r.Context(), orgID(r.Context()), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, conn)
}

// Get returns one connection.
func (h *ConnectionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Svc.Get(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conn)
}

// Update applies a partial update to a connection.
func (h *ConnectionHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateConnectionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	conn, err := h.Svc.Update(r.Context(), orgID(r.Context()), r.PathValue("id"), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conn)
}

// Delete removes a connection.
func (h *ConnectionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), orgID(r.Context()), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testConnectionRequest struct {
	ConnectionID string               `json:"connection_id,omitempty"`
	Type         model.ConnectionType `json:"connection_type,omitempty"`
	Details      json.RawMessage      `json:"connection_details,omitempty"`
}

// Test probes either a stored connection (by id) or unsaved credentials.
func (h *ConnectionHandlers) Test(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var result *service.TestResult
	var err error
	if strings.TrimSpace(req.ConnectionID) != "" {
		result, err = h.Svc.Test(r.Context(), orgID(r.Context()), req.ConnectionID)
	} else {
		result, err = h.Svc.TestUnsaved(r.Context(), req.Type, req.Details)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Tables lists tables visible through the connection.
func (h *ConnectionHandlers) Tables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Svc.ListTables(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// Preview returns sample rows from one table.
func (h *ConnectionHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	if table == "" {
		WriteServiceError(w, apperrors.Validation("table is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.Svc.PreviewRows(r.Context(), orgID(r.Context()), r.PathValue("id"), table, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"table": table, "rows": rows})
}
