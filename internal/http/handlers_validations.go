package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

// ValidationHandlers serves validation rule CRUD, runs, and results.
type ValidationHandlers struct {
	Svc *service.ValidationService
}

// List returns the rules for one connection.
func (h *ValidationHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	connectionID := strings.TrimSpace(q.Get("connection_id"))
	if connectionID == "" {
		WriteServiceError(w, apperrors.Validation("connection_id is required"))
		return
	}
	activeOnly, _ := strconv.ParseBool(q.Get("active_only"))

	rules, err := h.Svc.ListRules(r.Context(), orgID(r.Context()), connectionID, activeOnly)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rules)
}

// Create stores a new rule.
func (h *ValidationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateValidationRuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	rule, err := h.Svc.CreateRule(r.Context(), orgID(r.Context()), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

// Get returns one rule.
func (h *ValidationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Svc.GetRule(r.Context(), orgID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// Update applies a partial update to a rule.
func (h *ValidationHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateValidationRuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	rule, err := h.Svc.UpdateRule(r.Context(), orgID(r.Context()), r.PathValue("id"), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// Delete removes a rule.
func (h *ValidationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteRule(r.Context(), orgID(r.Context()), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Results returns recent results for one rule.
func (h *ValidationHandlers) Results(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.Svc.ListResults(r.Context(), orgID(r.Context()), r.PathValue("id"), limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, results)
}

type runValidationsRequest struct {
	ConnectionID string `json:"connection_id"`
}

// Run executes every active rule for a connection and returns the summary.
func (h *ValidationHandlers) Run(w http.ResponseWriter, r *http.Request) {
	var req runValidationsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		WriteServiceError(w, apperrors.Validation("connection_id is required"))
		return
	}

	summary, err := h.Svc.RunForConnection(r.Context(), orgID(r.Context()), req.ConnectionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// GenerateDefaults creates baseline row-count rules from the stored schema
// snapshot.
func (h *ValidationHandlers) GenerateDefaults(w http.ResponseWriter, r *http.Request) {
	var req runValidationsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		WriteServiceError(w, apperrors.Validation("connection_id is required"))
		return
	}

	created, err := h.Svc.GenerateDefaultRules(r.Context(), orgID(r.Context()), req.ConnectionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"created": len(created),
		"rules":   created,
	})
}
