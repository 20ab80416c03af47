package httpx

import (
	"net/http"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// NotificationHandlers serves the per-organization notification settings.
type NotificationHandlers struct {
	Settings *data.NotificationRepo
}

// Get returns the organization's notification settings, or empty defaults
// when none have been stored.
func (h *NotificationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.GetByOrganization(r.Context(), orgID(r.Context()))
	if err != nil {
		if apperrors.IsNotFound(err) {
			WriteJSON(w, http.StatusOK, &model.NotificationSettings{
				OrganizationID:  orgID(r.Context()),
				EmailRecipients: []string{},
				EventTypes:      []model.EventType{},
			})
			return
		}
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

// Put creates or replaces the organization's notification settings.
func (h *NotificationHandlers) Put(w http.ResponseWriter, r *http.Request) {
	var settings model.NotificationSettings
	if !DecodeJSON(w, r, &settings) {
		return
	}
	settings.OrganizationID = orgID(r.Context())

	stored, err := h.Settings.Upsert(r.Context(), &settings)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stored)
}
