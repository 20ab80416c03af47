package httpx

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

// ProfileHandlers serves ad-hoc table profiles and profiling history.
type ProfileHandlers struct {
	Profiles    *service.ProfileService
	History     *service.HistoryService
	Connections *service.ConnectionService
}

// Run profiles a table on demand and returns the stored snapshot.
func (h *ProfileHandlers) Run(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	connectionID := strings.TrimSpace(q.Get("connection_id"))
	table := strings.TrimSpace(q.Get("table"))
	if connectionID == "" || table == "" {
		WriteServiceError(w, apperrors.Validation("connection_id and table are required"))
		return
	}

	profile, err := h.Profiles.Run(r.Context(), orgID(r.Context()), connectionID, table)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// ListHistory returns stored profile snapshots for one table.
func (h *ProfileHandlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	connectionID := strings.TrimSpace(q.Get("connection_id"))
	table := strings.TrimSpace(q.Get("table"))
	if connectionID == "" || table == "" {
		WriteServiceError(w, apperrors.Validation("connection_id and table are required"))
		return
	}

	// Connection lookup enforces the tenant boundary before the listing.
	if _, err := h.Connections.Get(r.Context(), orgID(r.Context()), connectionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	profiles, err := h.History.ListProfiles(r.Context(), connectionID, table, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, profiles)
}
