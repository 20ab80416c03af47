package httpx

import (
	"net/http"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/service"
)

// AuthHandlers serves login and logout.
type AuthHandlers struct {
	Svc *service.AuthService
}

type loginResponse struct {
	Token          string `json:"token"`
	ExpiresAt      string `json:"expires_at"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}

// Login exchanges credentials for a bearer token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.Svc.Login(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{
		Token:          session.Token,
		ExpiresAt:      session.ExpiresAt.UTC().Format(time.RFC3339),
		UserID:         session.UserID,
		OrganizationID: session.OrganizationID,
		Email:          session.Email,
		Role:           string(session.Role),
	})
}

// Logout revokes the presented bearer token.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.Svc.Logout(r.Context(), token); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
