package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/verity-dq/verity/internal/domain/auth"
)

type fakeResolver struct {
	sessions map[string]*domainauth.Session
	err      error
}

func (r *fakeResolver) Resolve(_ context.Context, token string) (*domainauth.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	session, ok := r.sessions[token]
	if !ok {
		return nil, errors.New("session not found")
	}
	return session, nil
}

func userSession(role domainauth.Role) *domainauth.Session {
	return &domainauth.Session{
		Token:          "tok-1",
		UserID:         "user-1",
		OrganizationID: "org-1",
		Email:          "dev@example.com",
		Role:           role,
	}
}

func okHandler(t *testing.T, wantOrg string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		require.True(t, ok, "session must be in context")
		assert.Equal(t, wantOrg, session.OrganizationID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	resolver := &fakeResolver{sessions: map[string]*domainauth.Session{
		"tok-1": userSession(domainauth.RoleUser),
	}}
	handler := RequireAuth(resolver)(okHandler(t, "org-1"))

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("prefix is case-insensitive", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "bearer tok-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "authentication_required")
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("resolver failure reads as unauthenticated", func(t *testing.T) {
		broken := RequireAuth(&fakeResolver{err: errors.New("redis down")})(okHandler(t, "org-1"))
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()
		broken.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-bearer scheme is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	resolver := &fakeResolver{sessions: map[string]*domainauth.Session{
		"admin-tok": userSession(domainauth.RoleAdmin),
		"user-tok":  userSession(domainauth.RoleUser),
	}}
	adminOnly := RequireRole(resolver, domainauth.RoleAdmin)(okHandler(t, "org-1"))

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer admin-tok")
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer user-tok")
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "insufficient_permissions")
	})

	t.Run("anonymous gets 401 not 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/connections", nil)
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("admin satisfies user requirement", func(t *testing.T) {
		userOnly := RequireRole(resolver, domainauth.RoleUser)(okHandler(t, "org-1"))
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer admin-tok")
		rec := httptest.NewRecorder()
		userOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRecover(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	handler := Recover(slog.Default())(panicky)

	req := httptest.NewRequest(http.MethodGet, "/api/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})

	h := Chain(inner, mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
