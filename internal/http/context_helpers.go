package httpx

import (
	"context"

	domainauth "github.com/verity-dq/verity/internal/domain/auth"
)

// sessionKey is an unexported context key type to avoid collisions across
// packages. All handlers and middleware use the same key.
type sessionKey struct{}

// SetSessionInContext returns a child context carrying the given session.
// A nil session returns the original ctx unchanged.
func SetSessionInContext(ctx context.Context, session *domainauth.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the resolved session and whether one is present.
func SessionFromContext(ctx context.Context) (*domainauth.Session, bool) {
	if session, ok := ctx.Value(sessionKey{}).(*domainauth.Session); ok && session != nil {
		return session, true
	}
	return nil, false
}

// orgID returns the caller's organization. RequireAuth guarantees a session,
// so the empty fallback only shows up in mis-wired tests.
func orgID(ctx context.Context) string {
	if s, ok := SessionFromContext(ctx); ok {
		return s.OrganizationID
	}
	return ""
}
