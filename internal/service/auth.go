package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	redisadapter "github.com/verity-dq/verity/internal/adapters/redis"
	"github.com/verity-dq/verity/internal/data"
	domainauth "github.com/verity-dq/verity/internal/domain/auth"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// SessionStore persists resolved bearer sessions.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, token string) (domainauth.Session, error)
	Delete(ctx context.Context, token string) error
}

// AuthService handles login, logout, and bearer token resolution. Tokens are
// opaque random identifiers backed by the session store.
type AuthService struct {
	orgs         *data.OrganizationRepo
	sessions     SessionStore
	timeProvider data.TimeProvider
	logger       *slog.Logger

	sessionTTL time.Duration
}

// AuthServiceOptions holds the dependencies for creating an AuthService.
type AuthServiceOptions struct {
	Orgs         *data.OrganizationRepo
	Sessions     SessionStore
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	SessionTTL   time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &AuthService{
		orgs:         opts.Orgs,
		sessions:     opts.Sessions,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		sessionTTL:   opts.SessionTTL,
	}
}

// Login verifies credentials and mints a session. Invalid email and invalid
// password return the same error so the endpoint does not leak which was
// wrong.
func (s *AuthService) Login(ctx context.Context, req *model.LoginRequest) (*domainauth.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	profile, err := s.orgs.GetProfileByEmail(ctx, req.Email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Auth("invalid credentials")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)) != nil {
		return nil, apperrors.Auth("invalid credentials")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	sess := domainauth.Session{
		Token:          token,
		UserID:         profile.ID,
		OrganizationID: profile.OrganizationID,
		Email:          profile.Email,
		Role:           domainauth.Role(profile.Role),
		ExpiresAt:      s.timeProvider.Now().Add(s.sessionTTL),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("login succeeded", "user_id", profile.ID, "role", profile.Role)
	return &sess, nil
}

// Logout invalidates a session token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Resolve maps a bearer token to its session.
func (s *AuthService) Resolve(ctx context.Context, token string) (*domainauth.Session, error) {
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, redisadapter.ErrNotFound) {
			return nil, apperrors.Auth("invalid or expired session")
		}
		return nil, err
	}
	return &sess, nil
}

// HashPassword produces a bcrypt hash for account provisioning.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", apperrors.Validation("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
