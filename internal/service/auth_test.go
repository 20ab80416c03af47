package service

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	redisadapter "github.com/verity-dq/verity/internal/adapters/redis"
	"github.com/verity-dq/verity/internal/data"
	domainauth "github.com/verity-dq/verity/internal/domain/auth"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

type memorySessionStore struct {
	sessions map[string]domainauth.Session
	saveErr  error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]domainauth.Session{}}
}

func (m *memorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[sess.Token] = sess
	return nil
}

func (m *memorySessionStore) Get(_ context.Context, token string) (domainauth.Session, error) {
	sess, ok := m.sessions[token]
	if !ok {
		return domainauth.Session{}, redisadapter.ErrNotFound
	}
	return sess, nil
}

func (m *memorySessionStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, sqlmock.Sqlmock, *memorySessionStore) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := newMemorySessionStore()
	svc := NewAuthService(AuthServiceOptions{
		Orgs:         data.NewOrganizationRepo(db),
		Sessions:     store,
		TimeProvider: data.NewFixedTimeProvider(time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)),
		SessionTTL:   time.Hour,
	})
	return svc, mock, store
}

func profileRow(t *testing.T, email, password, role string) *sqlmock.Rows {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "organization_id", "email", "password_hash", "role", "created_at", "updated_at",
	}).AddRow("user-1", "org-1", email, string(hash), role, now, now)
}

func TestAuthService_Login(t *testing.T) {
	t.Run("valid credentials mint a session", func(t *testing.T) {
		svc, mock, store := newAuthFixture(t)

		mock.ExpectQuery(`FROM profiles`).
			WithArgs("dev@example.com").
			WillReturnRows(profileRow(t, "dev@example.com", "correct-horse", "admin"))

		sess, err := svc.Login(context.Background(), &model.LoginRequest{
			Email:    "dev@example.com",
			Password: "correct-horse",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, sess.Token)
		assert.Equal(t, "user-1", sess.UserID)
		assert.Equal(t, "org-1", sess.OrganizationID)
		assert.Equal(t, domainauth.RoleAdmin, sess.Role)
		assert.Equal(t, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC), sess.ExpiresAt)

		stored, ok := store.sessions[sess.Token]
		require.True(t, ok)
		assert.Equal(t, *sess, stored)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		svc, mock, _ := newAuthFixture(t)

		mock.ExpectQuery(`FROM profiles`).
			WithArgs("dev@example.com").
			WillReturnRows(profileRow(t, "dev@example.com", "correct-horse", "user"))

		_, wrongPassword := svc.Login(context.Background(), &model.LoginRequest{
			Email:    "dev@example.com",
			Password: "battery-staple",
		})
		require.Error(t, wrongPassword)
		assert.True(t, apperrors.IsAuth(wrongPassword))

		mock.ExpectQuery(`FROM profiles`).
			WithArgs("nobody@example.com").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "organization_id", "email", "password_hash", "role", "created_at", "updated_at",
			}))

		_, unknownEmail := svc.Login(context.Background(), &model.LoginRequest{
			Email:    "nobody@example.com",
			Password: "whatever",
		})
		require.Error(t, unknownEmail)
		assert.True(t, apperrors.IsAuth(unknownEmail))
		assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	})

	t.Run("email lookup is lowercased", func(t *testing.T) {
		svc, mock, _ := newAuthFixture(t)

		mock.ExpectQuery(`FROM profiles`).
			WithArgs("dev@example.com").
			WillReturnRows(profileRow(t, "dev@example.com", "correct-horse", "user"))

		_, err := svc.Login(context.Background(), &model.LoginRequest{
			Email:    "Dev@Example.COM",
			Password: "correct-horse",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request fails validation before the store", func(t *testing.T) {
		svc, mock, _ := newAuthFixture(t)

		_, err := svc.Login(context.Background(), &model.LoginRequest{Email: "", Password: ""})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session store failure surfaces", func(t *testing.T) {
		svc, mock, store := newAuthFixture(t)
		store.saveErr = errors.New("redis down")

		mock.ExpectQuery(`FROM profiles`).
			WithArgs("dev@example.com").
			WillReturnRows(profileRow(t, "dev@example.com", "correct-horse", "user"))

		_, err := svc.Login(context.Background(), &model.LoginRequest{
			Email:    "dev@example.com",
			Password: "correct-horse",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save session")
	})
}

func TestAuthService_ResolveAndLogout(t *testing.T) {
	svc, mock, _ := newAuthFixture(t)

	mock.ExpectQuery(`FROM profiles`).
		WithArgs("dev@example.com").
		WillReturnRows(profileRow(t, "dev@example.com", "correct-horse", "user"))

	sess, err := svc.Login(context.Background(), &model.LoginRequest{
		Email:    "dev@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, resolved.UserID)

	require.NoError(t, svc.Logout(context.Background(), sess.Token))

	_, err = svc.Resolve(context.Background(), sess.Token)
	require.Error(t, err)
	assert.True(t, apperrors.IsAuth(err))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("long-enough-password")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("long-enough-password")))

	_, err = HashPassword("short")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
