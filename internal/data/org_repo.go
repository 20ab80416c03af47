package data

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// OrganizationRepo provides store operations for organizations and profiles.
type OrganizationRepo struct {
	DB *sql.DB
}

// NewOrganizationRepo creates a new OrganizationRepo.
func NewOrganizationRepo(db *sql.DB) *OrganizationRepo {
	return &OrganizationRepo{DB: db}
}

// CreateOrganization inserts a new organization.
func (r *OrganizationRepo) CreateOrganization(ctx context.Context, name string) (*model.Organization, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.Validation("organization name is required")
	}
	var org model.Organization
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO organizations (name)
		VALUES ($1)
		RETURNING id, name, created_at, updated_at`, name,
	).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &org, nil
}

// GetOrganization fetches one organization.
func (r *OrganizationRepo) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM organizations
		WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("organization not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return &org, nil
}

const profileColumnsAuth = `
  id, organization_id, email, password_hash, role, created_at, updated_at
`

func scanAuthProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	if err := row.Scan(
		&p.ID, &p.OrganizationID, &p.Email, &p.PasswordHash, &p.Role, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts a user account.
func (r *OrganizationRepo) CreateProfile(
	ctx context.Context,
	orgID, email, passwordHash, role string,
) (*model.Profile, error) {
	if strings.TrimSpace(email) == "" {
		return nil, apperrors.Validation("email is required")
	}
	if role != "admin" && role != "user" {
		return nil, apperrors.Validationf("invalid role %q", role)
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO profiles (organization_id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+profileColumnsAuth,
		orgID, strings.ToLower(email), passwordHash, role)
	p, err := scanAuthProfile(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// GetProfileByEmail fetches a profile by email for login.
func (r *OrganizationRepo) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+profileColumnsAuth+`
		FROM profiles
		WHERE email = $1`, strings.ToLower(email))
	p, err := scanAuthProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("profile not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// GetProfile fetches one profile by id.
func (r *OrganizationRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+profileColumnsAuth+`
		FROM profiles
		WHERE id = $1`, id)
	p, err := scanAuthProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("profile not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}
