// Package devseed populates a development database with a demo organization,
// an admin login, a sample connection, and a starter set of validation rules.
// Seeding is idempotent: existing rows are left alone on rerun.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/service"
)

const (
	seedOrgName       = "Acme Analytics"
	seedAdminEmail    = "admin@verity.local"
	seedAdminPassword = "verity-dev"
	seedConnName      = "Demo DuckDB"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB          *sql.DB
	orgs        *data.OrganizationRepo
	connections *data.ConnectionRepo
	rules       *data.ValidationRuleRepo
	schedules   *service.ScheduleService
}

// NewServices constructs the repositories and services used by seeding.
func NewServices(db *sql.DB) Services {
	connections := data.NewConnectionRepo(db)
	return Services{
		DB:          db,
		orgs:        data.NewOrganizationRepo(db),
		connections: connections,
		rules:       data.NewValidationRuleRepo(db),
		schedules: service.NewScheduleService(service.ScheduleServiceOptions{
			Configs:     data.NewAutomationConfigRepo(db),
			Scheduled:   data.NewScheduledJobRepo(db),
			Connections: connections,
		}),
	}
}

// Run executes the development seeding workflow.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	orgID, err := seedOrganization(ctx, svcs, logger)
	if err != nil {
		return err
	}

	conn, err := seedConnection(ctx, svcs, logger, orgID)
	if err != nil {
		return err
	}

	if err := seedSchedule(ctx, svcs, logger, orgID, conn.ID); err != nil {
		return err
	}
	return seedRules(ctx, svcs, logger, orgID, conn.ID)
}

// seedOrganization creates the demo org and admin profile, returning the
// organization ID. An existing admin profile short-circuits creation.
func seedOrganization(ctx context.Context, svcs Services, logger *slog.Logger) (string, error) {
	profile, err := svcs.orgs.GetProfileByEmail(ctx, seedAdminEmail)
	if err == nil {
		logger.InfoContext(ctx, "seed admin already exists", "email", seedAdminEmail)
		return profile.OrganizationID, nil
	}
	if !apperrors.IsNotFound(err) {
		return "", fmt.Errorf("look up seed admin: %w", err)
	}

	org, err := svcs.orgs.CreateOrganization(ctx, seedOrgName)
	if err != nil {
		return "", fmt.Errorf("create seed organization: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedAdminPassword), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("hash seed password: %w", err)
	}
	if _, err := svcs.orgs.CreateProfile(ctx, org.ID, seedAdminEmail, string(hash), "admin"); err != nil {
		return "", fmt.Errorf("create seed admin: %w", err)
	}

	logger.InfoContext(ctx, "seeded organization and admin",
		"organization_id", org.ID, "email", seedAdminEmail)
	return org.ID, nil
}

func seedConnection(
	ctx context.Context,
	svcs Services,
	logger *slog.Logger,
	orgID string,
) (*model.Connection, error) {
	existing, err := svcs.connections.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	for _, c := range existing {
		if c.Name == seedConnName {
			logger.InfoContext(ctx, "seed connection already exists", "connection_id", c.ID)
			return c, nil
		}
	}

	details, err := json.Marshal(model.ConnectionDetails{Path: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("marshal seed connection details: %w", err)
	}
	conn, err := svcs.connections.Create(ctx, orgID, &model.CreateConnectionRequest{
		Name:      seedConnName,
		Type:      model.ConnectionTypeDuckDB,
		Details:   details,
		IsDefault: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create seed connection: %w", err)
	}

	logger.InfoContext(ctx, "seeded connection", "connection_id", conn.ID)
	return conn, nil
}

func seedSchedule(
	ctx context.Context,
	svcs Services,
	logger *slog.Logger,
	orgID, connectionID string,
) error {
	cfg, err := svcs.schedules.GetConnectionSchedule(ctx, orgID, connectionID)
	if err != nil {
		return fmt.Errorf("load seed schedule: %w", err)
	}
	if cfg.ID != "" {
		logger.InfoContext(ctx, "seed schedule already exists", "connection_id", connectionID)
		return nil
	}

	nightly := model.Schedule{
		Enabled:  true,
		Type:     model.ScheduleDaily,
		Time:     "02:00",
		Timezone: "UTC",
	}
	if _, err := svcs.schedules.UpdateConnectionSchedule(ctx, orgID, connectionID, model.ScheduleConfig{
		model.AutomationMetadataRefresh:       nightly,
		model.AutomationSchemaChangeDetection: nightly,
		model.AutomationValidation:            nightly,
	}, nil); err != nil {
		return fmt.Errorf("create seed schedule: %w", err)
	}

	logger.InfoContext(ctx, "seeded nightly schedule", "connection_id", connectionID)
	return nil
}

func seedRules(
	ctx context.Context,
	svcs Services,
	logger *slog.Logger,
	orgID, connectionID string,
) error {
	rules := []model.CreateValidationRuleRequest{
		{
			ConnectionID:  connectionID,
			TableName:     "orders",
			Name:          "orders_not_empty",
			Query:         "SELECT COUNT(*) FROM orders",
			Operator:      model.OperatorGreaterThan,
			ExpectedValue: json.RawMessage(`0`),
		},
		{
			ConnectionID:  connectionID,
			TableName:     "orders",
			Name:          "orders_id_no_nulls",
			Query:         "SELECT COUNT(*) - COUNT(id) FROM orders",
			Operator:      model.OperatorEquals,
			ExpectedValue: json.RawMessage(`0`),
		},
	}

	created := 0
	for i := range rules {
		rule, err := svcs.rules.CreateIfAbsent(ctx, orgID, &rules[i])
		if err != nil {
			return fmt.Errorf("create seed rule %q: %w", rules[i].Name, err)
		}
		if rule != nil {
			created++
		}
	}

	logger.InfoContext(ctx, "seeded validation rules", "created", created, "total", len(rules))
	return nil
}
