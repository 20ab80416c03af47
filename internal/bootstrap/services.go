package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/verity-dq/verity/config"
	metadataclient "github.com/verity-dq/verity/internal/adapters/metadata"
	orchestratoradapter "github.com/verity-dq/verity/internal/adapters/orchestrator"
	redisadapter "github.com/verity-dq/verity/internal/adapters/redis"
	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
	"github.com/verity-dq/verity/internal/executors"
	httpx "github.com/verity-dq/verity/internal/http"
	"github.com/verity-dq/verity/internal/observability/notify"
	"github.com/verity-dq/verity/internal/observability/notify/email"
	"github.com/verity-dq/verity/internal/observability/notify/slack"
	"github.com/verity-dq/verity/internal/observability/statsd"
	"github.com/verity-dq/verity/internal/service"
)

// Container holds every wired component of the application. It is built once
// at startup and shared by the enabled services.
type Container struct {
	Config *config.AppConfig
	Logger *slog.Logger

	DB    *sql.DB
	Redis redis.UniversalClient

	Bus     *events.Bus
	Metrics *statsd.Client

	Orgs          *data.OrganizationRepo
	Connections   *data.ConnectionRepo
	Configs       *data.AutomationConfigRepo
	Scheduled     *data.ScheduledJobRepo
	Jobs          *data.AutomationJobRepo
	Runs          *data.AutomationRunRepo
	Events        *data.EventRepo
	Metadata      *data.MetadataRepo
	SchemaChanges *data.SchemaChangeRepo
	Rules         *data.ValidationRuleRepo
	Results       *data.ValidationResultRepo
	Profiles      *data.ProfileHistoryRepo
	Notifications *data.NotificationRepo
	Analytics     *data.AnalyticsRepo
	Cache         *data.RedisCacheRepo

	Auth          *service.AuthService
	ConnectionSvc *service.ConnectionService
	Schedules     *service.ScheduleService
	Orchestrator  *service.OrchestratorService
	Validations   *service.ValidationService
	ProfileSvc    *service.ProfileService
	Status        *service.StatusService
	History       *service.HistoryService
	AnalyticsSvc  *service.AnalyticsService
	Runner        *orchestratoradapter.Runner

	Router http.Handler
}

// NewContainer wires repositories, services, executors, and the HTTP router.
func NewContainer(
	cfg *config.AppConfig,
	logger *slog.Logger,
	db *sql.DB,
	redisClient redis.UniversalClient,
) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Redis:  redisClient,
	}

	c.Orgs = data.NewOrganizationRepo(db)
	c.Connections = data.NewConnectionRepo(db)
	c.Configs = data.NewAutomationConfigRepo(db)
	c.Scheduled = data.NewScheduledJobRepo(db)
	c.Jobs = data.NewAutomationJobRepo(db)
	c.Runs = data.NewAutomationRunRepo(db)
	c.Events = data.NewEventRepo(db)
	c.Metadata = data.NewMetadataRepo(db, logger)
	c.SchemaChanges = data.NewSchemaChangeRepo(db)
	c.Rules = data.NewValidationRuleRepo(db)
	c.Results = data.NewValidationResultRepo(db)
	c.Profiles = data.NewProfileHistoryRepo(db)
	c.Notifications = data.NewNotificationRepo(db)
	c.Analytics = data.NewAnalyticsRepo(db)
	c.Cache = data.NewRedisCacheRepo(redisClient)

	c.Bus = events.NewBus(c.Events, logger)

	metricsClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  "verity",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}
	c.Metrics = metricsClient

	factory := connector.NewDriverFactory()
	sessions := redisadapter.NewSessionStore(redisClient)

	c.Auth = service.NewAuthService(service.AuthServiceOptions{
		Orgs:       c.Orgs,
		Sessions:   sessions,
		Logger:     logger,
		SessionTTL: cfg.Redis.SessionTTL,
	})
	c.ConnectionSvc = service.NewConnectionService(service.ConnectionServiceOptions{
		Connections: c.Connections,
		Configs:     c.Configs,
		Factory:     factory,
		Logger:      logger,
		TestTimeout: cfg.Connectors.ConnectTimeout,
	})
	c.Schedules = service.NewScheduleService(service.ScheduleServiceOptions{
		Configs:     c.Configs,
		Scheduled:   c.Scheduled,
		Connections: c.Connections,
		Bus:         c.Bus,
		Logger:      logger,
	})
	c.Validations = service.NewValidationService(service.ValidationServiceOptions{
		Rules:        c.Rules,
		Results:      c.Results,
		Connections:  c.Connections,
		Metadata:     c.Metadata,
		Factory:      factory,
		Bus:          c.Bus,
		Logger:       logger,
		QueryTimeout: cfg.Automation.QueryTimeout,
		Parallelism:  cfg.Automation.RuleParallelism,
	})
	c.ProfileSvc = service.NewProfileService(service.ProfileServiceOptions{
		Connections:  c.Connections,
		Profiles:     c.Profiles,
		Metadata:     c.Metadata,
		Factory:      factory,
		Bus:          c.Bus,
		Logger:       logger,
		QueryTimeout: cfg.Automation.QueryTimeout,
	})
	c.History = service.NewHistoryService(service.HistoryServiceOptions{
		Events:   c.Events,
		Jobs:     c.Jobs,
		Runs:     c.Runs,
		Profiles: c.Profiles,
		Logger:   logger,
	})
	c.Status = service.NewStatusService(service.StatusServiceOptions{
		Jobs:          c.Jobs,
		Metadata:      c.Metadata,
		SchemaChanges: c.SchemaChanges,
		Results:       c.Results,
		Schedules:     c.Schedules,
		Cache:         c.Cache,
		Logger:        logger,
	})
	c.AnalyticsSvc = service.NewAnalyticsService(service.AnalyticsServiceOptions{
		Analytics:     c.Analytics,
		SchemaChanges: c.SchemaChanges,
		Connections:   c.Connections,
		Logger:        logger,
	})

	metadataManager := metadataclient.NewClient(metadataclient.Options{
		BaseURL:     cfg.Automation.MetadataManagerURL,
		Logger:      logger,
		TableLimit:  cfg.Automation.MetadataTableLimit,
		TaskTimeout: cfg.Automation.MetadataTimeout,
	})
	metadataclient.NewTrigger(metadataclient.TriggerOptions{
		Client: metadataManager,
		Locker: c.Cache,
		Logger: logger,
	}).Register(c.Bus)

	c.Orchestrator = service.NewOrchestratorService(service.OrchestratorServiceOptions{
		Schedules: c.Schedules,
		Jobs:      c.Jobs,
		Runs:      c.Runs,
		Bus:       c.Bus,
		Logger:    logger,
		Config:    cfg.Automation,
		Executors: map[model.AutomationType]service.Executor{
			model.AutomationMetadataRefresh: executors.NewMetadataRefreshExecutor(executors.MetadataRefreshExecutorOptions{
				Client:      metadataManager,
				Connections: c.Connections,
				Bus:         c.Bus,
				Logger:      logger,
			}),
			model.AutomationSchemaChangeDetection: executors.NewSchemaDetectExecutor(executors.SchemaDetectExecutorOptions{
				Connections:   c.Connections,
				Metadata:      c.Metadata,
				SchemaChanges: c.SchemaChanges,
				Factory:       factory,
				Cache:         c.Cache,
				Bus:           c.Bus,
				Logger:        logger,
				TableLimit:    cfg.Automation.SnapshotTableLimit,
			}),
			model.AutomationValidation: executors.NewValidationRunExecutor(c.Validations, logger),
		},
	})

	runner, err := orchestratoradapter.NewRunner(orchestratoradapter.RunnerOptions{
		Orchestrator:  c.Orchestrator,
		TickInterval:  cfg.Automation.TickInterval,
		PurgeInterval: cfg.Automation.PurgeInterval,
		Logger:        logger,
		Metrics:       metricsClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator runner: %w", err)
	}
	c.Runner = runner

	if err := c.registerNotifier(); err != nil {
		return nil, err
	}

	c.Router = httpx.NewRouter(httpx.RouterServices{
		Auth:          c.Auth,
		Connections:   c.ConnectionSvc,
		Schedules:     c.Schedules,
		Orchestrator:  c.Orchestrator,
		Validations:   c.Validations,
		Profiles:      c.ProfileSvc,
		Status:        c.Status,
		History:       c.History,
		Analytics:     c.AnalyticsSvc,
		SchemaChanges: c.SchemaChanges,
		Notifications: c.Notifications,
		Logger:        logger,
	})

	return c, nil
}

// registerNotifier builds the configured notification sinks and subscribes
// the dispatcher to the event bus. With no sinks enabled it does nothing.
func (c *Container) registerNotifier() error {
	if !c.Config.IsNotifierEnabled() {
		return nil
	}
	notifCfg := c.Config.Observability.Notifications

	var sinks []notify.Sink
	if notifCfg.Slack.Enabled {
		slackSink, err := slack.NewClient(slack.Config{
			WebhookURL: notifCfg.Slack.WebhookURL,
			Channel:    notifCfg.Slack.Channel,
			Username:   notifCfg.Slack.Username,
			Timeout:    notifCfg.Timeout,
			RetryLimit: notifCfg.RetryLimit,
		})
		if err != nil {
			return fmt.Errorf("create slack sink: %w", err)
		}
		sinks = append(sinks, slackSink)
	}
	if notifCfg.SMTP.Enabled {
		emailSink, err := email.NewSender(email.Config{
			Host:      notifCfg.SMTP.Host,
			Port:      notifCfg.SMTP.Port,
			Username:  notifCfg.SMTP.Username,
			Password:  notifCfg.SMTP.Password,
			From:      notifCfg.SMTP.From,
			DefaultTo: notifCfg.SMTP.To,
			Timeout:   notifCfg.Timeout,
		})
		if err != nil {
			return fmt.Errorf("create email sink: %w", err)
		}
		sinks = append(sinks, emailSink)
	}
	if len(sinks) == 0 {
		c.Logger.Warn("notifier service enabled but no sinks are configured")
		return nil
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherOptions{
		Settings: c.Notifications,
		Sinks:    sinks,
		Logger:   c.Logger,
		Timeout:  notifCfg.Timeout,
	})
	dispatcher.Register(c.Bus)
	c.Logger.Info("notification dispatcher registered", "sinks", len(sinks))
	return nil
}

// SeedBootstrapAdmin creates the initial organization and admin profile when
// AUTH_BOOTSTRAP_ADMIN_EMAIL is configured and no such profile exists yet.
func (c *Container) SeedBootstrapAdmin(ctx context.Context) error {
	adminEmail := c.Config.Auth.BootstrapAdminEmail
	password := c.Config.Auth.BootstrapAdminPassword
	if adminEmail == "" || password == "" {
		return nil
	}

	_, err := c.Orgs.GetProfileByEmail(ctx, adminEmail)
	if err == nil {
		return nil
	}
	if !apperrors.IsNotFound(err) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}

	cost := c.Config.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	org, err := c.Orgs.CreateOrganization(ctx, "Default Organization")
	if err != nil {
		return fmt.Errorf("create bootstrap organization: %w", err)
	}
	profile, err := c.Orgs.CreateProfile(ctx, org.ID, adminEmail, string(hash), "admin")
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	c.Logger.Info("seeded bootstrap admin",
		"organization_id", org.ID, "profile_id", profile.ID)
	return nil
}

// Close releases infrastructure handles in reverse dependency order.
func (c *Container) Close() {
	if c.Metrics != nil {
		if err := c.Metrics.Close(); err != nil {
			c.Logger.Warn("close metrics client", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("close redis client", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("close database", "error", err)
		}
	}
}
