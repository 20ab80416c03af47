// Package service provides the business logic for the verity automation
// system: schedule management, orchestration, validation runs, status
// aggregation, and authentication.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	domainschedule "github.com/verity-dq/verity/internal/domain/schedule"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
)

// ScheduleService owns schedule configs and the materialised next-run rows
// the orchestrator polls.
type ScheduleService struct {
	configs      *data.AutomationConfigRepo
	scheduled    *data.ScheduledJobRepo
	connections  *data.ConnectionRepo
	bus          *events.Bus
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// ScheduleServiceOptions holds the dependencies for creating a ScheduleService.
type ScheduleServiceOptions struct {
	Configs      *data.AutomationConfigRepo
	Scheduled    *data.ScheduledJobRepo
	Connections  *data.ConnectionRepo
	Bus          *events.Bus
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(opts ScheduleServiceOptions) *ScheduleService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ScheduleService{
		configs:      opts.Configs,
		scheduled:    opts.Scheduled,
		connections:  opts.Connections,
		bus:          opts.Bus,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}
}

// GetConnectionSchedule returns the stored config for a connection, falling
// back to the documented defaults when none exists.
func (s *ScheduleService) GetConnectionSchedule(
	ctx context.Context,
	orgID, connectionID string,
) (*model.AutomationConnectionConfig, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}

	cfg, err := s.configs.GetByConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, data.ErrConfigNotFound) {
			return &model.AutomationConnectionConfig{
				OrganizationID: orgID,
				ConnectionID:   connectionID,
				Config:         domainschedule.DefaultConfig(),
			}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// UpdateConnectionSchedule validates and stores a schedule config, then
// atomically rebuilds the connection's materialised scheduled jobs with
// freshly computed next runs.
func (s *ScheduleService) UpdateConnectionSchedule(
	ctx context.Context,
	orgID, connectionID string,
	cfg model.ScheduleConfig,
	updatedBy *string,
) (*model.AutomationConnectionConfig, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	cfg.Normalize()

	now := s.timeProvider.Now()
	nextRuns, err := domainschedule.NextRuns(cfg, now)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	jobs := make([]data.ScheduledJobSpec, 0, len(nextRuns))
	for _, at := range model.AllAutomationTypes() {
		sched, ok := cfg[at]
		if !ok || !sched.Enabled {
			continue
		}
		jobs = append(jobs, data.ScheduledJobSpec{
			AutomationType: at,
			Schedule:       sched,
			NextRunAt:      nextRuns[at],
			Enabled:        true,
		})
	}

	previous, existedErr := s.configs.GetByConnection(ctx, connectionID)
	created := errors.Is(existedErr, data.ErrConfigNotFound)
	// Without a stored config nothing is materialised, so the effective
	// prior state is everything disabled.
	before := model.ScheduleConfig{}
	if previous != nil {
		before = previous.Config
	}

	stored, err := s.configs.ReplaceConfigAndJobs(ctx, data.ReplaceConfigParams{
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Config:         cfg,
		UpdatedBy:      updatedBy,
		Jobs:           jobs,
	})
	if err != nil {
		return nil, err
	}

	eventType := model.EventConfigUpdated
	if created {
		eventType = model.EventConfigCreated
	}
	s.publishConfigEvent(ctx, orgID, connectionID, eventType, cfg)
	s.publishEnablementFlips(ctx, orgID, connectionID, before, cfg)

	s.logger.Info("schedule config replaced",
		"connection_id", connectionID,
		"enabled_types", len(jobs))
	return stored, nil
}

// DeleteConnectionSchedule removes the config and scheduled jobs.
func (s *ScheduleService) DeleteConnectionSchedule(ctx context.Context, orgID, connectionID string) error {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return err
	}
	if err := s.configs.DeleteByConnection(ctx, connectionID); err != nil {
		return err
	}
	s.publishConfigEvent(ctx, orgID, connectionID, model.EventConfigDeleted, nil)
	return nil
}

// GetDueJobs returns scheduled jobs due inside the buffer window around now.
func (s *ScheduleService) GetDueJobs(ctx context.Context, buffer time.Duration) ([]*model.ScheduledJob, error) {
	return s.scheduled.FindDue(ctx, s.timeProvider.Now(), buffer)
}

// MarkJobExecuted records the dispatch and advances next_run_at from the
// execution instant, so a late dispatch never schedules into the past.
func (s *ScheduleService) MarkJobExecuted(ctx context.Context, job *model.ScheduledJob) error {
	now := s.timeProvider.Now()
	next, err := domainschedule.NextRun(job.Schedule, now)
	if err != nil {
		return fmt.Errorf("recompute next run for %s/%s: %w", job.ConnectionID, job.AutomationType, err)
	}
	return s.scheduled.MarkExecuted(ctx, job.ID, now, next)
}

// publishEnablementFlips emits one AUTOMATION_ENABLED or AUTOMATION_DISABLED
// event per automation type whose enabled flag changed between configs.
func (s *ScheduleService) publishEnablementFlips(
	ctx context.Context,
	orgID, connectionID string,
	before, after model.ScheduleConfig,
) {
	if s.bus == nil {
		return
	}
	for _, at := range model.AllAutomationTypes() {
		was := before[at].Enabled
		now := after[at].Enabled
		if was == now {
			continue
		}
		eventType := model.EventAutomationDisabled
		if now {
			eventType = model.EventAutomationEnabled
		}
		payload, err := json.Marshal(map[string]any{
			"automation_type": at,
			"enabled":         now,
		})
		if err != nil {
			continue
		}
		if _, err := s.bus.Publish(ctx, orgID, &connectionID, eventType, payload); err != nil {
			s.logger.Warn("publish enablement event failed",
				"event_type", eventType,
				"connection_id", connectionID,
				"automation_type", at,
				"error", err)
		}
	}
}

func (s *ScheduleService) publishConfigEvent(
	ctx context.Context,
	orgID, connectionID string,
	eventType model.EventType,
	cfg model.ScheduleConfig,
) {
	if s.bus == nil {
		return
	}
	var payload json.RawMessage
	if cfg != nil {
		if raw, err := json.Marshal(map[string]any{"schedule_config": cfg}); err == nil {
			payload = raw
		}
	}
	if _, err := s.bus.Publish(ctx, orgID, &connectionID, eventType, payload); err != nil {
		s.logger.Warn("publish config event failed",
			"event_type", eventType,
			"connection_id", connectionID,
			"error", err)
	}
}
