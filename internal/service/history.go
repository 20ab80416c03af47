package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
)

// HistoryService exposes the persisted event log, job history, and profiling
// history for API reads.
type HistoryService struct {
	events   *data.EventRepo
	jobs     *data.AutomationJobRepo
	runs     *data.AutomationRunRepo
	profiles *data.ProfileHistoryRepo
	logger   *slog.Logger
}

// HistoryServiceOptions holds the dependencies for creating a HistoryService.
type HistoryServiceOptions struct {
	Events   *data.EventRepo
	Jobs     *data.AutomationJobRepo
	Runs     *data.AutomationRunRepo
	Profiles *data.ProfileHistoryRepo
	Logger   *slog.Logger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(opts HistoryServiceOptions) *HistoryService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HistoryService{
		events:   opts.Events,
		jobs:     opts.Jobs,
		runs:     opts.Runs,
		profiles: opts.Profiles,
		logger:   opts.Logger,
	}
}

// ListEvents returns recent events for an organization.
func (s *HistoryService) ListEvents(
	ctx context.Context,
	opts data.EventListOptions,
) ([]*model.AutomationEvent, error) {
	return s.events.List(ctx, opts)
}

// ListJobs returns recent jobs filtered by the options.
func (s *HistoryService) ListJobs(
	ctx context.Context,
	opts data.JobListOptions,
) ([]*model.AutomationJob, error) {
	return s.jobs.List(ctx, opts)
}

// GetJob returns one job scoped to the organization.
func (s *HistoryService) GetJob(ctx context.Context, orgID, jobID string) (*model.AutomationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OrganizationID != orgID {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

// ListJobRuns returns the audit runs for one job.
func (s *HistoryService) ListJobRuns(ctx context.Context, orgID, jobID string) ([]*model.AutomationRun, error) {
	if _, err := s.GetJob(ctx, orgID, jobID); err != nil {
		return nil, err
	}
	return s.runs.ListByJob(ctx, jobID)
}

// ListProfiles returns profiling snapshots for one table.
func (s *HistoryService) ListProfiles(
	ctx context.Context,
	connectionID, tableName string,
	limit int,
) ([]*model.ProfileHistory, error) {
	return s.profiles.ListByTable(ctx, connectionID, tableName, limit)
}

// JobWindow converts an hour count into a duration with a sane default.
func JobWindow(hours int) time.Duration {
	if hours <= 0 || hours > 24*30 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
