package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/verity-dq/verity/config"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
)

// Executor runs one automation type. The summary it returns is stored on the
// job row on success.
type Executor interface {
	Execute(ctx context.Context, job *model.AutomationJob) (json.RawMessage, error)
}

// OrchestratorService discovers due scheduled jobs on each tick, applies the
// duplicate filters, and dispatches executions to a bounded worker pool.
type OrchestratorService struct {
	schedules    *ScheduleService
	jobs         *data.AutomationJobRepo
	runs         *data.AutomationRunRepo
	bus          *events.Bus
	timeProvider data.TimeProvider
	logger       *slog.Logger
	cfg          config.AutomationConfig

	executors map[model.AutomationType]Executor

	workers *semaphore.Weighted
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// OrchestratorServiceOptions holds the dependencies for creating an OrchestratorService.
type OrchestratorServiceOptions struct {
	Schedules    *ScheduleService
	Jobs         *data.AutomationJobRepo
	Runs         *data.AutomationRunRepo
	Bus          *events.Bus
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Config       config.AutomationConfig
	Executors    map[model.AutomationType]Executor
}

// NewOrchestratorService creates a new OrchestratorService.
func NewOrchestratorService(opts OrchestratorServiceOptions) *OrchestratorService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()
	return &OrchestratorService{
		schedules:    opts.Schedules,
		jobs:         opts.Jobs,
		runs:         opts.Runs,
		bus:          opts.Bus,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		cfg:          opts.Config,
		executors:    opts.Executors,
		workers:      semaphore.NewWeighted(int64(opts.Config.Workers)),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Tick runs one orchestration pass: discover due jobs, filter, create job
// rows, advance schedules, and dispatch to the worker pool. Returns the
// number of jobs dispatched. Dispatch errors for one pair never block the
// rest of the batch.
func (s *OrchestratorService) Tick(ctx context.Context) (int, error) {
	due, err := s.schedules.GetDueJobs(ctx, s.cfg.DueBuffer)
	if err != nil {
		return 0, fmt.Errorf("find due jobs: %w", err)
	}

	dispatched := 0
	seen := make(map[string]bool, len(due))
	for _, sj := range due {
		key := sj.ConnectionID + "|" + string(sj.AutomationType)
		if seen[key] {
			continue
		}
		seen[key] = true

		ok, err := s.dispatchScheduled(ctx, sj)
		if err != nil {
			s.logger.Error("dispatch failed",
				"connection_id", sj.ConnectionID,
				"automation_type", sj.AutomationType,
				"error", err)
			continue
		}
		if ok {
			dispatched++
		}
	}
	return dispatched, nil
}

// dispatchScheduled applies the running/recent filters to one due row, then
// creates the job and hands it to the pool. The schedule is advanced even
// when a filter suppresses dispatch, so a skipped run does not re-fire every
// tick until its buffer closes.
func (s *OrchestratorService) dispatchScheduled(ctx context.Context, sj *model.ScheduledJob) (bool, error) {
	allowed, reason := s.admit(ctx, sj.ConnectionID, sj.AutomationType)
	if !allowed {
		s.logger.Info("scheduled run suppressed",
			"connection_id", sj.ConnectionID,
			"automation_type", sj.AutomationType,
			"reason", reason)
		return false, s.schedules.MarkJobExecuted(ctx, sj)
	}

	job, err := s.jobs.Create(ctx, sj.OrganizationID, sj.ConnectionID, sj.AutomationType)
	if err != nil {
		return false, fmt.Errorf("create job: %w", err)
	}
	if err := s.schedules.MarkJobExecuted(ctx, sj); err != nil {
		return false, fmt.Errorf("advance schedule: %w", err)
	}

	s.publishJobEvent(ctx, job, model.EventJobScheduled, nil)
	s.dispatch(job)
	return true, nil
}

// admit applies the duplicate filters for one (connection, type) pair. The
// filter reads fail open: an unreadable job table admits a possibly duplicate
// run instead of silently halting all automation.
func (s *OrchestratorService) admit(
	ctx context.Context,
	connectionID string,
	at model.AutomationType,
) (allowed bool, reason string) {
	running, err := s.jobs.IsRunning(ctx, connectionID, at)
	switch {
	case err != nil:
		s.logger.Warn("running filter unavailable, admitting",
			"connection_id", connectionID,
			"automation_type", at,
			"error", err)
	case running:
		return false, "already_running"
	}
	recent, err := s.jobs.HasRecent(ctx, connectionID, at,
		s.timeProvider.Now().Add(-s.cfg.RecentJobWindow))
	switch {
	case err != nil:
		s.logger.Warn("recent filter unavailable, admitting",
			"connection_id", connectionID,
			"automation_type", at,
			"error", err)
	case recent:
		return false, "recent_job"
	}
	return true, ""
}

// dispatch hands a job to the bounded worker pool without blocking the tick.
func (s *OrchestratorService) dispatch(job *model.AutomationJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runCtx, cancel := context.WithCancel(context.Background())
		s.registerCancel(job.ID, cancel)
		defer s.unregisterCancel(job.ID)

		if err := s.workers.Acquire(runCtx, 1); err != nil {
			s.failJob(runCtx, job, fmt.Errorf("acquire worker: %w", err))
			return
		}
		defer s.workers.Release(1)

		s.runJob(runCtx, job)
	}()
}

// runJob executes one job through its registered executor, recording the
// lifecycle transitions and the run audit row.
func (s *OrchestratorService) runJob(ctx context.Context, job *model.AutomationJob) {
	exec, ok := s.executors[job.JobType]
	if !ok {
		s.failJob(ctx, job, fmt.Errorf("no executor for %s", job.JobType))
		return
	}

	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		// Cancelled before pickup; nothing to run.
		s.logger.Warn("job not started",
			"job_id", job.ID,
			"error", err)
		return
	}
	s.publishJobEvent(ctx, job, model.EventJobStarted, nil)

	summary, err := exec.Execute(ctx, job)
	switch {
	case ctx.Err() != nil:
		if markErr := s.jobs.MarkCancelled(context.Background(), job.ID); markErr != nil {
			s.logger.Error("mark cancelled failed", "job_id", job.ID, "error", markErr)
		}
		s.publishJobEvent(context.Background(), job, model.EventJobCancelled, nil)
	case err != nil:
		s.failJob(ctx, job, err)
	default:
		if markErr := s.jobs.MarkCompleted(ctx, job.ID, summary); markErr != nil {
			s.logger.Error("mark completed failed", "job_id", job.ID, "error", markErr)
		}
		s.recordRun(ctx, job, summary)
		s.publishJobEvent(ctx, job, model.EventJobCompleted, summary)
	}
}

func (s *OrchestratorService) failJob(ctx context.Context, job *model.AutomationJob, cause error) {
	if err := s.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		s.logger.Error("mark failed failed", "job_id", job.ID, "error", err)
	}
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	s.publishJobEvent(ctx, job, model.EventJobFailed, payload)
	s.logger.Error("job failed",
		"job_id", job.ID,
		"connection_id", job.ConnectionID,
		"job_type", job.JobType,
		"error", cause)
}

func (s *OrchestratorService) recordRun(ctx context.Context, job *model.AutomationJob, results json.RawMessage) {
	if s.runs == nil {
		return
	}
	if _, err := s.runs.Insert(ctx, job.OrganizationID, job.ID, job.ConnectionID, job.JobType, results); err != nil {
		s.logger.Warn("record run failed", "job_id", job.ID, "error", err)
	}
}

// TriggerImmediate creates jobs for the requested automation types outside
// the schedule, applying the same duplicate filters as a tick. Suppressed
// types are reported rather than silently dropped.
func (s *OrchestratorService) TriggerImmediate(
	ctx context.Context,
	orgID, connectionID string,
	types []model.AutomationType,
) (*model.ImmediateRunResult, error) {
	if len(types) == 0 {
		types = model.AllAutomationTypes()
	}
	result := &model.ImmediateRunResult{
		JobsCreated:         []string{},
		PreventedDuplicates: []string{},
	}
	for _, at := range types {
		if !at.Valid() {
			return nil, apperrors.Validationf("invalid automation type %q", at)
		}
		allowed, _ := s.admit(ctx, connectionID, at)
		if !allowed {
			result.PreventedDuplicates = append(result.PreventedDuplicates, string(at))
			continue
		}
		job, err := s.jobs.Create(ctx, orgID, connectionID, at)
		if err != nil {
			return nil, err
		}
		result.JobsCreated = append(result.JobsCreated, job.ID)
		s.publishJobEvent(ctx, job, model.EventManualTrigger, nil)
		s.dispatch(job)
	}
	return result, nil
}

// CancelJob requests cooperative cancellation of an in-flight job, or marks
// a scheduled job cancelled directly.
func (s *OrchestratorService) CancelJob(ctx context.Context, orgID, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OrganizationID != orgID {
		return data.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return apperrors.Conflictf("job %s is already %s", jobID, job.Status)
	}

	s.mu.Lock()
	cancel, inFlight := s.cancels[jobID]
	s.mu.Unlock()
	if inFlight {
		cancel()
		return nil
	}
	return s.jobs.MarkCancelled(ctx, jobID)
}

// Purge deletes terminal jobs older than the retention window. Returns the
// number of rows removed.
func (s *OrchestratorService) Purge(ctx context.Context) (int64, error) {
	cutoff := s.timeProvider.Now().Add(-s.cfg.PurgeRetention)
	return s.jobs.PurgeTerminal(ctx, cutoff)
}

// Drain waits for in-flight executors to finish, up to the shutdown grace.
func (s *OrchestratorService) Drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace elapsed with executors in flight")
		s.mu.Lock()
		for _, cancel := range s.cancels {
			cancel()
		}
		s.mu.Unlock()
	}
}

func (s *OrchestratorService) registerCancel(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = cancel
}

func (s *OrchestratorService) unregisterCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

func (s *OrchestratorService) publishJobEvent(
	ctx context.Context,
	job *model.AutomationJob,
	eventType model.EventType,
	extra json.RawMessage,
) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"details":  extra,
	})
	if err != nil {
		return
	}
	connID := job.ConnectionID
	if _, err := s.bus.Publish(ctx, job.OrganizationID, &connID, eventType, payload); err != nil {
		s.logger.Warn("publish job event failed",
			"job_id", job.ID,
			"event_type", eventType,
			"error", err)
	}
}
