package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
)

// ConnectionStatus is the aggregated automation view for one connection.
// Every section degrades independently: a failed lookup leaves its section
// nil and adds a warning instead of failing the whole status call.
type ConnectionStatus struct {
	ConnectionID string                            `json:"connection_id"`
	Jobs         *model.JobSummary                 `json:"jobs,omitempty"`
	Metadata     map[model.MetadataType]string     `json:"metadata_freshness,omitempty"`
	SchemaDrift  *SchemaDriftStatus                `json:"schema_drift,omitempty"`
	Validation   *ValidationStatus                 `json:"validation,omitempty"`
	Schedule     *model.AutomationConnectionConfig `json:"schedule,omitempty"`
	Warnings     []string                          `json:"warnings,omitempty"`
	GeneratedAt  time.Time                         `json:"generated_at"`
}

// SchemaDriftStatus summarises recent schema changes.
type SchemaDriftStatus struct {
	ChangesLast24h   int `json:"changes_last_24h"`
	ImportantLast24h int `json:"important_last_24h"`
}

// ValidationStatus summarises recent validation failures.
type ValidationStatus struct {
	FailuresLast24h int `json:"failures_last_24h"`
}

// Cache is the subset of the Redis cache repo the status service uses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// StatusService assembles fail-open connection status snapshots, with a
// short-lived Redis cache in front of the store aggregations.
type StatusService struct {
	jobs          *data.AutomationJobRepo
	metadata      *data.MetadataRepo
	schemaChanges *data.SchemaChangeRepo
	results       *data.ValidationResultRepo
	schedules     *ScheduleService
	cache         Cache
	timeProvider  data.TimeProvider
	logger        *slog.Logger

	cacheTTL time.Duration
}

// StatusServiceOptions holds the dependencies for creating a StatusService.
type StatusServiceOptions struct {
	Jobs          *data.AutomationJobRepo
	Metadata      *data.MetadataRepo
	SchemaChanges *data.SchemaChangeRepo
	Results       *data.ValidationResultRepo
	Schedules     *ScheduleService
	Cache         Cache
	TimeProvider  data.TimeProvider
	Logger        *slog.Logger
	CacheTTL      time.Duration
}

// NewStatusService creates a new StatusService.
func NewStatusService(opts StatusServiceOptions) *StatusService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &StatusService{
		jobs:          opts.Jobs,
		metadata:      opts.Metadata,
		schemaChanges: opts.SchemaChanges,
		results:       opts.Results,
		schedules:     opts.Schedules,
		cache:         opts.Cache,
		timeProvider:  opts.TimeProvider,
		logger:        opts.Logger,
		cacheTTL:      opts.CacheTTL,
	}
}

// GetConnectionStatus assembles the status snapshot for one connection.
func (s *StatusService) GetConnectionStatus(
	ctx context.Context,
	orgID, connectionID string,
) (*ConnectionStatus, error) {
	cacheKey := data.StatusCacheKey(connectionID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			var status ConnectionStatus
			if json.Unmarshal(cached, &status) == nil {
				return &status, nil
			}
		}
	}

	now := s.timeProvider.Now()
	status := &ConnectionStatus{
		ConnectionID: connectionID,
		GeneratedAt:  now,
	}
	warn := func(section string, err error) {
		status.Warnings = append(status.Warnings, section+" unavailable")
		s.logger.Warn("status section failed",
			"connection_id", connectionID,
			"section", section,
			"error", err)
	}

	if summary, err := s.jobs.Summary(ctx, connectionID, 24*time.Hour); err != nil {
		warn("jobs", err)
	} else {
		status.Jobs = summary
	}

	if latest, err := s.metadata.GetLatestByTypes(ctx, connectionID, model.AllMetadataTypes()); err != nil {
		warn("metadata", err)
	} else {
		status.Metadata = make(map[model.MetadataType]string, len(latest))
		for _, t := range model.AllMetadataTypes() {
			if m, ok := latest[t]; ok {
				status.Metadata[t] = string(model.FreshnessOf(m.CollectedAt, now))
			} else {
				status.Metadata[t] = string(model.FreshnessStale)
			}
		}
	}

	cutoff := now.Add(-24 * time.Hour)
	if total, important, err := s.schemaChanges.CountSince(ctx, connectionID, cutoff); err != nil {
		warn("schema_drift", err)
	} else {
		status.SchemaDrift = &SchemaDriftStatus{ChangesLast24h: total, ImportantLast24h: important}
	}

	if failures, err := s.results.FailureCountSince(ctx, connectionID, cutoff); err != nil {
		warn("validation", err)
	} else {
		status.Validation = &ValidationStatus{FailuresLast24h: failures}
	}

	if s.schedules != nil {
		if cfg, err := s.schedules.GetConnectionSchedule(ctx, orgID, connectionID); err != nil {
			if !errors.Is(err, data.ErrConnectionNotFound) {
				warn("schedule", err)
			} else {
				return nil, err
			}
		} else {
			status.Schedule = cfg
		}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(status); err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, s.cacheTTL); err != nil {
				s.logger.Debug("status cache write failed", "error", err)
			}
		}
	}
	return status, nil
}
