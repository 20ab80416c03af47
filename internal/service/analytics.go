package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/verity-dq/verity/internal/data"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// AnalyticsService computes and queries metadata-change analytics documents.
type AnalyticsService struct {
	analytics     *data.AnalyticsRepo
	schemaChanges *data.SchemaChangeRepo
	connections   *data.ConnectionRepo
	timeProvider  data.TimeProvider
	logger        *slog.Logger
}

// AnalyticsServiceOptions holds the dependencies for creating an AnalyticsService.
type AnalyticsServiceOptions struct {
	Analytics     *data.AnalyticsRepo
	SchemaChanges *data.SchemaChangeRepo
	Connections   *data.ConnectionRepo
	TimeProvider  data.TimeProvider
	Logger        *slog.Logger
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(opts AnalyticsServiceOptions) *AnalyticsService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AnalyticsService{
		analytics:     opts.Analytics,
		schemaChanges: opts.SchemaChanges,
		connections:   opts.Connections,
		timeProvider:  opts.TimeProvider,
		logger:        opts.Logger,
	}
}

// ComputeWindow aggregates schema changes over the trailing window into an
// analytics document and stores it.
func (s *AnalyticsService) ComputeWindow(
	ctx context.Context,
	orgID, connectionID string,
	window time.Duration,
) (*data.AnalyticsRow, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}

	end := s.timeProvider.Now()
	start := end.Add(-window)

	changes, err := s.schemaChanges.List(ctx, data.SchemaChangeListOptions{
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Since:          start,
		Limit:          500,
	})
	if err != nil {
		return nil, err
	}

	byType := make(map[string]int)
	byTable := make(map[string]int)
	important := 0
	for _, ch := range changes {
		byType[string(ch.ChangeType)]++
		byTable[ch.TableName]++
		if ch.IsImportant {
			important++
		}
	}

	doc, err := json.Marshal(map[string]any{
		"total_changes":     len(changes),
		"important_changes": important,
		"by_type":           byType,
		"by_table":          byTable,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analytics: %w", err)
	}

	return s.analytics.Insert(ctx, orgID, connectionID, start, end, doc)
}

// Query runs a JMESPath expression against the latest analytics document for
// the connection.
func (s *AnalyticsService) Query(
	ctx context.Context,
	orgID, connectionID, expression string,
) (any, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	row, err := s.analytics.GetLatest(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(row.Analytics, &doc); err != nil {
		return nil, fmt.Errorf("decode analytics: %w", err)
	}

	result, err := jmespath.Search(expression, doc)
	if err != nil {
		return nil, apperrors.Validationf("invalid analytics query: %v", err)
	}
	return result, nil
}
