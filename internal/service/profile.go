package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

// ProfileService runs ad-hoc statistical profiles of single tables and
// persists them as profiling history.
type ProfileService struct {
	connections  *data.ConnectionRepo
	profiles     *data.ProfileHistoryRepo
	metadata     *data.MetadataRepo
	factory      connector.Factory
	bus          *events.Bus
	timeProvider data.TimeProvider
	logger       *slog.Logger

	queryTimeout time.Duration
	columnLimit  int
}

// ProfileServiceOptions holds the dependencies for creating a ProfileService.
type ProfileServiceOptions struct {
	Connections  *data.ConnectionRepo
	Profiles     *data.ProfileHistoryRepo
	Metadata     *data.MetadataRepo
	Factory      connector.Factory
	Bus          *events.Bus
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	QueryTimeout time.Duration
	ColumnLimit  int
}

// NewProfileService creates a new ProfileService.
func NewProfileService(opts ProfileServiceOptions) *ProfileService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	if opts.ColumnLimit <= 0 {
		opts.ColumnLimit = 25
	}
	return &ProfileService{
		connections:  opts.Connections,
		profiles:     opts.Profiles,
		metadata:     opts.Metadata,
		factory:      opts.Factory,
		bus:          opts.Bus,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		queryTimeout: opts.QueryTimeout,
		columnLimit:  opts.ColumnLimit,
	}
}

// columnProfile is the per-column slice of a stored profile document.
type columnProfile struct {
	NullCount int64 `json:"null_count"`
}

// Run profiles one table and stores the snapshot. Column statistics come from
// the latest schema snapshot when one exists; a table without one still gets
// a row count. Per-column query failures are skipped, not fatal.
func (s *ProfileService) Run(
	ctx context.Context,
	orgID, connectionID, table string,
) (*model.ProfileHistory, error) {
	conn, err := s.connections.GetByID(ctx, orgID, connectionID)
	if err != nil {
		return nil, err
	}

	c, err := s.factory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	quoted := connector.QuoteIdentifier(table)
	rowCount, err := s.scalarInt(ctx, c, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoted))
	if err != nil {
		return nil, err
	}

	columns := make(map[string]columnProfile)
	for _, col := range s.tableColumns(ctx, connectionID, table) {
		// COUNT(col) skips NULLs on every engine we target.
		nulls, err := s.scalarInt(ctx, c, fmt.Sprintf(
			`SELECT COUNT(*) - COUNT(%s) FROM %s`, connector.QuoteIdentifier(col), quoted))
		if err != nil {
			s.logger.Warn("column profile query failed",
				"connection_id", connectionID,
				"table", table,
				"column", col,
				"error", err)
			continue
		}
		columns[col] = columnProfile{NullCount: nulls}
	}

	now := s.timeProvider.Now()
	doc, err := json.Marshal(map[string]any{
		"row_count":    rowCount,
		"columns":      columns,
		"collected_at": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	stored, err := s.profiles.Insert(ctx, orgID, connectionID, table, doc, now)
	if err != nil {
		return nil, err
	}

	s.publishCompletion(ctx, orgID, connectionID, table, rowCount)
	return stored, nil
}

func (s *ProfileService) scalarInt(ctx context.Context, c connector.Connector, query string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	value, err := c.QueryScalar(ctx, query)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return 0, fmt.Errorf("non-numeric count %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("non-numeric count %T", value)
	}
}

// tableColumns resolves the column list from the stored schema snapshot. An
// absent snapshot yields no columns rather than an error.
func (s *ProfileService) tableColumns(ctx context.Context, connectionID, table string) []string {
	snap, err := s.metadata.LatestSchemaSnapshot(ctx, connectionID)
	if err != nil {
		return nil
	}
	for _, t := range snap.Tables {
		if !strings.EqualFold(t.Name, table) {
			continue
		}
		cols := make([]string, 0, len(t.Columns))
		for _, col := range t.Columns {
			cols = append(cols, col.Name)
			if len(cols) >= s.columnLimit {
				break
			}
		}
		return cols
	}
	return nil
}

func (s *ProfileService) publishCompletion(
	ctx context.Context,
	orgID, connectionID, table string,
	rowCount int64,
) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"table":     table,
		"row_count": rowCount,
	})
	if err != nil {
		return
	}
	connID := connectionID
	if _, err := s.bus.Publish(ctx, orgID, &connID, model.EventProfileCompletion, payload); err != nil {
		s.logger.Warn("publish profile completion failed",
			"connection_id", connectionID,
			"table", table,
			"error", err)
	}
}
