package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// ConnectionService manages database connections and runs connectivity
// probes against them. API reads always return sanitised connections.
type ConnectionService struct {
	connections *data.ConnectionRepo
	configs     *data.AutomationConfigRepo
	factory     connector.Factory
	logger      *slog.Logger

	testTimeout time.Duration
}

// ConnectionServiceOptions holds the dependencies for creating a ConnectionService.
type ConnectionServiceOptions struct {
	Connections *data.ConnectionRepo
	Configs     *data.AutomationConfigRepo
	Factory     connector.Factory
	Logger      *slog.Logger
	TestTimeout time.Duration
}

// NewConnectionService creates a new ConnectionService.
func NewConnectionService(opts ConnectionServiceOptions) *ConnectionService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 10 * time.Second
	}
	return &ConnectionService{
		connections: opts.Connections,
		configs:     opts.Configs,
		factory:     opts.Factory,
		logger:      opts.Logger,
		testTimeout: opts.TestTimeout,
	}
}

// Create stores a connection and returns it without credentials.
func (s *ConnectionService) Create(
	ctx context.Context,
	orgID string,
	req *model.CreateConnectionRequest,
) (*model.Connection, error) {
	conn, err := s.connections.Create(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("connection created",
		"connection_id", conn.ID,
		"connection_type", conn.Type,
		"is_default", conn.IsDefault)
	return conn.Sanitized(), nil
}

// Get returns one sanitised connection.
func (s *ConnectionService) Get(ctx context.Context, orgID, id string) (*model.Connection, error) {
	conn, err := s.connections.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return conn.Sanitized(), nil
}

// List returns the organization's sanitised connections.
func (s *ConnectionService) List(ctx context.Context, orgID string) ([]*model.Connection, error) {
	conns, err := s.connections.List(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Connection, len(conns))
	for i, c := range conns {
		out[i] = c.Sanitized()
	}
	return out, nil
}

// Update applies a partial update and returns the sanitised result.
func (s *ConnectionService) Update(
	ctx context.Context,
	orgID, id string,
	req *model.UpdateConnectionRequest,
) (*model.Connection, error) {
	conn, err := s.connections.Update(ctx, orgID, id, req)
	if err != nil {
		return nil, err
	}
	return conn.Sanitized(), nil
}

// Delete removes a connection along with its schedule config, jobs, metadata,
// and changes via store cascades.
func (s *ConnectionService) Delete(ctx context.Context, orgID, id string) error {
	if err := s.connections.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.logger.Info("connection deleted", "connection_id", id)
	return nil
}

// TestResult reports the outcome of a connectivity probe.
type TestResult struct {
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Test opens the connection with its stored credentials and pings it within
// the probe timeout. A failed probe is a result, not an error.
func (s *ConnectionService) Test(ctx context.Context, orgID, id string) (*TestResult, error) {
	conn, err := s.connections.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()

	start := time.Now()
	c, err := s.factory.Open(ctx, conn)
	if err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	defer func() { _ = c.Close() }()

	if err := c.Ping(ctx); err != nil {
		return &TestResult{
			Success:   false,
			LatencyMS: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}, nil
	}
	return &TestResult{Success: true, LatencyMS: time.Since(start).Milliseconds()}, nil
}

// TestUnsaved probes credentials that have not been stored yet. As with
// Test, a failed probe is a result, not an error.
func (s *ConnectionService) TestUnsaved(
	ctx context.Context,
	connType model.ConnectionType,
	details json.RawMessage,
) (*TestResult, error) {
	if !connType.Valid() {
		return nil, apperrors.Validationf("invalid connection type %q", connType)
	}
	if len(details) > 0 && !json.Valid(details) {
		return nil, apperrors.Validation("connection_details must be valid JSON")
	}

	ctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()

	start := time.Now()
	c, err := s.factory.Open(ctx, &model.Connection{Type: connType, Details: details})
	if err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	defer func() { _ = c.Close() }()

	if err := c.Ping(ctx); err != nil {
		return &TestResult{
			Success:   false,
			LatencyMS: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}, nil
	}
	return &TestResult{Success: true, LatencyMS: time.Since(start).Milliseconds()}, nil
}

// ListTables returns table names visible through the connection.
func (s *ConnectionService) ListTables(ctx context.Context, orgID, id string) ([]string, error) {
	conn, err := s.connections.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	c, err := s.factory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return c.ListTables(ctx)
}

// PreviewRows returns up to limit rows from a table.
func (s *ConnectionService) PreviewRows(
	ctx context.Context,
	orgID, id, table string,
	limit int,
) ([]map[string]any, error) {
	conn, err := s.connections.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	c, err := s.factory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return c.PreviewRows(ctx, table, limit)
}
