// Package executors implements the per-automation-type task executors the
// orchestrator dispatches jobs to.
package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/verity-dq/verity/internal/adapters/metadata"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

// MetadataRefreshExecutor delegates metadata collection to the external task
// manager. Submission is the unit of work here: the manager collects out of
// band and writes snapshots back through its own channel, so the job
// completes once the hand-off is acknowledged.
type MetadataRefreshExecutor struct {
	client      *metadata.Client
	connections *data.ConnectionRepo
	bus         *events.Bus
	logger      *slog.Logger
}

// MetadataRefreshExecutorOptions holds the dependencies for creating a
// MetadataRefreshExecutor.
type MetadataRefreshExecutorOptions struct {
	Client      *metadata.Client
	Connections *data.ConnectionRepo
	Bus         *events.Bus
	Logger      *slog.Logger
}

// NewMetadataRefreshExecutor creates a new MetadataRefreshExecutor.
func NewMetadataRefreshExecutor(opts MetadataRefreshExecutorOptions) *MetadataRefreshExecutor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MetadataRefreshExecutor{
		client:      opts.Client,
		connections: opts.Connections,
		bus:         opts.Bus,
		logger:      opts.Logger,
	}
}

// Execute submits a comprehensive refresh for the job's connection.
func (e *MetadataRefreshExecutor) Execute(
	ctx context.Context,
	job *model.AutomationJob,
) (json.RawMessage, error) {
	if _, err := e.connections.GetByIDAnyOrg(ctx, job.ConnectionID); err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	resp, err := e.client.Submit(ctx, job.OrganizationID, job.ConnectionID, model.AllMetadataTypes())
	if err != nil {
		return nil, err
	}
	e.publishRefreshed(ctx, job, resp)

	summary, err := json.Marshal(map[string]any{
		"task_id":       resp.TaskID,
		"task_status":   resp.Status,
		"refresh_types": model.AllMetadataTypes(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return summary, nil
}

func (e *MetadataRefreshExecutor) publishRefreshed(
	ctx context.Context,
	job *model.AutomationJob,
	resp *metadata.SubmitResponse,
) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"task_id":       resp.TaskID,
		"task_status":   resp.Status,
		"refresh_types": model.AllMetadataTypes(),
	})
	if err != nil {
		return
	}
	connID := job.ConnectionID
	if _, err := e.bus.Publish(ctx, job.OrganizationID, &connID,
		model.EventMetadataRefreshed, payload); err != nil {
		e.logger.Warn("publish metadata refreshed event failed",
			"connection_id", job.ConnectionID,
			"error", err)
	}
}
