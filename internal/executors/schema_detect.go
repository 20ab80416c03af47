package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/domain/schemadiff"
	"github.com/verity-dq/verity/internal/events"
)

// schemaChangeDedupWindow suppresses re-recording an identical change within
// this window.
const schemaChangeDedupWindow = 24 * time.Hour

// MetadataCache is the cache subset used to drop stale connection views.
type MetadataCache interface {
	Delete(ctx context.Context, key string) (bool, error)
}

// SchemaDetectExecutor collects a fresh structural snapshot, diffs it
// against the stored one, records deduplicated changes, and atomically
// replaces the stored snapshot.
type SchemaDetectExecutor struct {
	connections   *data.ConnectionRepo
	metadata      *data.MetadataRepo
	schemaChanges *data.SchemaChangeRepo
	factory       connector.Factory
	cache         MetadataCache
	bus           *events.Bus
	logger        *slog.Logger

	tableLimit   int
	snapshotKeep int
}

// SchemaDetectExecutorOptions holds the dependencies for creating a
// SchemaDetectExecutor.
type SchemaDetectExecutorOptions struct {
	Connections   *data.ConnectionRepo
	Metadata      *data.MetadataRepo
	SchemaChanges *data.SchemaChangeRepo
	Factory       connector.Factory
	Cache         MetadataCache
	Bus           *events.Bus
	Logger        *slog.Logger
	TableLimit    int
	SnapshotKeep  int
}

// NewSchemaDetectExecutor creates a new SchemaDetectExecutor.
func NewSchemaDetectExecutor(opts SchemaDetectExecutorOptions) *SchemaDetectExecutor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TableLimit <= 0 {
		opts.TableLimit = 100
	}
	if opts.SnapshotKeep <= 0 {
		opts.SnapshotKeep = 10
	}
	return &SchemaDetectExecutor{
		connections:   opts.Connections,
		metadata:      opts.Metadata,
		schemaChanges: opts.SchemaChanges,
		factory:       opts.Factory,
		cache:         opts.Cache,
		bus:           opts.Bus,
		logger:        opts.Logger,
		tableLimit:    opts.TableLimit,
		snapshotKeep:  opts.SnapshotKeep,
	}
}

// Execute runs schema change detection for the job's connection. The first
// run for a connection establishes a baseline and records no changes.
func (e *SchemaDetectExecutor) Execute(
	ctx context.Context,
	job *model.AutomationJob,
) (json.RawMessage, error) {
	conn, err := e.connections.GetByIDAnyOrg(ctx, job.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	e.invalidateCached(ctx, job.ConnectionID)

	c, err := e.factory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	current, err := c.CollectSchema(ctx, e.tableLimit)
	if err != nil {
		return nil, fmt.Errorf("collect schema: %w", err)
	}

	previous, err := e.metadata.LatestSchemaSnapshot(ctx, job.ConnectionID)
	baseline := false
	if err != nil {
		if !errors.Is(err, data.ErrSnapshotNotFound) {
			return nil, fmt.Errorf("load previous snapshot: %w", err)
		}
		baseline = true
	}

	recorded := 0
	var changes []schemadiff.Change
	if !baseline {
		changes = schemadiff.Diff(previous, current)
		recorded, err = e.recordChanges(ctx, job, changes)
		if err != nil {
			return nil, err
		}
	}

	if _, err := e.metadata.ReplaceSchemaSnapshot(
		ctx, job.OrganizationID, job.ConnectionID, current, e.snapshotKeep,
	); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	if recorded > 0 {
		e.publishChanges(ctx, job, changes, recorded)
	}

	summary, err := json.Marshal(map[string]any{
		"baseline":         baseline,
		"tables_collected": len(current.Tables),
		"changes_detected": len(changes),
		"changes_recorded": recorded,
	})
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return summary, nil
}

// invalidateCached drops the connection's cached status view so reads during
// and after this run rebuild from the store instead of a pre-detection view.
func (e *SchemaDetectExecutor) invalidateCached(ctx context.Context, connectionID string) {
	if e.cache == nil {
		return
	}
	if _, err := e.cache.Delete(ctx, data.StatusCacheKey(connectionID)); err != nil {
		e.logger.Warn("invalidate cached status failed",
			"connection_id", connectionID,
			"error", err)
	}
}

func (e *SchemaDetectExecutor) recordChanges(
	ctx context.Context,
	job *model.AutomationJob,
	changes []schemadiff.Change,
) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	records := make([]data.SchemaChangeRecord, 0, len(changes))
	for _, ch := range changes {
		rec := data.SchemaChangeRecord{
			TableName:  ch.TableName,
			ChangeType: ch.Type,
		}
		if ch.ColumnName != "" {
			col := ch.ColumnName
			rec.ColumnName = &col
		}
		if len(ch.Details) > 0 {
			if raw, err := json.Marshal(ch.Details); err == nil {
				rec.Details = raw
			}
		}
		records = append(records, rec)
	}
	recorded, err := e.schemaChanges.RecordChanges(
		ctx, job.OrganizationID, job.ConnectionID, records, schemaChangeDedupWindow)
	if err != nil {
		return 0, fmt.Errorf("record changes: %w", err)
	}
	return recorded, nil
}

func (e *SchemaDetectExecutor) publishChanges(
	ctx context.Context,
	job *model.AutomationJob,
	changes []schemadiff.Change,
	recorded int,
) {
	if e.bus == nil {
		return
	}
	byType := make(map[string]int, len(changes))
	for _, ch := range changes {
		byType[string(ch.Type)]++
	}
	payload, err := json.Marshal(map[string]any{
		"changes_detected": len(changes),
		"changes_recorded": recorded,
		"by_type":          byType,
	})
	if err != nil {
		return
	}
	connID := job.ConnectionID
	if _, err := e.bus.Publish(ctx, job.OrganizationID, &connID,
		model.EventSchemaChangesDetected, payload); err != nil {
		e.logger.Warn("publish schema changes event failed",
			"connection_id", job.ConnectionID,
			"error", err)
	}
}
