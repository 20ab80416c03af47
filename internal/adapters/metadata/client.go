// Package metadata is the HTTP client for the external metadata-collection
// task manager.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// SubmitRequest describes one refresh task handed to the task manager.
type SubmitRequest struct {
	RequestID      string               `json:"request_id"`
	ConnectionID   string               `json:"connection_id"`
	OrganizationID string               `json:"organization_id"`
	RefreshTypes   []model.MetadataType `json:"refresh_types"`
	Depth          string               `json:"depth"`
	TableLimit     int                  `json:"table_limit"`
	TimeoutSeconds int                  `json:"timeout_seconds"`
}

// SubmitResponse is the task manager's acknowledgement.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Client talks to the metadata task manager. Submission is acknowledged
// synchronously; collection itself completes out of band.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	depth       string
	tableLimit  int
	taskTimeout time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
	TableLimit  int
	TaskTimeout time.Duration
}

// NewClient creates a metadata task manager client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tableLimit := opts.TableLimit
	if tableLimit <= 0 {
		tableLimit = 50
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 45 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     opts.BaseURL,
		httpClient:  httpClient,
		logger:      logger,
		depth:       "comprehensive",
		tableLimit:  tableLimit,
		taskTimeout: taskTimeout,
	}
}

// Submit enqueues a comprehensive refresh for the connection. The returned
// task ID identifies the collection run on the manager side.
func (c *Client) Submit(
	ctx context.Context,
	orgID, connectionID string,
	refreshTypes []model.MetadataType,
) (*SubmitResponse, error) {
	if len(refreshTypes) == 0 {
		refreshTypes = model.AllMetadataTypes()
	}

	// The manager dedupes retried submissions on this key.
	requestID := uuid.NewString()

	body, err := json.Marshal(SubmitRequest{
		RequestID:      requestID,
		ConnectionID:   connectionID,
		OrganizationID: orgID,
		RefreshTypes:   refreshTypes,
		Depth:          c.depth,
		TableLimit:     c.tableLimit,
		TimeoutSeconds: int(c.taskTimeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/metadata/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout("metadata manager submission timed out")
		}
		return nil, apperrors.Upstream(fmt.Sprintf("metadata manager unreachable: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Upstream(fmt.Sprintf(
			"metadata manager returned %d: %s", resp.StatusCode, string(snippet)))
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("decode submit response: %v", err))
	}

	c.logger.Info("metadata refresh submitted",
		"connection_id", connectionID,
		"request_id", requestID,
		"task_id", out.TaskID,
		"refresh_types", refreshTypes)
	return &out, nil
}
