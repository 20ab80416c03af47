package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/service"
)

// ValidationRunExecutor executes the active validation rules for the job's
// connection through the validation service.
type ValidationRunExecutor struct {
	validation *service.ValidationService
	logger     *slog.Logger
}

// NewValidationRunExecutor creates a new ValidationRunExecutor.
func NewValidationRunExecutor(validation *service.ValidationService, logger *slog.Logger) *ValidationRunExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationRunExecutor{validation: validation, logger: logger}
}

// Execute runs every active rule and returns the run summary.
func (e *ValidationRunExecutor) Execute(
	ctx context.Context,
	job *model.AutomationJob,
) (json.RawMessage, error) {
	summary, err := e.validation.RunForConnection(ctx, job.OrganizationID, job.ConnectionID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return raw, nil
}
