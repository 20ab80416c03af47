package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	domainvalidation "github.com/verity-dq/verity/internal/domain/validation"
	"github.com/verity-dq/verity/internal/events"
)

// ValidationService manages validation rules and executes validation runs.
type ValidationService struct {
	rules        *data.ValidationRuleRepo
	results      *data.ValidationResultRepo
	connections  *data.ConnectionRepo
	metadata     *data.MetadataRepo
	factory      connector.Factory
	bus          *events.Bus
	timeProvider data.TimeProvider
	logger       *slog.Logger

	queryTimeout time.Duration
	parallelism  int64
}

// ValidationServiceOptions holds the dependencies for creating a ValidationService.
type ValidationServiceOptions struct {
	Rules        *data.ValidationRuleRepo
	Results      *data.ValidationResultRepo
	Connections  *data.ConnectionRepo
	Metadata     *data.MetadataRepo
	Factory      connector.Factory
	Bus          *events.Bus
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	QueryTimeout time.Duration
	Parallelism  int
}

// NewValidationService creates a new ValidationService.
func NewValidationService(opts ValidationServiceOptions) *ValidationService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 10
	}
	return &ValidationService{
		rules:        opts.Rules,
		results:      opts.Results,
		connections:  opts.Connections,
		metadata:     opts.Metadata,
		factory:      opts.Factory,
		bus:          opts.Bus,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		queryTimeout: opts.QueryTimeout,
		parallelism:  int64(opts.Parallelism),
	}
}

// CreateRule stores a new validation rule.
func (s *ValidationService) CreateRule(
	ctx context.Context,
	orgID string,
	req *model.CreateValidationRuleRequest,
) (*model.ValidationRule, error) {
	if _, err := s.connections.GetByID(ctx, orgID, req.ConnectionID); err != nil {
		return nil, err
	}
	return s.rules.Create(ctx, orgID, req)
}

// GetRule fetches one rule.
func (s *ValidationService) GetRule(ctx context.Context, orgID, id string) (*model.ValidationRule, error) {
	return s.rules.GetByID(ctx, orgID, id)
}

// ListRules returns the rules for one connection.
func (s *ValidationService) ListRules(
	ctx context.Context,
	orgID, connectionID string,
	activeOnly bool,
) ([]*model.ValidationRule, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	return s.rules.ListByConnection(ctx, connectionID, activeOnly)
}

// UpdateRule applies a partial update.
func (s *ValidationService) UpdateRule(
	ctx context.Context,
	orgID, id string,
	req *model.UpdateValidationRuleRequest,
) (*model.ValidationRule, error) {
	return s.rules.Update(ctx, orgID, id, req)
}

// DeleteRule removes a rule.
func (s *ValidationService) DeleteRule(ctx context.Context, orgID, id string) error {
	return s.rules.Delete(ctx, orgID, id)
}

// ListResults returns recent results for one rule.
func (s *ValidationService) ListResults(
	ctx context.Context,
	orgID, ruleID string,
	limit int,
) ([]*model.ValidationResult, error) {
	if _, err := s.rules.GetByID(ctx, orgID, ruleID); err != nil {
		return nil, err
	}
	return s.results.ListByRule(ctx, ruleID, limit)
}

// RunSummary aggregates the outcome of one validation run.
type RunSummary struct {
	RulesEvaluated int      `json:"rules_evaluated"`
	Passed         int      `json:"passed"`
	Failed         int      `json:"failed"`
	Errored        int      `json:"errored"`
	DriftSuspected []string `json:"drift_suspected,omitempty"`
}

// RunForConnection executes every active rule for a connection. Rules run
// concurrently under the parallelism bound with a per-query timeout; each
// outcome is persisted independently so one bad rule never hides the rest.
func (s *ValidationService) RunForConnection(
	ctx context.Context,
	orgID, connectionID string,
) (*RunSummary, error) {
	conn, err := s.connections.GetByIDAnyOrg(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	rules, err := s.rules.ListByConnection(ctx, connectionID, true)
	if err != nil {
		return nil, err
	}
	summary := &RunSummary{RulesEvaluated: len(rules)}
	if len(rules) == 0 {
		return summary, nil
	}

	c, err := s.factory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	sem := semaphore.NewWeighted(s.parallelism)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rule := range rules {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-run; report what completed so far.
			break
		}
		wg.Add(1)
		go func(rule *model.ValidationRule) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := s.runRule(ctx, orgID, c, rule)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.errored:
				summary.Errored++
				if outcome.drift {
					summary.DriftSuspected = append(summary.DriftSuspected, rule.Name)
				}
			case outcome.valid:
				summary.Passed++
			default:
				summary.Failed++
			}
		}(rule)
	}
	wg.Wait()

	if summary.Failed > 0 || summary.Errored > 0 {
		s.publishFailures(ctx, orgID, connectionID, summary)
	}
	if len(summary.DriftSuspected) > 0 {
		s.publishDrift(ctx, orgID, connectionID, summary.DriftSuspected)
	}

	s.logger.Info("validation run finished",
		"connection_id", connectionID,
		"rules", summary.RulesEvaluated,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"errored", summary.Errored)
	return summary, nil
}

type ruleOutcome struct {
	valid   bool
	errored bool
	drift   bool
}

// runRule executes a single rule with its own timeout and persists the
// result. Persistence failures are logged, not propagated, so a transient
// write error does not abort the whole run.
func (s *ValidationService) runRule(
	ctx context.Context,
	orgID string,
	c connector.Connector,
	rule *model.ValidationRule,
) ruleOutcome {
	runAt := s.timeProvider.Now()
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	actual, queryErr := c.QueryScalar(qctx, rule.Query)

	rec := data.ResultRecord{RuleID: rule.ID, RunAt: runAt}
	out := ruleOutcome{}

	if queryErr != nil {
		msg := queryErr.Error()
		rec.IsValid = false
		rec.ErrorMessage = &msg
		out.errored = true
		out.drift = domainvalidation.IsSchemaDriftError(queryErr)
	} else {
		evaluated := domainvalidation.Evaluate(rule.Operator, rule.ExpectedValue, actual)
		rec.IsValid = evaluated.IsValid
		if evaluated.Reason != "" {
			rec.ErrorMessage = &evaluated.Reason
		}
		if raw, err := connector.MarshalActual(actual); err == nil {
			rec.ActualValue = raw
		}
		out.valid = evaluated.IsValid
	}

	if _, err := s.results.Insert(ctx, orgID, rec); err != nil {
		s.logger.Error("persist validation result failed",
			"rule_id", rule.ID,
			"error", err)
	}
	return out
}

func (s *ValidationService) publishFailures(
	ctx context.Context,
	orgID, connectionID string,
	summary *RunSummary,
) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if _, err := s.bus.Publish(ctx, orgID, &connectionID,
		model.EventValidationFailuresDetected, payload); err != nil {
		s.logger.Warn("publish validation failures event failed",
			"connection_id", connectionID,
			"error", err)
	}
}

// publishDrift emits one VALIDATION_FAILURE per rule whose query error looks
// like schema drift. Downstream subscribers use the schema_mismatch reason to
// trigger a targeted metadata refresh.
func (s *ValidationService) publishDrift(
	ctx context.Context,
	orgID, connectionID string,
	ruleNames []string,
) {
	if s.bus == nil {
		return
	}
	for _, name := range ruleNames {
		payload, err := json.Marshal(map[string]string{
			"rule_name": name,
			"reason":    "schema_mismatch",
		})
		if err != nil {
			continue
		}
		if _, err := s.bus.Publish(ctx, orgID, &connectionID,
			model.EventValidationFailure, payload); err != nil {
			s.logger.Warn("publish validation failure event failed",
				"connection_id", connectionID,
				"rule_name", name,
				"error", err)
		}
	}
}

// GenerateDefaultRules creates a not-empty row-count rule per table from the
// latest schema snapshot, skipping tables that already have a rule with the
// generated name. Returns the created rules.
func (s *ValidationService) GenerateDefaultRules(
	ctx context.Context,
	orgID, connectionID string,
) ([]*model.ValidationRule, error) {
	if _, err := s.connections.GetByID(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	snap, err := s.metadata.LatestSchemaSnapshot(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	var created []*model.ValidationRule
	for _, table := range snap.Tables {
		req := &model.CreateValidationRuleRequest{
			ConnectionID:  connectionID,
			TableName:     table.Name,
			Name:          fmt.Sprintf("%s not empty", table.Name),
			Query:         fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table.Name),
			Operator:      model.OperatorGreaterThan,
			ExpectedValue: json.RawMessage(`0`),
		}
		rule, err := s.rules.CreateIfAbsent(ctx, orgID, req)
		if err != nil {
			return created, err
		}
		if rule != nil {
			created = append(created, rule)
		}
	}
	s.logger.Info("default validation rules generated",
		"connection_id", connectionID,
		"created", len(created))
	return created, nil
}
