// Package orchestrator provides the adapter that runs the orchestration loop.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/observability/errorclass"
	"github.com/verity-dq/verity/internal/observability/metrics"
	"github.com/verity-dq/verity/internal/observability/statsd"
	"github.com/verity-dq/verity/internal/service"
)

// Runner drives the orchestrator service on two tickers: the dispatch tick
// and the slower terminal-job purge.
type Runner struct {
	orchestrator  *service.OrchestratorService
	tickInterval  time.Duration
	purgeInterval time.Duration
	logger        *slog.Logger
	metrics       statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Orchestrator  *service.OrchestratorService
	TickInterval  time.Duration
	PurgeInterval time.Duration
	Logger        *slog.Logger
	Metrics       statsd.Sink
}

// NewRunner creates a new orchestrator runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator service is required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		orchestrator:  opts.Orchestrator,
		tickInterval:  opts.TickInterval,
		purgeInterval: opts.PurgeInterval,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}, nil
}

// Run starts the orchestration loop and runs until the context is cancelled.
// Tick errors are logged and the loop keeps going; on shutdown the runner
// drains in-flight jobs before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting orchestrator runner",
		"tick_interval", r.tickInterval,
		"purge_interval", r.purgeInterval)

	tick := time.NewTicker(r.tickInterval)
	defer tick.Stop()
	purge := time.NewTicker(r.purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("orchestrator runner stopping", "reason", ctx.Err())
			r.orchestrator.Drain()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-tick.C:
			r.runTick(ctx)

		case <-purge.C:
			r.runPurge(ctx)
		}
	}
}

func (r *Runner) runTick(ctx context.Context) {
	start := time.Now()
	dispatched, err := r.orchestrator.Tick(ctx)
	elapsed := time.Since(start)

	r.emitTickMetrics(dispatched, elapsed, err)

	switch {
	case err != nil:
		// Keep running despite errors.
		r.logger.Error("orchestrator tick failed", "error", err)
	case dispatched > 0:
		r.logger.Info("orchestrator tick dispatched jobs",
			"dispatched", dispatched,
			"elapsed", elapsed)
	}
}

func (r *Runner) runPurge(ctx context.Context) {
	purged, err := r.orchestrator.Purge(ctx)
	if err != nil {
		r.logger.Error("terminal job purge failed", "error", err)
		if r.metrics != nil {
			r.metrics.Count("orchestrator.purge_errors", 1, map[string]string{
				"error_class": errorclass.Classify(err),
			})
		}
		return
	}
	if purged > 0 {
		r.logger.Info("purged terminal jobs", "purged", purged)
	}
	if r.metrics != nil {
		r.metrics.Count("orchestrator.jobs_purged", purged, nil)
	}
}

func (r *Runner) emitTickMetrics(dispatched int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if dispatched == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := errorclass.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("orchestrator.tick", 1, tags)
	if dispatched > 0 {
		r.metrics.Count("orchestrator.jobs_dispatched", int64(dispatched), tags)
	}
	if elapsed > 0 {
		r.metrics.Timing("orchestrator.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("orchestrator.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
