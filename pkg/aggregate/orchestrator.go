package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/upstream-gateway/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for aggregations.
var (
	aggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_aggregations_total",
		Help: "Total aggregations by policy and outcome (success, partial, failure)",
	}, []string{"policy", "outcome"})

	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_aggregation_duration_seconds",
		Help:    "Aggregation duration in seconds by policy",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"policy"})

	subcallFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_subcall_failures_total",
		Help: "Total failed sub-calls by policy",
	}, []string{"policy"})
)

// Caller performs one upstream call. *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, spec client.CallSpec) (json.RawMessage, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// MaxConcurrency caps in-flight calls per aggregation; 0 = unlimited
	MaxConcurrency int
}

// Orchestrator runs aggregations over a Caller.
type Orchestrator struct {
	caller Caller
	config Config
	logger zerolog.Logger
}

// New creates an orchestrator.
func New(caller Caller, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxConcurrency < 0 {
		cfg.MaxConcurrency = 0
	}
	return &Orchestrator{
		caller: caller,
		config: cfg,
		logger: logger,
	}
}

// Run dispatches every call of req concurrently and waits for all of them
// to settle.
//
// Under AllOrNothing the error is a *Failure for the first call to fail.
// The failure cancels the remaining non-cacheable calls; cacheable calls run
// to completion so their documents still reach the cache before Run returns.
// Under BestEffort the error is only ever ErrInvalidRequest; call failures
// are kept in the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	policy := req.Policy
	if policy == "" {
		policy = AllOrNothing
	}

	if err := validate(req.Calls, policy); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		aggregationDuration.WithLabelValues(string(policy)).Observe(time.Since(start).Seconds())
	}()

	if len(req.Calls) == 0 {
		aggregationsTotal.WithLabelValues(string(policy), "success").Inc()
		return &Result{Policy: policy, Outcomes: map[string]Outcome{}}, nil
	}

	o.logger.Debug().
		Str("policy", string(policy)).
		Int("calls", len(req.Calls)).
		Msg("Starting aggregation")

	var (
		result *Result
		err    error
	)
	if policy == AllOrNothing {
		result, err = o.runAllOrNothing(ctx, req)
	} else {
		result = o.runBestEffort(ctx, req)
	}

	switch {
	case err != nil:
		aggregationsTotal.WithLabelValues(string(policy), "failure").Inc()
	case len(result.Failed()) > 0:
		aggregationsTotal.WithLabelValues(string(policy), "partial").Inc()
	default:
		aggregationsTotal.WithLabelValues(string(policy), "success").Inc()
	}

	o.logger.Debug().
		Str("policy", string(policy)).
		Int("calls", len(req.Calls)).
		Dur("duration", time.Since(start)).
		Bool("ok", err == nil).
		Msg("Aggregation complete")

	return result, err
}

func (o *Orchestrator) runAllOrNothing(ctx context.Context, req Request) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	if o.config.MaxConcurrency > 0 {
		g.SetLimit(o.config.MaxConcurrency)
	}

	var mu sync.Mutex
	outcomes := make(map[string]Outcome, len(req.Calls))

	for _, spec := range req.Calls {
		// A failing sibling only cancels calls that cannot populate the
		// cache; cacheable calls settle under the caller's context.
		callCtx := gctx
		if spec.Cacheable {
			callCtx = ctx
		}

		g.Go(func() error {
			doc, err := o.call(callCtx, spec, req.Retry)
			if err != nil {
				return &Failure{Call: spec.Name, Err: client.AsUpstreamError(err)}
			}

			mu.Lock()
			outcomes[spec.Name] = Outcome{Value: doc}
			mu.Unlock()
			return nil
		})
	}

	// errgroup keeps the first non-nil error, which is the first failure by
	// completion. Wait returns only once every dispatched call has settled.
	if err := g.Wait(); err != nil {
		subcallFailuresTotal.WithLabelValues(string(AllOrNothing)).Inc()
		failure, _ := err.(*Failure)
		if failure != nil {
			o.logger.Warn().
				Str("call", failure.Call).
				Str("kind", string(failure.Err.Kind)).
				Int("status", failure.Err.StatusCode).
				Msg("Aggregation failed")
		}
		return nil, err
	}

	return &Result{Policy: AllOrNothing, Outcomes: outcomes}, nil
}

func (o *Orchestrator) runBestEffort(ctx context.Context, req Request) *Result {
	var g errgroup.Group
	if o.config.MaxConcurrency > 0 {
		g.SetLimit(o.config.MaxConcurrency)
	}

	var mu sync.Mutex
	outcomes := make(map[string]Outcome, len(req.Calls))

	for _, spec := range req.Calls {
		g.Go(func() error {
			doc, err := o.call(ctx, spec, req.Retry)

			outcome := Outcome{Value: doc}
			if err != nil {
				outcome = Outcome{Err: client.AsUpstreamError(err)}
				subcallFailuresTotal.WithLabelValues(string(BestEffort)).Inc()
				o.logger.Debug().
					Str("call", spec.Name).
					Str("kind", string(outcome.Err.Kind)).
					Int("status", outcome.Err.StatusCode).
					Msg("Sub-call failed")
			}

			mu.Lock()
			outcomes[spec.Name] = outcome
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return &Result{Policy: BestEffort, Outcomes: outcomes}
}

// call performs one sub-call, with caller-side retry when configured.
func (o *Orchestrator) call(ctx context.Context, spec client.CallSpec, retry client.RetryConfig) (json.RawMessage, error) {
	if !retry.Enabled() {
		return o.caller.Call(ctx, spec)
	}

	var doc json.RawMessage
	err := client.Retry(ctx, retry, func(ctx context.Context) error {
		var err error
		doc, err = o.caller.Call(ctx, spec)
		return err
	})
	return doc, err
}

func validate(calls []client.CallSpec, policy Policy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidRequest, policy)
	}

	seen := make(map[string]struct{}, len(calls))
	for i, spec := range calls {
		if spec.Name == "" {
			return fmt.Errorf("%w: call %d has no name", ErrInvalidRequest, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("%w: duplicate call name %q", ErrInvalidRequest, spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}
