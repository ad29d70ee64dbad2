package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/runner"
)

var _ manager.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     manager.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc manager.Service) manager.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) instrument(method string) func() {
	begin := time.Now()

	return func() {
		mm.counter.With("method", method).Add(1)
		mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
	}
}

func (mm *metricsMiddleware) GetRunner(ctx context.Context, id string) (runner.Runner, error) {
	defer mm.instrument("get-runner")()

	return mm.svc.GetRunner(ctx, id)
}

func (mm *metricsMiddleware) ListRunners(ctx context.Context, offset, limit uint64) (runner.Page, error) {
	defer mm.instrument("list-runners")()

	return mm.svc.ListRunners(ctx, offset, limit)
}

func (mm *metricsMiddleware) DeleteRunner(ctx context.Context, id string) error {
	defer mm.instrument("delete-runner")()

	return mm.svc.DeleteRunner(ctx, id)
}

func (mm *metricsMiddleware) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	defer mm.instrument("create-experiment")()

	return mm.svc.CreateExperiment(ctx, exp)
}

func (mm *metricsMiddleware) GetExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	defer mm.instrument("get-experiment")()

	return mm.svc.GetExperiment(ctx, id)
}

func (mm *metricsMiddleware) ListExperiments(ctx context.Context, offset, limit uint64) (experiment.Page, error) {
	defer mm.instrument("list-experiments")()

	return mm.svc.ListExperiments(ctx, offset, limit)
}

func (mm *metricsMiddleware) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	defer mm.instrument("update-experiment")()

	return mm.svc.UpdateExperiment(ctx, exp)
}

func (mm *metricsMiddleware) DeleteExperiment(ctx context.Context, id string) error {
	defer mm.instrument("delete-experiment")()

	return mm.svc.DeleteExperiment(ctx, id)
}

func (mm *metricsMiddleware) StartExperiment(ctx context.Context, id string) error {
	defer mm.instrument("start-experiment")()

	return mm.svc.StartExperiment(ctx, id)
}

func (mm *metricsMiddleware) StopExperiment(ctx context.Context, id string) error {
	defer mm.instrument("stop-experiment")()

	return mm.svc.StopExperiment(ctx, id)
}

func (mm *metricsMiddleware) GetResults(ctx context.Context, id string) (map[string]any, error) {
	defer mm.instrument("get-results")()

	return mm.svc.GetResults(ctx, id)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	defer mm.instrument("subscribe")()

	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) RecoverInterruptedExperiments(ctx context.Context) error {
	defer mm.instrument("recover-interrupted-experiments")()

	return mm.svc.RecoverInterruptedExperiments(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	defer mm.instrument("shutdown")()

	return mm.svc.Shutdown(ctx)
}
