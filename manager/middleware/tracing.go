package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/runner"
)

var _ manager.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    manager.Service
}

func Tracing(tracer trace.Tracer, svc manager.Service) manager.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) GetRunner(ctx context.Context, id string) (runner.Runner, error) {
	ctx, span := tm.tracer.Start(ctx, "get-runner", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetRunner(ctx, id)
}

func (tm *tracing) ListRunners(ctx context.Context, offset, limit uint64) (runner.Page, error) {
	ctx, span := tm.tracer.Start(ctx, "list-runners", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRunners(ctx, offset, limit)
}

func (tm *tracing) DeleteRunner(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "delete-runner", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.DeleteRunner(ctx, id)
}

func (tm *tracing) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "create-experiment", trace.WithAttributes(
		attribute.String("name", exp.Name),
		attribute.String("project", exp.Project),
	))
	defer span.End()

	return tm.svc.CreateExperiment(ctx, exp)
}

func (tm *tracing) GetExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "get-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetExperiment(ctx, id)
}

func (tm *tracing) ListExperiments(ctx context.Context, offset, limit uint64) (experiment.Page, error) {
	ctx, span := tm.tracer.Start(ctx, "list-experiments", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListExperiments(ctx, offset, limit)
}

func (tm *tracing) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "update-experiment", trace.WithAttributes(
		attribute.String("id", exp.ID),
	))
	defer span.End()

	return tm.svc.UpdateExperiment(ctx, exp)
}

func (tm *tracing) DeleteExperiment(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "delete-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.DeleteExperiment(ctx, id)
}

func (tm *tracing) StartExperiment(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "start-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.StartExperiment(ctx, id)
}

func (tm *tracing) StopExperiment(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "stop-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.StopExperiment(ctx, id)
}

func (tm *tracing) GetResults(ctx context.Context, id string) (map[string]any, error) {
	ctx, span := tm.tracer.Start(ctx, "get-results", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetResults(ctx, id)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "subscribe")
	defer span.End()

	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) RecoverInterruptedExperiments(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "recover-interrupted-experiments")
	defer span.End()

	return tm.svc.RecoverInterruptedExperiments(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
