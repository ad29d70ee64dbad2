package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/runner"
)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    manager.Service
}

func Logging(logger *slog.Logger, svc manager.Service) manager.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) GetRunner(ctx context.Context, id string) (resp runner.Runner, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("runner",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get runner failed", args...)

			return
		}
		lm.logger.Info("Get runner completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRunner(ctx, id)
}

func (lm *loggingMiddleware) ListRunners(ctx context.Context, offset, limit uint64) (resp runner.Page, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List runners failed", args...)

			return
		}
		lm.logger.Info("List runners completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRunners(ctx, offset, limit)
}

func (lm *loggingMiddleware) DeleteRunner(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("runner",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Delete runner failed", args...)

			return
		}
		lm.logger.Info("Delete runner completed successfully", args...)
	}(time.Now())

	return lm.svc.DeleteRunner(ctx, id)
}

func (lm *loggingMiddleware) CreateExperiment(ctx context.Context, exp experiment.Experiment) (resp experiment.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("name", exp.Name),
				slog.String("project", exp.Project),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create experiment failed", args...)

			return
		}
		lm.logger.Info("Create experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateExperiment(ctx, exp)
}

func (lm *loggingMiddleware) GetExperiment(ctx context.Context, id string) (resp experiment.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get experiment failed", args...)

			return
		}
		lm.logger.Info("Get experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.GetExperiment(ctx, id)
}

func (lm *loggingMiddleware) ListExperiments(ctx context.Context, offset, limit uint64) (resp experiment.Page, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List experiments failed", args...)

			return
		}
		lm.logger.Info("List experiments completed successfully", args...)
	}(time.Now())

	return lm.svc.ListExperiments(ctx, offset, limit)
}

func (lm *loggingMiddleware) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (resp experiment.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", exp.ID),
				slog.String("name", exp.Name),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Update experiment failed", args...)

			return
		}
		lm.logger.Info("Update experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.UpdateExperiment(ctx, exp)
}

func (lm *loggingMiddleware) DeleteExperiment(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Delete experiment failed", args...)

			return
		}
		lm.logger.Info("Delete experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.DeleteExperiment(ctx, id)
}

func (lm *loggingMiddleware) StartExperiment(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Start experiment failed", args...)

			return
		}
		lm.logger.Info("Start experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.StartExperiment(ctx, id)
}

func (lm *loggingMiddleware) StopExperiment(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Stop experiment failed", args...)

			return
		}
		lm.logger.Info("Stop experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.StopExperiment(ctx, id)
}

func (lm *loggingMiddleware) GetResults(ctx context.Context, id string) (resp map[string]any, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get results failed", args...)

			return
		}
		lm.logger.Info("Get results completed successfully", args...)
	}(time.Now())

	return lm.svc.GetResults(ctx, id)
}

func (lm *loggingMiddleware) Subscribe(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Subscribe failed", args...)

			return
		}
		lm.logger.Info("Subscribe completed successfully", args...)
	}(time.Now())

	return lm.svc.Subscribe(ctx)
}

func (lm *loggingMiddleware) RecoverInterruptedExperiments(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Recover interrupted experiments failed", args...)

			return
		}
		lm.logger.Info("Recover interrupted experiments completed successfully", args...)
	}(time.Now())

	return lm.svc.RecoverInterruptedExperiments(ctx)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown failed", args...)

			return
		}
		lm.logger.Info("Shutdown completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
