package api

import (
	"context"
	"errors"

	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"

	"github.com/peakml/gradient/manager"
	pkgerrors "github.com/peakml/gradient/pkg/errors"
)

func listRunnersEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRunnerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRunnerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		runners, err := svc.ListRunners(ctx, req.offset, req.limit)
		if err != nil {
			return listRunnerResponse{}, err
		}

		return listRunnerResponse{
			Page: runners,
		}, nil
	}
}

func getRunnerEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runnerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runnerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		r, err := svc.GetRunner(ctx, req.id)
		if err != nil {
			return runnerResponse{}, err
		}

		return runnerResponse{
			Runner: r,
		}, nil
	}
}

func deleteRunnerEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runnerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runnerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.DeleteRunner(ctx, req.id); err != nil {
			return runnerResponse{}, err
		}

		return runnerResponse{
			deleted: true,
		}, nil
	}
}

func createExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(experimentReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.CreateExperiment(ctx, req.Experiment)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
			created:    true,
		}, nil
	}
}

func getExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.GetExperiment(ctx, req.id)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
		}, nil
	}
}

func listExperimentsEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listExperimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listExperimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		experiments, err := svc.ListExperiments(ctx, req.offset, req.limit)
		if err != nil {
			return listExperimentResponse{}, err
		}

		return listExperimentResponse{
			Page: experiments,
		}, nil
	}
}

func updateExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(experimentReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.UpdateExperiment(ctx, req.Experiment)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
		}, nil
	}
}

func deleteExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.DeleteExperiment(ctx, req.id); err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			deleted: true,
		}, nil
	}
}

func startExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.StartExperiment(ctx, req.id); err != nil {
			return experimentResponse{}, err
		}

		exp, err := svc.GetExperiment(ctx, req.id)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
		}, nil
	}
}

func stopExperimentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.StopExperiment(ctx, req.id); err != nil {
			return experimentResponse{}, err
		}

		exp, err := svc.GetExperiment(ctx, req.id)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
		}, nil
	}
}

func getResultsEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return resultsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return resultsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		results, err := svc.GetResults(ctx, req.id)
		if err != nil {
			return resultsResponse{}, err
		}

		return resultsResponse{
			Results: results,
		}, nil
	}
}
