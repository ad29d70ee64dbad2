package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/pkg/api"
)

func MakeHandler(svc manager.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/runners", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listRunnersEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-runners").ServeHTTP)
		r.Route("/{runnerID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getRunnerEndpoint(svc),
				decodeEntityReq("runnerID"),
				api.EncodeResponse,
				opts...,
			), "get-runner").ServeHTTP)
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				deleteRunnerEndpoint(svc),
				decodeEntityReq("runnerID"),
				api.EncodeResponse,
				opts...,
			), "delete-runner").ServeHTTP)
		})
	})

	mux.Route("/experiments", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			createExperimentEndpoint(svc),
			decodeExperimentReq,
			api.EncodeResponse,
			opts...,
		), "create-experiment").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listExperimentsEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-experiments").ServeHTTP)
		r.Route("/{experimentID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getExperimentEndpoint(svc),
				decodeEntityReq("experimentID"),
				api.EncodeResponse,
				opts...,
			), "get-experiment").ServeHTTP)
			r.Put("/", otelhttp.NewHandler(kithttp.NewServer(
				updateExperimentEndpoint(svc),
				decodeUpdateExperimentReq,
				api.EncodeResponse,
				opts...,
			), "update-experiment").ServeHTTP)
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				deleteExperimentEndpoint(svc),
				decodeEntityReq("experimentID"),
				api.EncodeResponse,
				opts...,
			), "delete-experiment").ServeHTTP)
			r.Post("/start", otelhttp.NewHandler(kithttp.NewServer(
				startExperimentEndpoint(svc),
				decodeEntityReq("experimentID"),
				api.EncodeResponse,
				opts...,
			), "start-experiment").ServeHTTP)
			r.Post("/stop", otelhttp.NewHandler(kithttp.NewServer(
				stopExperimentEndpoint(svc),
				decodeEntityReq("experimentID"),
				api.EncodeResponse,
				opts...,
			), "stop-experiment").ServeHTTP)
			r.Get("/results", otelhttp.NewHandler(kithttp.NewServer(
				getResultsEndpoint(svc),
				decodeEntityReq("experimentID"),
				api.EncodeResponse,
				opts...,
			), "get-results").ServeHTTP)
		})
	})

	mux.Get("/health", supermq.Health("manager", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeExperimentReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req experimentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeUpdateExperimentReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
	var req experimentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}
	req.ID = chi.URLParam(r, "experimentID")

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}
