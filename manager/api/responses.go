package api

import (
	"net/http"

	"github.com/absmach/supermq"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/runner"
)

var (
	_ supermq.Response = (*runnerResponse)(nil)
	_ supermq.Response = (*listRunnerResponse)(nil)
	_ supermq.Response = (*experimentResponse)(nil)
	_ supermq.Response = (*listExperimentResponse)(nil)
	_ supermq.Response = (*resultsResponse)(nil)
)

type runnerResponse struct {
	runner.Runner
	deleted bool
}

func (r runnerResponse) Code() int {
	if r.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (r runnerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r runnerResponse) Empty() bool {
	return r.deleted
}

type listRunnerResponse struct {
	runner.Page
}

func (l listRunnerResponse) Code() int {
	return http.StatusOK
}

func (l listRunnerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRunnerResponse) Empty() bool {
	return false
}

type experimentResponse struct {
	experiment.Experiment
	created bool
	deleted bool
}

func (e experimentResponse) Code() int {
	if e.created {
		return http.StatusCreated
	}
	if e.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (e experimentResponse) Headers() map[string]string {
	if e.created {
		return map[string]string{
			"Location": "/experiments/" + e.ID,
		}
	}

	return map[string]string{}
}

func (e experimentResponse) Empty() bool {
	return e.deleted
}

type listExperimentResponse struct {
	experiment.Page
}

func (l listExperimentResponse) Code() int {
	return http.StatusOK
}

func (l listExperimentResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listExperimentResponse) Empty() bool {
	return false
}

type resultsResponse struct {
	Results map[string]any `json:"results"`
}

func (r resultsResponse) Code() int {
	return http.StatusOK
}

func (r resultsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r resultsResponse) Empty() bool {
	return false
}
