package api_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/manager/api"
	"github.com/peakml/gradient/manager/mocks"
	"github.com/peakml/gradient/runner"
)

func newServer(t *testing.T) (*httptest.Server, *mocks.MockService) {
	t.Helper()

	svc := new(mocks.MockService)
	ts := httptest.NewServer(api.MakeHandler(svc, slog.Default(), "test-instance"))
	t.Cleanup(ts.Close)

	return ts, svc
}

func testExperiment() experiment.Experiment {
	return experiment.Experiment{
		Name: "mnist",
		Replicas: []experiment.ReplicaSpec{
			{Role: cluster.Worker, Count: 2, Image: "registry.local/trainer:v1"},
		},
	}
}

func TestCreateExperimentEndpoint(t *testing.T) {
	ts, svc := newServer(t)

	exp := testExperiment()
	created := exp
	created.ID = "exp-1"
	svc.On("CreateExperiment", mock.Anything, mock.Anything).Return(created, nil)

	body, err := json.Marshal(exp)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/experiments", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/experiments/exp-1", resp.Header.Get("Location"))

	var got experiment.Experiment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "exp-1", got.ID)
	svc.AssertExpectations(t)
}

func TestCreateExperimentEndpointRejectsEmptyReplicas(t *testing.T) {
	ts, _ := newServer(t)

	body, err := json.Marshal(experiment.Experiment{Name: "empty"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/experiments", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateExperimentEndpointRejectsContentType(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Post(ts.URL+"/experiments", "text/plain", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestListExperimentsEndpoint(t *testing.T) {
	ts, svc := newServer(t)

	page := experiment.Page{
		Offset:      5,
		Limit:       10,
		Total:       1,
		Experiments: []experiment.Experiment{{ID: "exp-1"}},
	}
	svc.On("ListExperiments", mock.Anything, uint64(5), uint64(10)).Return(page, nil)

	resp, err := http.Get(ts.URL + "/experiments?offset=5&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got experiment.Page
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint64(1), got.Total)
	svc.AssertExpectations(t)
}

func TestStartStopExperimentEndpoints(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("StartExperiment", mock.Anything, "exp-1").Return(nil)
	svc.On("StopExperiment", mock.Anything, "exp-1").Return(nil)
	svc.On("GetExperiment", mock.Anything, "exp-1").Return(experiment.Experiment{ID: "exp-1", State: experiment.Running}, nil).Once()
	svc.On("GetExperiment", mock.Anything, "exp-1").Return(experiment.Experiment{ID: "exp-1", State: experiment.Cancelled}, nil).Once()

	resp, err := http.Post(ts.URL+"/experiments/exp-1/start", "application/json", nil)
	require.NoError(t, err)
	var started experiment.Experiment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, experiment.Running, started.State)

	resp, err = http.Post(ts.URL+"/experiments/exp-1/stop", "application/json", nil)
	require.NoError(t, err)
	var stopped experiment.Experiment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stopped))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, experiment.Cancelled, stopped.State)

	svc.AssertExpectations(t)
}

func TestGetResultsEndpoint(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("GetResults", mock.Anything, "exp-1").Return(map[string]any{"worker-0": "ok"}, nil)

	resp, err := http.Get(ts.URL + "/experiments/exp-1/results")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Results map[string]any `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Results["worker-0"])
	svc.AssertExpectations(t)
}

func TestDeleteExperimentEndpoint(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("DeleteExperiment", mock.Anything, "exp-1").Return(nil)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/experiments/exp-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestRunnerEndpoints(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("GetRunner", mock.Anything, "runner-1").Return(runner.Runner{ID: "runner-1", Name: "alpha"}, nil)
	svc.On("ListRunners", mock.Anything, uint64(0), uint64(100)).Return(runner.Page{Total: 1, Runners: []runner.Runner{{ID: "runner-1"}}}, nil)
	svc.On("DeleteRunner", mock.Anything, "runner-1").Return(nil)

	resp, err := http.Get(ts.URL + "/runners/runner-1")
	require.NoError(t, err)
	var got runner.Runner
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "alpha", got.Name)

	resp, err = http.Get(ts.URL + "/runners")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/runners/runner-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
