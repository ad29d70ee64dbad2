package sdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/pkg/sdk"
	"github.com/peakml/gradient/runner"
)

func newServer(t *testing.T, handler http.HandlerFunc) sdk.SDK {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return sdk.NewSDK(sdk.Config{ManagerURL: srv.URL})
}

func TestCreateExperiment(t *testing.T) {
	exp := experiment.Experiment{
		Name: "mnist-distributed",
		Replicas: []experiment.ReplicaSpec{
			{Role: cluster.Worker, Count: 2, Image: "registry.local/trainer:v1"},
		},
	}

	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/experiments", r.URL.Path)

		var got experiment.Experiment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		got.ID = "exp-1"

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(got))
	})

	created, err := s.CreateExperiment(exp)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", created.ID)
	assert.Equal(t, "mnist-distributed", created.Name)
}

func TestGetExperiment(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/experiments/exp-1", r.URL.Path)

		require.NoError(t, json.NewEncoder(w).Encode(experiment.Experiment{
			ID:    "exp-1",
			State: experiment.Running,
		}))
	})

	exp, err := s.GetExperiment("exp-1")
	require.NoError(t, err)
	assert.Equal(t, experiment.Running, exp.State)
}

func TestGetExperimentNotFound(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := s.GetExperiment("missing")
	assert.Error(t, err)
}

func TestListExperiments(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/experiments", r.URL.Path)
		assert.Equal(t, "offset=5&limit=10", r.URL.RawQuery)

		require.NoError(t, json.NewEncoder(w).Encode(experiment.Page{
			Offset:      5,
			Limit:       10,
			Total:       1,
			Experiments: []experiment.Experiment{{ID: "exp-1"}},
		}))
	})

	page, err := s.ListExperiments(5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), page.Total)
	require.Len(t, page.Experiments, 1)
}

func TestStartStopExperiment(t *testing.T) {
	var paths []string
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)

		require.NoError(t, json.NewEncoder(w).Encode(experiment.Experiment{ID: "exp-1"}))
	})

	require.NoError(t, s.StartExperiment("exp-1"))
	require.NoError(t, s.StopExperiment("exp-1"))
	assert.Equal(t, []string{"/experiments/exp-1/start", "/experiments/exp-1/stop"}, paths)
}

func TestGetResults(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/experiments/exp-1/results", r.URL.Path)

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"worker-0": map[string]any{"loss": 0.01}},
		}))
	})

	results, err := s.GetResults("exp-1")
	require.NoError(t, err)
	assert.Contains(t, results, "worker-0")
}

func TestDeleteExperiment(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/experiments/exp-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, s.DeleteExperiment("exp-1"))
}

func TestListRunners(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runners", r.URL.Path)

		require.NoError(t, json.NewEncoder(w).Encode(runner.Page{
			Total:   1,
			Runners: []runner.Runner{{ID: "runner-1", Alive: true}},
		}))
	})

	page, err := s.ListRunners(0, 0)
	require.NoError(t, err)
	require.Len(t, page.Runners, 1)
	assert.True(t, page.Runners[0].Alive)
}
