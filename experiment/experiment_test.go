package experiment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
)

func validExperiment() experiment.Experiment {
	return experiment.Experiment{
		Name: "mnist-distributed",
		Replicas: []experiment.ReplicaSpec{
			{Role: cluster.Worker, Count: 2, Image: "registry.local/trainer:latest"},
			{Role: cluster.PS, Count: 1, Image: "registry.local/trainer:latest"},
		},
		ModelDir: "/srv/models/mnist",
	}
}

func TestExperimentValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*experiment.Experiment)
		err    error
	}{
		{name: "valid", mutate: func(e *experiment.Experiment) {}},
		{
			name:   "no replicas",
			mutate: func(e *experiment.Experiment) { e.Replicas = nil },
			err:    experiment.ErrNoReplicas,
		},
		{
			name: "unknown role",
			mutate: func(e *experiment.Experiment) {
				e.Replicas[0].Role = "master"
			},
			err: cluster.ErrUnknownRole,
		},
		{
			name: "duplicate role",
			mutate: func(e *experiment.Experiment) {
				e.Replicas[1].Role = cluster.Worker
			},
			err: experiment.ErrDuplicateRole,
		},
		{
			name: "zero count",
			mutate: func(e *experiment.Experiment) {
				e.Replicas[0].Count = 0
			},
			err: experiment.ErrZeroCount,
		},
		{
			name: "several chiefs",
			mutate: func(e *experiment.Experiment) {
				e.Replicas[0] = experiment.ReplicaSpec{Role: cluster.Chief, Count: 2, Image: "img"}
			},
			err: cluster.ErrMultipleChiefs,
		},
		{
			name: "no image or package",
			mutate: func(e *experiment.Experiment) {
				e.Replicas[0].Image = ""
			},
			err: experiment.ErrMissingImage,
		},
		{
			name: "only parameter servers",
			mutate: func(e *experiment.Experiment) {
				e.Replicas = e.Replicas[1:]
			},
			err: experiment.ErrNoWorkers,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validExperiment()
			tc.mutate(&e)
			err := e.Validate()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPackageURLSatisfiesImage(t *testing.T) {
	e := validExperiment()
	e.Replicas[0].Image = ""
	e.PackageURL = "registry.local/pkgs/mnist:latest"
	assert.NoError(t, e.Validate())
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, experiment.Pending.Terminal())
	assert.False(t, experiment.Running.Terminal())
	assert.True(t, experiment.Completed.Terminal())
	assert.True(t, experiment.Failed.Terminal())
	assert.True(t, experiment.Cancelled.Terminal())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Pending", experiment.Pending.String())
	assert.Equal(t, "Cancelled", experiment.Cancelled.String())
	assert.Equal(t, "Unknown", experiment.State(42).String())
}
