package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/cluster"
)

func validSpec() cluster.Spec {
	return cluster.Spec{
		cluster.Chief:  {"10.0.0.1:2222"},
		cluster.Worker: {"10.0.0.2:2222", "10.0.0.3:2222"},
		cluster.PS:     {"10.0.0.4:2222"},
	}
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name string
		spec cluster.Spec
		err  error
	}{
		{
			name: "valid",
			spec: validSpec(),
		},
		{
			name: "empty",
			spec: cluster.Spec{},
			err:  cluster.ErrEmptySpec,
		},
		{
			name: "unknown role",
			spec: cluster.Spec{"master": {"10.0.0.1:2222"}},
			err:  cluster.ErrUnknownRole,
		},
		{
			name: "role without addresses",
			spec: cluster.Spec{cluster.Worker: {}},
			err:  cluster.ErrNoAddresses,
		},
		{
			name: "missing port",
			spec: cluster.Spec{cluster.Worker: {"10.0.0.1"}},
			err:  cluster.ErrBadAddress,
		},
		{
			name: "non numeric port",
			spec: cluster.Spec{cluster.Worker: {"10.0.0.1:grpc"}},
			err:  cluster.ErrBadAddress,
		},
		{
			name: "duplicate address across roles",
			spec: cluster.Spec{
				cluster.Worker: {"10.0.0.1:2222"},
				cluster.PS:     {"10.0.0.1:2222"},
			},
			err: cluster.ErrDuplicateAddr,
		},
		{
			name: "two chiefs",
			spec: cluster.Spec{cluster.Chief: {"10.0.0.1:2222", "10.0.0.2:2222"}},
			err:  cluster.ErrMultipleChiefs,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSpecTasks(t *testing.T) {
	tasks := validSpec().Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, cluster.Task{Role: cluster.Chief, Index: 0}, tasks[0])
	assert.Equal(t, cluster.Task{Role: cluster.PS, Index: 0}, tasks[1])
	assert.Equal(t, cluster.Task{Role: cluster.Worker, Index: 0}, tasks[2])
	assert.Equal(t, cluster.Task{Role: cluster.Worker, Index: 1}, tasks[3])
	assert.Equal(t, 4, validSpec().NumTasks())
}

func TestTaskValidate(t *testing.T) {
	spec := validSpec()

	cases := []struct {
		name string
		task cluster.Task
		err  error
	}{
		{name: "valid", task: cluster.Task{Role: cluster.Worker, Index: 1}},
		{name: "role not in spec", task: cluster.Task{Role: cluster.Evaluator, Index: 0}, err: cluster.ErrUnknownRole},
		{name: "negative index", task: cluster.Task{Role: cluster.Worker, Index: -1}, err: cluster.ErrIndexOutOfRange},
		{name: "index past end", task: cluster.Task{Role: cluster.Worker, Index: 2}, err: cluster.ErrIndexOutOfRange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate(spec)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTaskAddress(t *testing.T) {
	spec := validSpec()

	addr, err := cluster.Task{Role: cluster.Worker, Index: 1}.Address(spec)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3:2222", addr)

	_, err = cluster.Task{Role: cluster.Worker, Index: 5}.Address(spec)
	assert.ErrorIs(t, err, cluster.ErrIndexOutOfRange)
}

func TestRunConfigRoundTrip(t *testing.T) {
	rc := cluster.RunConfig{
		Cluster:     validSpec(),
		Task:        cluster.Task{Role: cluster.PS, Index: 0},
		Environment: "cloud",
	}

	encoded, err := rc.Encode()
	require.NoError(t, err)

	decoded, err := cluster.Decode(encoded)
	require.NoError(t, err)
	assert.True(t, rc.Cluster.Equal(decoded.Cluster))
	assert.Equal(t, rc.Task, decoded.Task)
	assert.Equal(t, rc.Environment, decoded.Environment)
}

func TestDecodeErrors(t *testing.T) {
	_, err := cluster.Decode("{not json")
	assert.Error(t, err)

	_, err = cluster.Decode(`{"cluster":{"worker":["10.0.0.1:2222"]},"task":{"type":"worker","index":3}}`)
	assert.ErrorIs(t, err, cluster.ErrIndexOutOfRange)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(cluster.ConfigEnvVar, "")
	_, err := cluster.FromEnv()
	assert.ErrorIs(t, err, cluster.ErrConfigNotSet)

	rc := cluster.RunConfig{
		Cluster: validSpec(),
		Task:    cluster.Task{Role: cluster.Worker, Index: 0},
	}
	encoded, err := rc.Encode()
	require.NoError(t, err)
	t.Setenv(cluster.ConfigEnvVar, encoded)

	got, err := cluster.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, rc.Task, got.Task)
}

func TestRunConfigEnv(t *testing.T) {
	rc := cluster.RunConfig{
		Cluster: validSpec(),
		Task:    cluster.Task{Role: cluster.Chief, Index: 0},
	}

	env, err := rc.Env("/srv/models/exp-1")
	require.NoError(t, err)
	require.Len(t, env, 2)
	assert.Contains(t, env[0], cluster.ConfigEnvVar+"=")
	assert.Equal(t, cluster.ModelDirEnvVar+"=/srv/models/exp-1", env[1])
}

func TestBuild(t *testing.T) {
	spec, err := cluster.Build(map[cluster.Role][]string{
		cluster.Worker: {"node-1", "node-1", "node-2"},
		cluster.PS:     {"node-1"},
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"node-1:2222"}, spec.Addresses(cluster.PS))
	assert.Equal(t, []string{"node-1:2223", "node-1:2224", "node-2:2222"}, spec.Addresses(cluster.Worker))
	require.NoError(t, spec.Validate())

	_, err = cluster.Build(nil, 0)
	assert.ErrorIs(t, err, cluster.ErrEmptySpec)
}
