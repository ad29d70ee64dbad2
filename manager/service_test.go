package manager_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/pkg/mqtt/mocks"
	"github.com/peakml/gradient/pkg/scheduler"
	"github.com/peakml/gradient/pkg/storage"
	"github.com/peakml/gradient/runner"
)

const channelID = "chan-1"

func newService(t *testing.T) (manager.Service, *mocks.PubSub, storage.Storage) {
	t.Helper()

	runnersDB := storage.NewInMemoryStorage()
	pubsub := mocks.NewPubSub()
	svc := manager.NewService(
		storage.NewInMemoryStorage(),
		runnersDB,
		storage.NewInMemoryStorage(),
		scheduler.NewRoundRobin(),
		pubsub,
		channelID,
		slog.Default(),
	)

	return svc, pubsub, runnersDB
}

func registerRunner(t *testing.T, db storage.Storage, id, host string) {
	t.Helper()

	r := runner.Runner{
		ID:           id,
		Name:         id,
		Host:         host,
		Alive:        true,
		AliveHistory: []time.Time{time.Now()},
	}
	require.NoError(t, db.Create(context.Background(), id, r))
}

func newExperiment() experiment.Experiment {
	return experiment.Experiment{
		Name: "mnist-distributed",
		Replicas: []experiment.ReplicaSpec{
			{Role: cluster.Worker, Count: 2, Image: "registry.local/trainer:v1", Command: "python", Args: []string{"train.py"}},
			{Role: cluster.PS, Count: 1, Image: "registry.local/trainer:v1", Command: "python", Args: []string{"train.py"}},
		},
		ModelDir: "/srv/models/mnist",
	}
}

func TestCreateExperiment(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, experiment.Pending, exp.State)
	assert.False(t, exp.CreatedAt.IsZero())

	_, err = svc.CreateExperiment(ctx, experiment.Experiment{})
	assert.ErrorIs(t, err, experiment.ErrNoReplicas)
}

func TestCreateExperimentGeneratesName(t *testing.T) {
	svc, _, _ := newService(t)

	e := newExperiment()
	e.Name = ""
	exp, err := svc.CreateExperiment(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, exp.Name)
}

func TestStartExperiment(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")
	registerRunner(t, runnersDB, "runner-2", "10.0.0.2")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Running, exp.State)
	require.NoError(t, exp.Cluster.Validate())
	assert.Len(t, exp.Cluster.Addresses(cluster.Worker), 2)
	assert.Len(t, exp.Cluster.Addresses(cluster.PS), 1)
	require.Len(t, exp.Assignments, 3)

	published := 0
	for _, id := range []string{"runner-1", "runner-2"} {
		topic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, id)
		published += len(pubsub.Published(topic))
	}
	assert.Equal(t, 3, published)

	r1, err := svc.GetRunner(ctx, "runner-1")
	require.NoError(t, err)
	r2, err := svc.GetRunner(ctx, "runner-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r1.TaskCount+r2.TaskCount)
}

func TestStartExperimentCommandCarriesRunConfig(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	topic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, "runner-1")
	msgs := pubsub.Published(topic)
	require.Len(t, msgs, 3)

	for _, msg := range msgs {
		cmd, ok := msg.(manager.StartCommand)
		require.True(t, ok)
		assert.Equal(t, exp.ID, cmd.ExperimentID)
		assert.Equal(t, "/srv/models/mnist", cmd.ModelDir)

		rc := cluster.RunConfig{Cluster: cmd.ClusterSpec, Task: cmd.Task}
		encoded, err := rc.Encode()
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
		assert.Contains(t, decoded, "cluster")
		assert.Contains(t, decoded, "task")

		assert.Equal(t, cmd.Task.Role == cluster.PS, cmd.Daemon)
	}
}

func TestStartExperimentNoRunners(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)

	err = svc.StartExperiment(ctx, exp.ID)
	assert.ErrorIs(t, err, scheduler.ErrNoRunners)
}

func TestStartExperimentTwice(t *testing.T) {
	svc, _, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	err = svc.StartExperiment(ctx, exp.ID)
	assert.ErrorIs(t, err, experiment.ErrNotRestartable)
}

type fakeLauncher struct {
	launched []string
	torn     []string
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, exp experiment.Experiment) (cluster.Spec, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.launched = append(l.launched, exp.ID)

	return cluster.Spec{cluster.Worker: []string{"svc-0:2222", "svc-1:2222"}}, nil
}

func (l *fakeLauncher) Teardown(_ context.Context, exp experiment.Experiment) error {
	l.torn = append(l.torn, exp.ID)

	return nil
}

func TestStartExperimentWithLauncher(t *testing.T) {
	launcher := &fakeLauncher{}
	pubsub := mocks.NewPubSub()
	svc := manager.NewService(
		storage.NewInMemoryStorage(),
		storage.NewInMemoryStorage(),
		storage.NewInMemoryStorage(),
		scheduler.NewRoundRobin(),
		pubsub,
		channelID,
		slog.Default(),
		manager.WithLauncher(launcher),
	)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))
	assert.Equal(t, []string{exp.ID}, launcher.launched)

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Running, exp.State)
	assert.Equal(t, []string{"svc-0:2222", "svc-1:2222"}, exp.Cluster.Addresses(cluster.Worker))
	assert.Empty(t, exp.Assignments)

	// No runner fleet involved: nothing is published.
	assert.Empty(t, pubsub.Topics())

	require.NoError(t, svc.StopExperiment(ctx, exp.ID))
	assert.Equal(t, []string{exp.ID}, launcher.torn)

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Cancelled, exp.State)
}

func TestStartExperimentWithLauncherFailure(t *testing.T) {
	launcher := &fakeLauncher{err: fmt.Errorf("namespace gone")}
	svc := manager.NewService(
		storage.NewInMemoryStorage(),
		storage.NewInMemoryStorage(),
		storage.NewInMemoryStorage(),
		scheduler.NewRoundRobin(),
		mocks.NewPubSub(),
		channelID,
		slog.Default(),
		manager.WithLauncher(launcher),
	)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.Error(t, svc.StartExperiment(ctx, exp.ID))

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Failed, exp.State)
	assert.NotEmpty(t, exp.Error)
}

func TestStartExperimentDispatchFailureReleasesSlots(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")
	registerRunner(t, runnersDB, "runner-2", "10.0.0.2")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)

	errBroker := fmt.Errorf("broker gone")
	pubsub.PublishErr = errBroker
	pubsub.PublishErrOn = 2

	err = svc.StartExperiment(ctx, exp.ID)
	assert.ErrorIs(t, err, errBroker)

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Failed, exp.State)

	// The runner that already got the first start command is told to stop
	// and gets its slot back. Round robin hands the first task to runner-2.
	topic := fmt.Sprintf("channels/%s/messages/control/manager/stop/%s", channelID, "runner-2")
	assert.Len(t, pubsub.Published(topic), 1)

	for _, id := range []string{"runner-1", "runner-2"} {
		r, err := svc.GetRunner(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), r.TaskCount, id)
	}
}

func TestStopExperiment(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))
	require.NoError(t, svc.StopExperiment(ctx, exp.ID))

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Cancelled, exp.State)
	assert.False(t, exp.FinishTime.IsZero())

	topic := fmt.Sprintf("channels/%s/messages/control/manager/stop/%s", channelID, "runner-1")
	assert.Len(t, pubsub.Published(topic), 3)

	r, err := svc.GetRunner(ctx, "runner-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.TaskCount)

	assert.ErrorIs(t, svc.StopExperiment(ctx, exp.ID), experiment.ErrNotStoppable)
}

func publishResult(t *testing.T, pubsub *mocks.PubSub, result manager.TaskResult) {
	t.Helper()

	topic := fmt.Sprintf("channels/%s/messages/control/runner/results", channelID)
	require.NoError(t, pubsub.Publish(context.Background(), topic, result))
}

func TestExperimentCompletes(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")
	require.NoError(t, svc.Subscribe(ctx))

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	for i := range 2 {
		publishResult(t, pubsub, manager.TaskResult{
			ExperimentID: exp.ID,
			Task:         cluster.Task{Role: cluster.Worker, Index: i},
			RunnerID:     "runner-1",
			Results:      map[string]any{"loss": 0.01},
		})
	}

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Completed, exp.State)
	assert.Len(t, exp.Results, 2)
	assert.Contains(t, exp.Results, "worker-0")

	// The parameter server is a daemon and gets stopped when the workers
	// are done.
	topic := fmt.Sprintf("channels/%s/messages/control/manager/stop/%s", channelID, "runner-1")
	assert.Len(t, pubsub.Published(topic), 1)

	r, err := svc.GetRunner(ctx, "runner-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.TaskCount)
}

func TestTaskFailureFailsExperiment(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")
	require.NoError(t, svc.Subscribe(ctx))

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	publishResult(t, pubsub, manager.TaskResult{
		ExperimentID: exp.ID,
		Task:         cluster.Task{Role: cluster.Worker, Index: 1},
		RunnerID:     "runner-1",
		Error:        "exit status 1",
	})

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Failed, exp.State)
	assert.Contains(t, exp.Error, "worker[1]")

	a, ok := exp.Assignment(cluster.Task{Role: cluster.Worker, Index: 1})
	require.True(t, ok)
	assert.Equal(t, experiment.Failed, a.State)

	// Remaining worker and parameter server get torn down.
	topic := fmt.Sprintf("channels/%s/messages/control/manager/stop/%s", channelID, "runner-1")
	assert.Len(t, pubsub.Published(topic), 2)
}

func TestRunnerRegistration(t *testing.T) {
	svc, pubsub, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Subscribe(ctx))

	topic := fmt.Sprintf("channels/%s/messages/control/runner/create", channelID)
	require.NoError(t, pubsub.Publish(ctx, topic, map[string]any{
		"runner_id": "runner-9",
		"name":      "node-9",
		"host":      "10.0.0.9",
		"capacity":  4,
	}))

	r, err := svc.GetRunner(ctx, "runner-9")
	require.NoError(t, err)
	assert.Equal(t, "node-9", r.Name)
	assert.Equal(t, "10.0.0.9", r.Host)
	assert.Equal(t, uint64(4), r.Capacity)
}

func TestRunnerLiveness(t *testing.T) {
	svc, pubsub, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")
	require.NoError(t, svc.Subscribe(ctx))

	topic := fmt.Sprintf("channels/%s/messages/control/runner/alive", channelID)
	require.NoError(t, pubsub.Publish(ctx, topic, map[string]any{
		"runner_id": "runner-1",
		"status":    "alive",
		"usage":     map[string]any{"cpu": map[string]any{"percent": 12.5}},
	}))

	r, err := svc.GetRunner(ctx, "runner-1")
	require.NoError(t, err)
	assert.True(t, r.Alive)
	require.NotNil(t, r.Usage)
	cpu, ok := r.Usage["cpu"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 12.5, cpu["percent"], 0.001)

	require.NoError(t, pubsub.Publish(ctx, topic, map[string]any{
		"runner_id": "runner-1",
		"status":    "offline",
	}))

	data, err := runnersDB.Get(ctx, "runner-1")
	require.NoError(t, err)
	assert.False(t, data.(runner.Runner).Alive)
}

func TestRecoverInterruptedExperiments(t *testing.T) {
	svc, _, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	require.NoError(t, svc.RecoverInterruptedExperiments(ctx))

	exp, err = svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.Failed, exp.State)
	assert.Equal(t, "interrupted by manager restart", exp.Error)
}

func TestDeleteRunningExperiment(t *testing.T) {
	svc, _, runnersDB := newService(t)
	ctx := context.Background()

	registerRunner(t, runnersDB, "runner-1", "10.0.0.1")

	exp, err := svc.CreateExperiment(ctx, newExperiment())
	require.NoError(t, err)
	require.NoError(t, svc.StartExperiment(ctx, exp.ID))

	assert.Error(t, svc.DeleteExperiment(ctx, exp.ID))

	require.NoError(t, svc.StopExperiment(ctx, exp.ID))
	assert.NoError(t, svc.DeleteExperiment(ctx, exp.ID))
}
