package runtimes_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/agent/runtimes"
	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/pkg/mqtt/mocks"
)

const channelID = "chan-1"

func startTask(t *testing.T, pubsub *mocks.PubSub, task cluster.Task, daemon bool) {
	t.Helper()

	rt := runtimes.NewHostRuntime(slog.Default(), pubsub, channelID, "runner-1")
	spec := agent.TaskSpec{
		ExperimentID: "exp-1",
		Task:         task,
		Command:      "true",
		WorkDir:      t.TempDir(),
		Daemon:       daemon,
	}
	require.NoError(t, rt.StartTask(context.Background(), spec))
}

func waitForResult(t *testing.T, pubsub *mocks.PubSub) agent.TaskResult {
	t.Helper()

	topic := fmt.Sprintf("channels/%s/messages/control/runner/results", channelID)
	require.Eventually(t, func() bool {
		return len(pubsub.Published(topic)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	result, ok := pubsub.Published(topic)[0].(agent.TaskResult)
	require.True(t, ok)

	return result
}

func TestWorkerTaskCompletes(t *testing.T) {
	pubsub := mocks.NewPubSub()

	startTask(t, pubsub, cluster.Task{Role: cluster.Worker, Index: 0}, false)

	result := waitForResult(t, pubsub)
	assert.Empty(t, result.Error)
	assert.Equal(t, "exp-1", result.ExperimentID)
	assert.Equal(t, "runner-1", result.RunnerID)
}

func TestDaemonTaskExitReportsError(t *testing.T) {
	pubsub := mocks.NewPubSub()

	startTask(t, pubsub, cluster.Task{Role: cluster.PS, Index: 0}, true)

	result := waitForResult(t, pubsub)
	assert.NotEmpty(t, result.Error)
}
