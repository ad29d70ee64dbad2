package agent_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/pkg/mqtt/mocks"
)

const (
	channelID = "chan-1"
	runnerID  = "runner-1"
)

type mockRuntime struct {
	mu      sync.Mutex
	started []agent.TaskSpec
	stopped []string
}

func (m *mockRuntime) StartTask(_ context.Context, spec agent.TaskSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, spec)

	return nil
}

func (m *mockRuntime) StopTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, taskID)

	return nil
}

func (m *mockRuntime) startedTasks() []agent.TaskSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]agent.TaskSpec(nil), m.started...)
}

func (m *mockRuntime) stoppedTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.stopped...)
}

func newAgent(t *testing.T) (*agent.Service, *mocks.PubSub, *mockRuntime, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dataDir := t.TempDir()
	pubsub := mocks.NewPubSub()
	runtime := &mockRuntime{}
	cfg := agent.Config{
		BrokerURL: "tcp://localhost:1883",
		Password:  "secret",
		RunnerID:  runnerID,
		ChannelID: channelID,
		Host:      "10.0.0.1",
		DataDir:   dataDir,
		Capacity:  4,
	}
	svc, err := agent.NewService(ctx, cfg, "node-1", 5*time.Millisecond, pubsub, slog.Default(), runtime)
	require.NoError(t, err)

	go func() {
		_ = svc.Run(ctx)
	}()
	startTopic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, runnerID)
	require.Eventually(t, func() bool {
		return pubsub.Subscribed(startTopic)
	}, time.Second, time.Millisecond)

	return svc, pubsub, runtime, dataDir
}

func startCommand(expID string) map[string]any {
	return map[string]any{
		"experiment_id": expID,
		"task":          map[string]any{"type": "worker", "index": 0},
		"cluster": map[string]any{
			"worker": []string{"10.0.0.1:2222"},
			"ps":     []string{"10.0.0.2:2222"},
		},
		"command": "python",
		"args":    []string{"train.py"},
		"env":     map[string]string{"EPOCHS": "10"},
	}
}

func TestDiscoveryAnnouncement(t *testing.T) {
	_, pubsub, _, _ := newAgent(t)

	topic := fmt.Sprintf("channels/%s/messages/control/runner/create", channelID)
	msgs := pubsub.Published(topic)
	require.Len(t, msgs, 1)

	payload, ok := msgs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, runnerID, payload["runner_id"])
	assert.Equal(t, "node-1", payload["name"])
	assert.Equal(t, "10.0.0.1", payload["host"])
}

func TestLivenessUpdates(t *testing.T) {
	_, pubsub, _, _ := newAgent(t)

	topic := fmt.Sprintf("channels/%s/messages/control/runner/alive", channelID)
	assert.Eventually(t, func() bool {
		return len(pubsub.Published(topic)) > 0
	}, time.Second, time.Millisecond)

	msgs := pubsub.Published(topic)
	payload, ok := msgs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alive", payload["status"])
	assert.Equal(t, runnerID, payload["runner_id"])
}

func TestStartCommand(t *testing.T) {
	_, pubsub, runtime, dataDir := newAgent(t)
	ctx := context.Background()

	topic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, runnerID)
	require.NoError(t, pubsub.Publish(ctx, topic, startCommand("exp-1")))

	started := runtime.startedTasks()
	require.Len(t, started, 1)
	spec := started[0]

	assert.Equal(t, "exp-1", spec.ExperimentID)
	assert.Equal(t, cluster.Task{Role: cluster.Worker, Index: 0}, spec.Task)
	assert.Equal(t, "python", spec.Command)
	assert.Equal(t, []string{"train.py"}, spec.Args)

	wantDir := filepath.Join(dataDir, "exp-1")
	assert.Equal(t, wantDir, spec.WorkDir)
	info, err := os.Stat(wantDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	var gotConfig, gotModelDir, gotEpochs bool
	for _, kv := range spec.Env {
		switch {
		case strings.HasPrefix(kv, cluster.ConfigEnvVar+"="):
			gotConfig = true
			rc, err := cluster.Decode(strings.TrimPrefix(kv, cluster.ConfigEnvVar+"="))
			require.NoError(t, err)
			assert.Equal(t, cluster.Worker, rc.Task.Role)
			assert.Equal(t, []string{"10.0.0.2:2222"}, rc.Cluster.Addresses(cluster.PS))
		case kv == cluster.ModelDirEnvVar+"="+wantDir:
			gotModelDir = true
		case kv == "EPOCHS=10":
			gotEpochs = true
		}
	}
	assert.True(t, gotConfig)
	assert.True(t, gotModelDir)
	assert.True(t, gotEpochs)
}

func TestStartCommandInvalid(t *testing.T) {
	_, pubsub, runtime, _ := newAgent(t)
	ctx := context.Background()

	topic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, runnerID)
	cmd := startCommand("exp-1")
	delete(cmd, "command")

	assert.Error(t, pubsub.Publish(ctx, topic, cmd))
	assert.Empty(t, runtime.startedTasks())
}

func TestStopCommand(t *testing.T) {
	_, pubsub, runtime, _ := newAgent(t)
	ctx := context.Background()

	topic := fmt.Sprintf("channels/%s/messages/control/manager/stop/%s", channelID, runnerID)
	require.NoError(t, pubsub.Publish(ctx, topic, map[string]any{
		"experiment_id": "exp-1",
		"task":          map[string]any{"type": "ps", "index": 0},
	}))

	assert.Equal(t, []string{"exp-1/ps/0"}, runtime.stoppedTasks())
}

func TestStartCommandWithArtifact(t *testing.T) {
	_, pubsub, runtime, _ := newAgent(t)
	ctx := context.Background()

	// Deliver the chunks ahead of the start command, out of order.
	registryTopic := fmt.Sprintf("channels/%s/messages/registry/server", channelID)
	for _, idx := range []int{1, 0} {
		require.NoError(t, pubsub.Publish(ctx, registryTopic, map[string]any{
			"package_url":  "registry.local/trainer:v1",
			"chunk_idx":    idx,
			"total_chunks": 2,
			"data":         []byte{byte(idx)},
		}))
	}

	cmd := startCommand("exp-2")
	cmd["package_url"] = "registry.local/trainer:v1"
	startTopic := fmt.Sprintf("channels/%s/messages/control/manager/start/%s", channelID, runnerID)
	require.NoError(t, pubsub.Publish(ctx, startTopic, cmd))

	// The fetch request goes out even though the chunks already arrived.
	fetchTopic := fmt.Sprintf("channels/%s/messages/registry/runner", channelID)
	require.Len(t, pubsub.Published(fetchTopic), 1)

	require.Eventually(t, func() bool {
		return len(runtime.startedTasks()) == 1
	}, time.Second, time.Millisecond)

	spec := runtime.startedTasks()[0]
	assert.Equal(t, []byte{0, 1}, spec.Artifact)
}

func TestChunkPayloadValidate(t *testing.T) {
	cases := []struct {
		desc  string
		chunk agent.ChunkPayload
		err   bool
	}{
		{
			desc:  "valid chunk",
			chunk: agent.ChunkPayload{PackageURL: "u", ChunkIdx: 0, TotalChunks: 1, Data: []byte{1}},
		},
		{
			desc:  "missing package url",
			chunk: agent.ChunkPayload{ChunkIdx: 0, TotalChunks: 1, Data: []byte{1}},
			err:   true,
		},
		{
			desc:  "index out of range",
			chunk: agent.ChunkPayload{PackageURL: "u", ChunkIdx: 2, TotalChunks: 2, Data: []byte{1}},
			err:   true,
		},
		{
			desc:  "empty data",
			chunk: agent.ChunkPayload{PackageURL: "u", ChunkIdx: 0, TotalChunks: 1},
			err:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.chunk.Validate()
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"broker_url": "tcp://localhost:1883",
		"password": "secret",
		"runner_id": "runner-1",
		"channel_id": "chan-1",
		"host": "10.0.0.1"
	}`), 0o644))

	cfg, err := agent.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", cfg.RunnerID)

	_, err = agent.LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
