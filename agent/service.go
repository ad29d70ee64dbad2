package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/pkg/mqtt"
)

const (
	modelDirPermissions = 0o755
	pollingInterval     = 5 * time.Second
)

var (
	aliveTopicTemplate        = "channels/%s/messages/control/runner/alive"
	discoveryTopicTemplate    = "channels/%s/messages/control/runner/create"
	startTopicTemplate        = "channels/%s/messages/control/manager/start/%s"
	stopTopicTemplate         = "channels/%s/messages/control/manager/stop/%s"
	registryResponseTopic     = "channels/%s/messages/registry/server"
	fetchRequestTopicTemplate = "channels/%s/messages/registry/runner"
)

// Service is the runner agent. It announces itself to the manager, keeps a
// liveness heartbeat going, and turns start commands into local training
// processes.
type Service struct {
	channelID        string
	runnerID         string
	name             string
	host             string
	dataDir          string
	livenessInterval time.Duration
	pubsub           mqtt.PubSub
	chunks           map[string]*artifactBuffer
	chunksMutex      sync.Mutex
	usage            *usageCollector
	runtime          Runtime
	logger           *slog.Logger
}

// artifactBuffer collects the chunked program artifact for one package URL.
type artifactBuffer struct {
	parts    [][]byte
	received int
}

// ChunkPayload is one piece of a program artifact relayed by the proxy.
type ChunkPayload struct {
	PackageURL  string `json:"package_url"`
	ChunkIdx    int    `json:"chunk_idx"`
	TotalChunks int    `json:"total_chunks"`
	Data        []byte `json:"data"`
}

func NewService(ctx context.Context, cfg Config, name string, livenessInterval time.Duration, pubsub mqtt.PubSub, logger *slog.Logger, runtime Runtime) (*Service, error) {
	topic := fmt.Sprintf(discoveryTopicTemplate, cfg.ChannelID)
	payload := map[string]any{
		"runner_id": cfg.RunnerID,
		"name":      name,
		"host":      cfg.Host,
		"capacity":  cfg.Capacity,
	}
	if err := pubsub.Publish(ctx, topic, payload); err != nil {
		return nil, errors.Join(errors.New("failed to publish discovery"), err)
	}

	svc := &Service{
		channelID:        cfg.ChannelID,
		runnerID:         cfg.RunnerID,
		name:             name,
		host:             cfg.Host,
		dataDir:          cfg.DataDir,
		livenessInterval: livenessInterval,
		pubsub:           pubsub,
		chunks:           make(map[string]*artifactBuffer),
		usage:            newUsageCollector(),
		runtime:          runtime,
		logger:           logger,
	}

	go svc.startLivenessUpdates(ctx)

	return svc, nil
}

func (svc *Service) startLivenessUpdates(ctx context.Context) {
	ticker := time.NewTicker(svc.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			svc.logger.Info("stopping liveness updates")

			return
		case <-ticker.C:
			topic := fmt.Sprintf(aliveTopicTemplate, svc.channelID)
			payload := map[string]any{
				"status":    "alive",
				"runner_id": svc.runnerID,
				"usage":     svc.usage.Collect(),
			}

			if err := svc.pubsub.Publish(ctx, topic, payload); err != nil {
				svc.logger.Error("failed to publish liveness message", slog.Any("error", err))
			}
		}
	}
}

func (svc *Service) Run(ctx context.Context) error {
	topic := fmt.Sprintf(startTopicTemplate, svc.channelID, svc.runnerID)
	if err := svc.pubsub.Subscribe(ctx, topic, svc.handleStartCommand(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to start topic: %w", err)
	}

	topic = fmt.Sprintf(stopTopicTemplate, svc.channelID, svc.runnerID)
	if err := svc.pubsub.Subscribe(ctx, topic, svc.handleStopCommand(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to stop topic: %w", err)
	}

	topic = fmt.Sprintf(registryResponseTopic, svc.channelID)
	if err := svc.pubsub.Subscribe(ctx, topic, svc.handleChunk(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to registry topic: %w", err)
	}

	svc.logger.Info("runner agent is running", slog.String("runner_id", svc.runnerID))
	<-ctx.Done()

	return nil
}

func (svc *Service) handleStartCommand(ctx context.Context) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		var req startRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return err
		}

		svc.logger.Info("received start command",
			slog.String("experiment_id", req.ExperimentID),
			slog.String("role", string(req.Task.Role)),
			slog.Int("index", req.Task.Index))

		spec, err := svc.buildTaskSpec(req)
		if err != nil {
			return err
		}

		if req.PackageURL == "" {
			return svc.runtime.StartTask(ctx, spec)
		}

		pl := map[string]any{
			"package_url": req.PackageURL,
		}
		tp := fmt.Sprintf(fetchRequestTopicTemplate, svc.channelID)
		if err := svc.pubsub.Publish(ctx, tp, pl); err != nil {
			return err
		}

		go func() {
			svc.logger.Info("waiting for program artifact", slog.String("package_url", req.PackageURL))

			for {
				artifact, ok := svc.takeArtifact(req.PackageURL)
				if ok {
					spec.Artifact = artifact
					if err := svc.runtime.StartTask(ctx, spec); err != nil {
						svc.logger.Error("failed to start task",
							slog.String("task_id", spec.ID()),
							slog.Any("error", err))
					}

					return
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(pollingInterval):
				}
			}
		}()

		return nil
	}
}

// buildTaskSpec resolves the model directory and renders the child process
// environment, GRADIENT_CONFIG included.
func (svc *Service) buildTaskSpec(req startRequest) (TaskSpec, error) {
	modelDir := req.ModelDir
	if modelDir == "" {
		modelDir = filepath.Join(svc.dataDir, req.ExperimentID)
	}
	if err := os.MkdirAll(modelDir, modelDirPermissions); err != nil {
		return TaskSpec{}, fmt.Errorf("failed to create model dir %s: %w", modelDir, err)
	}

	rc := cluster.RunConfig{
		Cluster:     req.ClusterSpec,
		Task:        req.Task,
		Environment: req.Environment,
	}
	env, err := rc.Env(modelDir)
	if err != nil {
		return TaskSpec{}, err
	}

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Env[k])
	}

	return TaskSpec{
		ExperimentID: req.ExperimentID,
		Task:         req.Task,
		Command:      req.Command,
		Args:         req.Args,
		Env:          env,
		WorkDir:      modelDir,
		Daemon:       req.Daemon,
	}, nil
}

func (svc *Service) handleStopCommand(ctx context.Context) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		var req stopRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return err
		}

		return svc.runtime.StopTask(ctx, TaskID(req.ExperimentID, req.Task))
	}
}

func (svc *Service) handleChunk(_ context.Context) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		var chunk ChunkPayload
		if err := json.Unmarshal(data, &chunk); err != nil {
			return err
		}
		if err := chunk.Validate(); err != nil {
			return err
		}

		svc.chunksMutex.Lock()
		defer svc.chunksMutex.Unlock()

		buf, ok := svc.chunks[chunk.PackageURL]
		if !ok {
			buf = &artifactBuffer{parts: make([][]byte, chunk.TotalChunks)}
			svc.chunks[chunk.PackageURL] = buf
		}
		if chunk.ChunkIdx >= len(buf.parts) {
			return fmt.Errorf("chunk index %d out of range for %s", chunk.ChunkIdx, chunk.PackageURL)
		}
		if buf.parts[chunk.ChunkIdx] == nil {
			buf.received++
		}
		buf.parts[chunk.ChunkIdx] = chunk.Data

		svc.logger.Debug("received artifact chunk",
			slog.String("package_url", chunk.PackageURL),
			slog.Int("chunk", chunk.ChunkIdx+1),
			slog.Int("total", chunk.TotalChunks))

		return nil
	}
}

// takeArtifact returns the reassembled artifact once every chunk arrived and
// clears the buffer.
func (svc *Service) takeArtifact(packageURL string) ([]byte, bool) {
	svc.chunksMutex.Lock()
	defer svc.chunksMutex.Unlock()

	buf, ok := svc.chunks[packageURL]
	if !ok || buf.received != len(buf.parts) {
		return nil, false
	}

	var artifact []byte
	for _, part := range buf.parts {
		artifact = append(artifact, part...)
	}
	delete(svc.chunks, packageURL)

	return artifact, true
}

func (c ChunkPayload) Validate() error {
	if c.PackageURL == "" {
		return errors.New("chunk validation: package_url is required but missing")
	}
	if c.ChunkIdx < 0 || c.TotalChunks <= 0 || c.ChunkIdx >= c.TotalChunks {
		return fmt.Errorf("chunk validation: invalid chunk_idx (%d) or total_chunks (%d)", c.ChunkIdx, c.TotalChunks)
	}
	if len(c.Data) == 0 {
		return errors.New("chunk validation: data is empty")
	}

	return nil
}
