// Package runtimes provides the runtime implementations that execute
// training processes on behalf of the runner agent.
package runtimes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/pkg/mqtt"
)

const artifactPermissions = 0o755

type hostRuntime struct {
	pubsub    mqtt.PubSub
	channelID string
	runnerID  string
	logger    *slog.Logger

	mu      sync.Mutex
	procs   map[string]*exec.Cmd
	stopped map[string]bool
}

// NewHostRuntime executes training tasks as local OS processes.
func NewHostRuntime(logger *slog.Logger, pubsub mqtt.PubSub, channelID, runnerID string) agent.Runtime {
	return &hostRuntime{
		pubsub:    pubsub,
		channelID: channelID,
		runnerID:  runnerID,
		logger:    logger,
		procs:     make(map[string]*exec.Cmd),
		stopped:   make(map[string]bool),
	}
}

func (r *hostRuntime) StartTask(ctx context.Context, spec agent.TaskSpec) error {
	command := spec.Command
	args := append([]string(nil), spec.Args...)

	if spec.Artifact != nil {
		path := filepath.Join(spec.WorkDir, "program")
		if err := os.WriteFile(path, spec.Artifact, artifactPermissions); err != nil {
			return fmt.Errorf("error writing program artifact: %w", err)
		}
		if command == "" {
			command = path
		} else {
			args = append(args, path)
		}
	}
	if command == "" {
		return errors.New("task has no command to run")
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting command: %w", err)
	}

	id := spec.ID()
	r.mu.Lock()
	r.procs[id] = cmd
	delete(r.stopped, id)
	r.mu.Unlock()

	go r.wait(ctx, spec, cmd, output)

	return nil
}

func (r *hostRuntime) wait(ctx context.Context, spec agent.TaskSpec, cmd *exec.Cmd, output *bytes.Buffer) {
	err := cmd.Wait()

	id := spec.ID()
	r.mu.Lock()
	delete(r.procs, id)
	wasStopped := r.stopped[id]
	delete(r.stopped, id)
	r.mu.Unlock()

	if wasStopped {
		r.logger.Info("task stopped", slog.String("task_id", id))

		return
	}

	result := agent.TaskResult{
		ExperimentID: spec.ExperimentID,
		Task:         spec.Task,
		RunnerID:     r.runnerID,
		Results: map[string]any{
			"output": output.String(),
		},
	}
	if err != nil {
		result.Error = err.Error()
	} else if spec.Daemon {
		// A parameter server only exits cleanly on a stop command; exiting
		// on its own loses the experiment's state.
		result.Error = "daemon task exited unexpectedly"
	}

	topic := fmt.Sprintf(agent.ResultsTopicTemplate, r.channelID)
	if err := r.pubsub.Publish(ctx, topic, result); err != nil {
		r.logger.Error("failed to publish results", slog.String("task_id", id), slog.Any("error", err))

		return
	}

	r.logger.Info("finished running task",
		slog.String("task_id", id),
		slog.String("error", result.Error))
}

// StopTask sends SIGTERM so the training process can flush a final
// checkpoint before exiting.
func (r *hostRuntime) StopTask(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.procs[taskID]
	if !ok {
		return nil
	}
	r.stopped[taskID] = true

	return cmd.Process.Signal(syscall.SIGTERM)
}
