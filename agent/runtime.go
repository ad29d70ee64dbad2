package agent

import (
	"context"
	"fmt"

	"github.com/peakml/gradient/cluster"
)

// ResultsTopicTemplate is where runtimes report finished or failed tasks.
var ResultsTopicTemplate = "channels/%s/messages/control/runner/results"

// TaskSpec is everything a runtime needs to launch one training process.
type TaskSpec struct {
	ExperimentID string
	Task         cluster.Task
	Command      string
	Args         []string
	// Env holds fully rendered KEY=VALUE pairs, GRADIENT_CONFIG and
	// GRADIENT_MODEL_DIR included.
	Env      []string
	WorkDir  string
	Artifact []byte
	Daemon   bool
}

// ID identifies the task within the agent, unique per experiment and
// cluster task.
func (s TaskSpec) ID() string {
	return TaskID(s.ExperimentID, s.Task)
}

func TaskID(experimentID string, t cluster.Task) string {
	return fmt.Sprintf("%s/%s/%d", experimentID, string(t.Role), t.Index)
}

type Runtime interface {
	StartTask(ctx context.Context, spec TaskSpec) error
	StopTask(ctx context.Context, taskID string) error
}

// TaskResult is the payload published on the results topic when a task
// finishes or fails.
type TaskResult struct {
	ExperimentID string       `json:"experiment_id"`
	Task         cluster.Task `json:"task"`
	RunnerID     string       `json:"runner_id"`
	Results      any          `json:"results,omitempty"`
	Error        string       `json:"error,omitempty"`
}
