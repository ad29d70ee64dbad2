package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/runner"
)

const aliveHistoryLimit = 10

// TaskResult is what a runner reports when one of its tasks finishes or
// fails.
type TaskResult struct {
	ExperimentID string       `json:"experiment_id"`
	Task         cluster.Task `json:"task"`
	RunnerID     string       `json:"runner_id"`
	Results      any          `json:"results,omitempty"`
	Error        string       `json:"error,omitempty"`
}

func (svc *service) Subscribe(ctx context.Context) error {
	baseTopic := "channels/" + svc.channelID + "/messages"
	topic := baseTopic + "/#"

	return svc.publisher.Subscribe(ctx, topic, svc.handle(ctx, baseTopic))
}

func (svc *service) handle(ctx context.Context, baseTopic string) func(topic string, msg map[string]any) error {
	return func(topic string, msg map[string]any) error {
		switch topic {
		case baseTopic + "/control/runner/create":
			if err := svc.createRunner(ctx, msg); err != nil {
				return err
			}

			svc.logger.InfoContext(ctx, "successfully registered runner")
		case baseTopic + "/control/runner/alive":
			return svc.updateLiveness(ctx, msg)
		case baseTopic + "/control/runner/results":
			return svc.handleResult(ctx, msg)
		}

		return nil
	}
}

func (svc *service) createRunner(ctx context.Context, msg map[string]any) error {
	runnerID, ok := msg["runner_id"].(string)
	if !ok {
		return errors.New("invalid runner_id")
	}
	if runnerID == "" {
		return errors.New("runner id is empty")
	}
	name, ok := msg["name"].(string)
	if !ok {
		name = ""
	}
	host, ok := msg["host"].(string)
	if !ok {
		host = ""
	}
	var capacity uint64
	if c, ok := msg["capacity"].(float64); ok && c > 0 {
		capacity = uint64(c)
	}

	r := runner.Runner{
		ID:       runnerID,
		Name:     name,
		Host:     host,
		Capacity: capacity,
	}

	return svc.runnersDB.Create(ctx, r.ID, r)
}

func (svc *service) updateLiveness(ctx context.Context, msg map[string]any) error {
	runnerID, ok := msg["runner_id"].(string)
	if !ok {
		return errors.New("invalid runner_id")
	}
	if runnerID == "" {
		return errors.New("runner id is empty")
	}

	r, err := svc.GetRunner(ctx, runnerID)
	if err != nil {
		return err
	}

	if status, ok := msg["status"].(string); ok && status == "offline" {
		r.Alive = false

		return svc.runnersDB.Update(ctx, runnerID, r)
	}

	r.Alive = true
	r.AliveHistory = append(r.AliveHistory, time.Now())
	if len(r.AliveHistory) > aliveHistoryLimit {
		r.AliveHistory = r.AliveHistory[1:]
	}
	if usage, ok := msg["usage"].(map[string]any); ok {
		r.Usage = usage
	}

	return svc.runnersDB.Update(ctx, runnerID, r)
}

func (svc *service) handleResult(ctx context.Context, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var result TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	if result.ExperimentID == "" {
		return errors.New("result has no experiment id")
	}

	exp, err := svc.GetExperiment(ctx, result.ExperimentID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range exp.Assignments {
		if exp.Assignments[i].Task == result.Task {
			idx = i

			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("no assignment for %s[%d]", string(result.Task.Role), result.Task.Index)
	}
	if exp.Assignments[idx].State.Terminal() {
		return nil
	}

	if err := svc.releaseSlot(ctx, exp.ID, exp.Assignments[idx]); err != nil {
		svc.logger.WarnContext(ctx, "failed to release runner slot",
			slog.String("experiment_id", exp.ID),
			slog.String("runner_id", exp.Assignments[idx].RunnerID),
			slog.Any("error", err))
	}

	if result.Error != "" {
		return svc.failExperiment(ctx, exp, idx, result.Error)
	}

	return svc.completeTask(ctx, exp, idx, result.Results)
}

// failExperiment marks one task failed and tears the rest of the cluster
// down. A single failed task fails the whole experiment.
func (svc *service) failExperiment(ctx context.Context, exp experiment.Experiment, idx int, taskErr string) error {
	failed := exp.Assignments[idx]
	exp.Assignments[idx].State = experiment.Failed
	exp.Assignments[idx].Error = taskErr

	if err := svc.releaseTasks(ctx, &exp, map[cluster.Task]struct{}{failed.Task: {}}); err != nil {
		return err
	}

	exp.State = experiment.Failed
	exp.Error = fmt.Sprintf("%s[%d]: %s", string(failed.Task.Role), failed.Task.Index, taskErr)
	exp.FinishTime = time.Now()
	_, err := svc.UpdateExperiment(ctx, exp)

	return err
}

func (svc *service) completeTask(ctx context.Context, exp experiment.Experiment, idx int, results any) error {
	exp.Assignments[idx].State = experiment.Completed
	if results != nil {
		if exp.Results == nil {
			exp.Results = make(map[string]any)
		}
		t := exp.Assignments[idx].Task
		exp.Results[fmt.Sprintf("%s-%d", string(t.Role), t.Index)] = results
	}

	// The experiment is done once every non-daemon task completed. Daemon
	// tasks (parameter servers) never finish on their own and get stopped
	// here.
	done := true
	for _, a := range exp.Assignments {
		if a.Task.Role.Daemon() {
			continue
		}
		if a.State != experiment.Completed {
			done = false

			break
		}
	}

	if done {
		if err := svc.releaseTasks(ctx, &exp, nil); err != nil {
			return err
		}
		exp.State = experiment.Completed
		exp.FinishTime = time.Now()
	}

	_, err := svc.UpdateExperiment(ctx, exp)

	return err
}
