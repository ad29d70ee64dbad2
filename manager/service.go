package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/google/uuid"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/pkg/errors"
	"github.com/peakml/gradient/pkg/mqtt"
	"github.com/peakml/gradient/pkg/scheduler"
	"github.com/peakml/gradient/pkg/storage"
	"github.com/peakml/gradient/runner"
)

const (
	defOffset = 0
	defLimit  = 100

	startTopicTemplate = "channels/%s/messages/control/manager/start/%s"
	stopTopicTemplate  = "channels/%s/messages/control/manager/stop/%s"
)

var namegen = namegenerator.NewGenerator()

// StartCommand is the payload a runner receives for one cluster task.
type StartCommand struct {
	ExperimentID string            `json:"experiment_id"`
	Task         cluster.Task      `json:"task"`
	ClusterSpec  cluster.Spec      `json:"cluster"`
	Image        string            `json:"image,omitempty"`
	PackageURL   string            `json:"package_url,omitempty"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	ModelDir     string            `json:"model_dir,omitempty"`
	Environment  string            `json:"environment,omitempty"`
	Daemon       bool              `json:"daemon"`
}

// StopCommand tells a runner to terminate one task.
type StopCommand struct {
	ExperimentID string       `json:"experiment_id"`
	Task         cluster.Task `json:"task"`
}

type service struct {
	experimentsDB storage.Storage
	runnersDB     storage.Storage
	bindingsDB    storage.Storage
	scheduler     scheduler.Scheduler
	publisher     mqtt.PubSub
	launcher      Launcher
	channelID     string
	logger        *slog.Logger
}

type Option func(*service)

// WithLauncher makes the service run experiments through the launcher
// platform instead of dispatching start commands to the runner fleet.
func WithLauncher(l Launcher) Option {
	return func(svc *service) {
		svc.launcher = l
	}
}

func NewService(experimentsDB, runnersDB, bindingsDB storage.Storage, s scheduler.Scheduler, publisher mqtt.PubSub, channelID string, logger *slog.Logger, opts ...Option) Service {
	svc := &service{
		experimentsDB: experimentsDB,
		runnersDB:     runnersDB,
		bindingsDB:    bindingsDB,
		scheduler:     s,
		publisher:     publisher,
		channelID:     channelID,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *service) GetRunner(ctx context.Context, runnerID string) (runner.Runner, error) {
	data, err := svc.runnersDB.Get(ctx, runnerID)
	if err != nil {
		return runner.Runner{}, err
	}
	r, ok := data.(runner.Runner)
	if !ok {
		return runner.Runner{}, errors.ErrInvalidData
	}
	r.SetAlive()

	return r, nil
}

func (svc *service) ListRunners(ctx context.Context, offset, limit uint64) (runner.Page, error) {
	data, total, err := svc.runnersDB.List(ctx, offset, limit)
	if err != nil {
		return runner.Page{}, err
	}
	runners := make([]runner.Runner, len(data))
	for i := range data {
		r, ok := data[i].(runner.Runner)
		if !ok {
			return runner.Page{}, errors.ErrInvalidData
		}
		r.SetAlive()
		runners[i] = r
	}

	return runner.Page{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Runners: runners,
	}, nil
}

func (svc *service) DeleteRunner(ctx context.Context, runnerID string) error {
	return svc.runnersDB.Delete(ctx, runnerID)
}

func (svc *service) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	if err := exp.Validate(); err != nil {
		return experiment.Experiment{}, err
	}

	exp.ID = uuid.NewString()
	if exp.Name == "" {
		exp.Name = namegen.Generate()
	}
	exp.State = experiment.Pending
	exp.CreatedAt = time.Now()

	if err := svc.experimentsDB.Create(ctx, exp.ID, exp); err != nil {
		return experiment.Experiment{}, err
	}

	return exp, nil
}

func (svc *service) GetExperiment(ctx context.Context, expID string) (experiment.Experiment, error) {
	data, err := svc.experimentsDB.Get(ctx, expID)
	if err != nil {
		return experiment.Experiment{}, err
	}
	exp, ok := data.(experiment.Experiment)
	if !ok {
		return experiment.Experiment{}, errors.ErrInvalidData
	}

	return exp, nil
}

func (svc *service) ListExperiments(ctx context.Context, offset, limit uint64) (experiment.Page, error) {
	data, total, err := svc.experimentsDB.List(ctx, offset, limit)
	if err != nil {
		return experiment.Page{}, err
	}

	experiments := make([]experiment.Experiment, len(data))
	for i := range data {
		exp, ok := data[i].(experiment.Experiment)
		if !ok {
			return experiment.Page{}, errors.ErrInvalidData
		}

		experiments[i] = exp
	}

	return experiment.Page{
		Offset:      offset,
		Limit:       limit,
		Total:       total,
		Experiments: experiments,
	}, nil
}

func (svc *service) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	exp.UpdatedAt = time.Now()
	if err := svc.experimentsDB.Update(ctx, exp.ID, exp); err != nil {
		return experiment.Experiment{}, err
	}

	return exp, nil
}

func (svc *service) DeleteExperiment(ctx context.Context, expID string) error {
	exp, err := svc.GetExperiment(ctx, expID)
	if err != nil {
		return err
	}
	if exp.State == experiment.Running || exp.State == experiment.Scheduled {
		return fmt.Errorf("%w: cannot delete a %s experiment", errors.ErrInvalidState, exp.State)
	}

	return svc.experimentsDB.Delete(ctx, expID)
}

func (svc *service) StartExperiment(ctx context.Context, expID string) error {
	exp, err := svc.GetExperiment(ctx, expID)
	if err != nil {
		return err
	}
	if exp.State == experiment.Running || exp.State == experiment.Scheduled {
		return fmt.Errorf("%w: experiment is %s", experiment.ErrNotRestartable, exp.State)
	}

	if svc.launcher != nil {
		return svc.launch(ctx, exp)
	}

	page, err := svc.ListRunners(ctx, defOffset, defLimit)
	if err != nil {
		return err
	}

	plan, err := svc.plan(exp, page.Runners)
	if err != nil {
		return err
	}

	exp.Cluster = plan.spec
	exp.Assignments = plan.assignments
	exp.State = experiment.Scheduled
	exp.Results = nil
	exp.Error = ""
	if _, err := svc.UpdateExperiment(ctx, exp); err != nil {
		return err
	}

	if err := svc.dispatch(ctx, &exp, plan); err != nil {
		exp.State = experiment.Failed
		exp.Error = err.Error()
		exp.FinishTime = time.Now()
		if _, uerr := svc.UpdateExperiment(ctx, exp); uerr != nil {
			svc.logger.Error("failed to record dispatch failure", slog.Any("error", uerr))
		}

		return err
	}

	exp.State = experiment.Running
	exp.StartTime = time.Now()
	_, err = svc.UpdateExperiment(ctx, exp)

	return err
}

// launch hands the whole experiment to the external platform. Task
// placement and liveness are the platform's concern, so there are no runner
// assignments to track.
func (svc *service) launch(ctx context.Context, exp experiment.Experiment) error {
	spec, err := svc.launcher.Launch(ctx, exp)
	if err != nil {
		exp.State = experiment.Failed
		exp.Error = err.Error()
		exp.FinishTime = time.Now()
		if _, uerr := svc.UpdateExperiment(ctx, exp); uerr != nil {
			svc.logger.Error("failed to record launch failure", slog.Any("error", uerr))
		}

		return err
	}

	exp.Cluster = spec
	exp.Assignments = nil
	exp.Results = nil
	exp.Error = ""
	exp.State = experiment.Running
	exp.StartTime = time.Now()
	_, err = svc.UpdateExperiment(ctx, exp)

	return err
}

type placement struct {
	spec        cluster.Spec
	assignments []experiment.TaskAssignment
}

// plan places every task of every replica spec onto a live runner and
// allocates the cluster addresses.
func (svc *service) plan(exp experiment.Experiment, runners []runner.Runner) (placement, error) {
	pool := append([]runner.Runner(nil), runners...)

	type pick struct {
		task     cluster.Task
		runnerID string
		host     string
	}

	picks := make([]pick, 0)
	hosts := make(map[cluster.Role][]string)
	for _, replica := range exp.Replicas {
		for i := range replica.Count {
			t := cluster.Task{Role: replica.Role, Index: i}
			selected, err := svc.scheduler.SelectRunner(t, pool)
			if err != nil {
				return placement{}, fmt.Errorf("failed to place %s[%d]: %w", string(t.Role), t.Index, err)
			}
			for j := range pool {
				if pool[j].ID == selected.ID {
					pool[j].TaskCount++
				}
			}
			picks = append(picks, pick{task: t, runnerID: selected.ID, host: selected.Host})
			hosts[replica.Role] = append(hosts[replica.Role], selected.Host)
		}
	}

	spec, err := cluster.Build(hosts, exp.BasePort)
	if err != nil {
		return placement{}, err
	}

	assignments := make([]experiment.TaskAssignment, 0, len(picks))
	for _, p := range picks {
		addr, err := p.task.Address(spec)
		if err != nil {
			return placement{}, err
		}
		assignments = append(assignments, experiment.TaskAssignment{
			Task:     p.task,
			RunnerID: p.runnerID,
			Address:  addr,
			State:    experiment.Scheduled,
		})
	}

	return placement{spec: spec, assignments: assignments}, nil
}

func (svc *service) dispatch(ctx context.Context, exp *experiment.Experiment, plan placement) error {
	dispatched := make([]experiment.TaskAssignment, 0, len(plan.assignments))
	for _, a := range plan.assignments {
		replica, ok := exp.Replica(a.Task.Role)
		if !ok {
			svc.rollback(ctx, exp, dispatched)

			return fmt.Errorf("%w: no replica spec for %q", errors.ErrInvalidData, string(a.Task.Role))
		}

		cmd := StartCommand{
			ExperimentID: exp.ID,
			Task:         a.Task,
			ClusterSpec:  plan.spec,
			Image:        replica.Image,
			PackageURL:   exp.PackageURL,
			Command:      replica.Command,
			Args:         replica.Args,
			Env:          replica.Env,
			ModelDir:     exp.ModelDir,
			Environment:  exp.Environment,
			Daemon:       a.Task.Role.Daemon(),
		}

		topic := fmt.Sprintf(startTopicTemplate, svc.channelID, a.RunnerID)
		if err := svc.publisher.Publish(ctx, topic, cmd); err != nil {
			svc.rollback(ctx, exp, dispatched)

			return fmt.Errorf("failed to dispatch %s[%d]: %w", string(a.Task.Role), a.Task.Index, err)
		}

		if err := svc.bindingsDB.Create(ctx, bindingKey(exp.ID, a.Task), a.RunnerID); err != nil {
			svc.rollback(ctx, exp, append(dispatched, a))

			return err
		}

		r, err := svc.GetRunner(ctx, a.RunnerID)
		if err != nil {
			svc.rollback(ctx, exp, append(dispatched, a))

			return err
		}
		r.TaskCount++
		if err := svc.runnersDB.Update(ctx, r.ID, r); err != nil {
			svc.rollback(ctx, exp, append(dispatched, a))

			return err
		}

		dispatched = append(dispatched, a)
	}

	return nil
}

// rollback undoes a partial dispatch: every runner that already received a
// start command gets a stop and its slot back. Best effort, failures are
// logged so the original dispatch error is the one reported.
func (svc *service) rollback(ctx context.Context, exp *experiment.Experiment, dispatched []experiment.TaskAssignment) {
	for _, a := range dispatched {
		topic := fmt.Sprintf(stopTopicTemplate, svc.channelID, a.RunnerID)
		cmd := StopCommand{ExperimentID: exp.ID, Task: a.Task}
		if err := svc.publisher.Publish(ctx, topic, cmd); err != nil {
			svc.logger.Error("failed to stop task during rollback",
				slog.String("experiment_id", exp.ID),
				slog.String("runner_id", a.RunnerID),
				slog.Any("error", err))
		}
		if err := svc.releaseSlot(ctx, exp.ID, a); err != nil {
			svc.logger.Error("failed to release runner slot during rollback",
				slog.String("experiment_id", exp.ID),
				slog.String("runner_id", a.RunnerID),
				slog.Any("error", err))
		}
		for i := range exp.Assignments {
			if exp.Assignments[i].Task == a.Task {
				exp.Assignments[i].State = experiment.Cancelled
			}
		}
	}
}

func (svc *service) StopExperiment(ctx context.Context, expID string) error {
	exp, err := svc.GetExperiment(ctx, expID)
	if err != nil {
		return err
	}
	if exp.State != experiment.Running && exp.State != experiment.Scheduled {
		return fmt.Errorf("%w: experiment is %s", experiment.ErrNotStoppable, exp.State)
	}

	if svc.launcher != nil {
		if err := svc.launcher.Teardown(ctx, exp); err != nil {
			return err
		}
	} else if err := svc.releaseTasks(ctx, &exp, nil); err != nil {
		return err
	}

	exp.State = experiment.Cancelled
	exp.FinishTime = time.Now()
	_, err = svc.UpdateExperiment(ctx, exp)

	return err
}

// releaseTasks publishes a stop for every assignment still holding a runner
// slot, skipping tasks whose assignment state is terminal, and releases the
// runner slots. except lists tasks not to stop.
func (svc *service) releaseTasks(ctx context.Context, exp *experiment.Experiment, except map[cluster.Task]struct{}) error {
	for i, a := range exp.Assignments {
		if _, skip := except[a.Task]; skip {
			continue
		}
		if a.State.Terminal() {
			continue
		}

		topic := fmt.Sprintf(stopTopicTemplate, svc.channelID, a.RunnerID)
		cmd := StopCommand{ExperimentID: exp.ID, Task: a.Task}
		if err := svc.publisher.Publish(ctx, topic, cmd); err != nil {
			return err
		}

		if err := svc.releaseSlot(ctx, exp.ID, a); err != nil {
			return err
		}
		exp.Assignments[i].State = experiment.Cancelled
	}

	return nil
}

func (svc *service) releaseSlot(ctx context.Context, expID string, a experiment.TaskAssignment) error {
	if err := svc.bindingsDB.Delete(ctx, bindingKey(expID, a.Task)); err != nil {
		return err
	}

	r, err := svc.GetRunner(ctx, a.RunnerID)
	if err != nil {
		return err
	}
	if r.TaskCount > 0 {
		r.TaskCount--
	}

	return svc.runnersDB.Update(ctx, r.ID, r)
}

func (svc *service) GetResults(ctx context.Context, expID string) (map[string]any, error) {
	exp, err := svc.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}

	return exp.Results, nil
}

// RecoverInterruptedExperiments fails experiments that were in flight when
// the manager went down. Their runners are gone or orphaned, so the honest
// state is Failed; the submission can be started again.
func (svc *service) RecoverInterruptedExperiments(ctx context.Context) error {
	page, err := svc.ListExperiments(ctx, defOffset, defLimit)
	if err != nil {
		return err
	}

	for _, exp := range page.Experiments {
		if exp.State != experiment.Running && exp.State != experiment.Scheduled {
			continue
		}

		exp.State = experiment.Failed
		exp.Error = "interrupted by manager restart"
		exp.FinishTime = time.Now()
		for i := range exp.Assignments {
			if !exp.Assignments[i].State.Terminal() {
				exp.Assignments[i].State = experiment.Failed
			}
		}
		if _, err := svc.UpdateExperiment(ctx, exp); err != nil {
			return err
		}

		svc.logger.InfoContext(ctx, "recovered interrupted experiment",
			slog.String("experiment_id", exp.ID))
	}

	return nil
}

func (svc *service) Shutdown(ctx context.Context) error {
	return svc.publisher.Disconnect(ctx)
}

func bindingKey(expID string, t cluster.Task) string {
	return fmt.Sprintf("%s/%s/%d", expID, string(t.Role), t.Index)
}
