package manager

import (
	"context"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/runner"
)

// Launcher schedules an experiment's tasks on an external platform instead
// of the MQTT runner fleet, returning the cluster spec the tasks were wired
// with.
type Launcher interface {
	Launch(ctx context.Context, exp experiment.Experiment) (cluster.Spec, error)
	Teardown(ctx context.Context, exp experiment.Experiment) error
}

type Service interface {
	GetRunner(ctx context.Context, runnerID string) (runner.Runner, error)
	ListRunners(ctx context.Context, offset, limit uint64) (runner.Page, error)
	DeleteRunner(ctx context.Context, runnerID string) error

	CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error)
	GetExperiment(ctx context.Context, expID string) (experiment.Experiment, error)
	ListExperiments(ctx context.Context, offset, limit uint64) (experiment.Page, error)
	UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error)
	DeleteExperiment(ctx context.Context, expID string) error

	// StartExperiment plans the cluster: one task per replica is placed on
	// a live runner, addresses are allocated, and every runner receives a
	// start command carrying its task's run config.
	StartExperiment(ctx context.Context, expID string) error
	StopExperiment(ctx context.Context, expID string) error

	GetResults(ctx context.Context, expID string) (map[string]any, error)

	Subscribe(ctx context.Context) error
	RecoverInterruptedExperiments(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
