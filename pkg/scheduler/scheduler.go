package scheduler

import (
	"errors"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/runner"
)

var (
	ErrNoRunners   = errors.New("no runner was provided")
	ErrDeadRunners = errors.New("no alive runner available")
	ErrNoCapacity  = errors.New("no runner has free capacity")
)

// Scheduler places one cluster task onto one of the registered runners.
type Scheduler interface {
	SelectRunner(t cluster.Task, runners []runner.Runner) (runner.Runner, error)
}

func eligible(runners []runner.Runner) ([]runner.Runner, error) {
	if len(runners) == 0 {
		return nil, ErrNoRunners
	}

	alive := make([]runner.Runner, 0, len(runners))
	for i := range runners {
		if runners[i].Alive {
			alive = append(alive, runners[i])
		}
	}
	if len(alive) == 0 {
		return nil, ErrDeadRunners
	}

	free := make([]runner.Runner, 0, len(alive))
	for i := range alive {
		if alive[i].HasCapacity() {
			free = append(free, alive[i])
		}
	}
	if len(free) == 0 {
		return nil, ErrNoCapacity
	}

	return free, nil
}
