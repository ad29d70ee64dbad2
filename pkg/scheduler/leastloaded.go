package scheduler

import (
	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/runner"
)

// leastLoaded picks the alive runner with the fewest assigned tasks. Ties go
// to the earlier runner, which keeps placement deterministic for a given
// registry order.
type leastLoaded struct{}

func NewLeastLoaded() Scheduler {
	return &leastLoaded{}
}

func (l *leastLoaded) SelectRunner(_ cluster.Task, runners []runner.Runner) (runner.Runner, error) {
	free, err := eligible(runners)
	if err != nil {
		return runner.Runner{}, err
	}

	best := free[0]
	for _, r := range free[1:] {
		if r.TaskCount < best.TaskCount {
			best = r
		}
	}

	return best, nil
}
