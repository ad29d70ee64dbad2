package scheduler

import (
	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/runner"
)

type roundRobin struct {
	last int
}

func NewRoundRobin() Scheduler {
	return &roundRobin{}
}

func (r *roundRobin) SelectRunner(_ cluster.Task, runners []runner.Runner) (runner.Runner, error) {
	free, err := eligible(runners)
	if err != nil {
		return runner.Runner{}, err
	}

	r.last = (r.last + 1) % len(free)

	return free[r.last], nil
}
