package experiment

import (
	"errors"
	"time"

	"github.com/peakml/gradient/cluster"
)

type State uint8

const (
	Pending State = iota
	Scheduled
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

var (
	ErrNoReplicas     = errors.New("experiment has no replica specs")
	ErrNoWorkers      = errors.New("experiment needs at least one worker replica")
	ErrZeroCount      = errors.New("replica count must be positive")
	ErrMissingImage   = errors.New("replica spec has neither image nor package URL")
	ErrDuplicateRole  = errors.New("duplicate replica role")
	ErrNotRestartable = errors.New("experiment is not in a startable state")
	ErrNotStoppable   = errors.New("experiment is not running")
)

// ReplicaSpec describes how every task of one role is provisioned and
// started.
type ReplicaSpec struct {
	Role        cluster.Role      `json:"role"`
	Count       int               `json:"count"`
	Image       string            `json:"image,omitempty"`
	MachineType string            `json:"machine_type,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// TaskAssignment records which runner hosts one cluster task and how far it
// has got.
type TaskAssignment struct {
	Task     cluster.Task `json:"task"`
	RunnerID string       `json:"runner_id"`
	Address  string       `json:"address"`
	State    State        `json:"state"`
	Error    string       `json:"error,omitempty"`
}

// Experiment is one submitted distributed training job.
type Experiment struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Project     string           `json:"project,omitempty"`
	State       State            `json:"state"`
	Replicas    []ReplicaSpec    `json:"replicas"`
	PackageURL  string           `json:"package_url,omitempty"`
	ModelDir    string           `json:"model_dir,omitempty"`
	Environment string           `json:"environment,omitempty"`
	BasePort    int              `json:"base_port,omitempty"`
	Cluster     cluster.Spec     `json:"cluster,omitempty"`
	Assignments []TaskAssignment `json:"assignments,omitempty"`
	Results     map[string]any   `json:"results,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartTime   time.Time        `json:"start_time"`
	FinishTime  time.Time        `json:"finish_time"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (e Experiment) Validate() error {
	if len(e.Replicas) == 0 {
		return ErrNoReplicas
	}

	seen := map[cluster.Role]struct{}{}
	workers := 0
	for _, r := range e.Replicas {
		if err := r.Role.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.Role]; ok {
			return ErrDuplicateRole
		}
		seen[r.Role] = struct{}{}
		if r.Count <= 0 {
			return ErrZeroCount
		}
		if r.Role == cluster.Chief && r.Count > 1 {
			return cluster.ErrMultipleChiefs
		}
		if r.Image == "" && e.PackageURL == "" {
			return ErrMissingImage
		}
		if r.Role == cluster.Worker || r.Role == cluster.Chief {
			workers += r.Count
		}
	}
	if workers == 0 {
		return ErrNoWorkers
	}

	return nil
}

// Replica returns the spec for a role, if present.
func (e Experiment) Replica(role cluster.Role) (ReplicaSpec, bool) {
	for _, r := range e.Replicas {
		if r.Role == role {
			return r, true
		}
	}

	return ReplicaSpec{}, false
}

// Assignment returns the assignment of one cluster task, if present.
func (e Experiment) Assignment(t cluster.Task) (TaskAssignment, bool) {
	for _, a := range e.Assignments {
		if a.Task == t {
			return a, true
		}
	}

	return TaskAssignment{}, false
}

type Page struct {
	Offset      uint64       `json:"offset"`
	Limit       uint64       `json:"limit"`
	Total       uint64       `json:"total"`
	Experiments []Experiment `json:"experiments"`
}
