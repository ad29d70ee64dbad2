package agent

import (
	"errors"

	"github.com/peakml/gradient/cluster"
)

type startRequest struct {
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

func (r startRequest) Validate() error {
	if r.ExperimentID == "" {
		return errors.New("experiment id is required")
	}
	if err := r.Task.Validate(r.ClusterSpec); err != nil {
		return err
	}
	if r.Command == "" && r.PackageURL == "" {
		return errors.New("either a command or a package url is required")
	}

	return nil
}

type stopRequest struct {
	ExperimentID string       `json:"experiment_id"`
	Task         cluster.Task `json:"task"`
}

func (r stopRequest) Validate() error {
	if r.ExperimentID == "" {
		return errors.New("experiment id is required")
	}

	return r.Task.Role.Validate()
}
