// Package cluster models the topology of a distributed training job: which
// roles exist, which network address every task of a role listens on, and
// which single task of that topology the current process is. The whole
// structure travels to training processes as JSON in the GRADIENT_CONFIG
// environment variable.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
)

// Role names a group of tasks that share a function within a training job.
type Role string

const (
	Chief     Role = "chief"
	Worker    Role = "worker"
	PS        Role = "ps"
	Evaluator Role = "evaluator"
)

const (
	// ConfigEnvVar carries the serialized RunConfig in a task's environment.
	ConfigEnvVar = "GRADIENT_CONFIG"
	// ModelDirEnvVar carries the checkpoint/model directory path.
	ModelDirEnvVar = "GRADIENT_MODEL_DIR"

	// DefaultBasePort is the first port handed out when building a spec
	// from bare hostnames.
	DefaultBasePort = 2222
)

var (
	ErrEmptySpec       = errors.New("cluster spec has no roles")
	ErrUnknownRole     = errors.New("unknown role")
	ErrNoAddresses     = errors.New("role has no addresses")
	ErrBadAddress      = errors.New("malformed address")
	ErrDuplicateAddr   = errors.New("duplicate address")
	ErrMultipleChiefs  = errors.New("more than one chief")
	ErrIndexOutOfRange = errors.New("task index out of range")
	ErrConfigNotSet    = errors.New("cluster config environment variable not set")
)

func (r Role) Validate() error {
	switch r {
	case Chief, Worker, PS, Evaluator:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, string(r))
	}
}

// Daemon reports whether tasks of this role run until explicitly stopped
// rather than to completion. Parameter servers block waiting for updates and
// never finish on their own.
func (r Role) Daemon() bool {
	return r == PS
}

// Spec maps every role to the ordered list of host:port addresses of its
// tasks. Order is significant: a task's index is its position in the list.
type Spec map[Role][]string

func (s Spec) Validate() error {
	if len(s) == 0 {
		return ErrEmptySpec
	}

	seen := map[string]struct{}{}
	for role, addrs := range s {
		if err := role.Validate(); err != nil {
			return err
		}
		if len(addrs) == 0 {
			return fmt.Errorf("%w: %q", ErrNoAddresses, string(role))
		}
		if role == Chief && len(addrs) > 1 {
			return ErrMultipleChiefs
		}
		for _, addr := range addrs {
			host, port, err := net.SplitHostPort(addr)
			if err != nil || host == "" {
				return fmt.Errorf("%w: %q", ErrBadAddress, addr)
			}
			if _, err := strconv.ParseUint(port, 10, 16); err != nil {
				return fmt.Errorf("%w: %q", ErrBadAddress, addr)
			}
			if _, ok := seen[addr]; ok {
				return fmt.Errorf("%w: %q", ErrDuplicateAddr, addr)
			}
			seen[addr] = struct{}{}
		}
	}

	return nil
}

// Addresses returns the address list of a role, nil when the role is absent.
func (s Spec) Addresses(role Role) []string {
	return s[role]
}

// Roles returns the spec's roles in lexical order.
func (s Spec) Roles() []Role {
	roles := make([]Role, 0, len(s))
	for role := range s {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	return roles
}

// Tasks flattens the spec into one Task per address, ordered by role then
// index.
func (s Spec) Tasks() []Task {
	tasks := make([]Task, 0)
	for _, role := range s.Roles() {
		for i := range s[role] {
			tasks = append(tasks, Task{Role: role, Index: i})
		}
	}

	return tasks
}

// NumTasks returns the total number of tasks across all roles.
func (s Spec) NumTasks() int {
	n := 0
	for _, addrs := range s {
		n += len(addrs)
	}

	return n
}

func (s Spec) Copy() Spec {
	cp := make(Spec, len(s))
	for role, addrs := range s {
		cp[role] = append([]string(nil), addrs...)
	}

	return cp
}

func (s Spec) Equal(other Spec) bool {
	if len(s) != len(other) {
		return false
	}
	for role, addrs := range s {
		oaddrs, ok := other[role]
		if !ok || len(addrs) != len(oaddrs) {
			return false
		}
		for i := range addrs {
			if addrs[i] != oaddrs[i] {
				return false
			}
		}
	}

	return true
}

// Task identifies one process within a cluster: the role it plays and its
// position in that role's address list.
type Task struct {
	Role  Role `json:"type"`
	Index int  `json:"index"`
}

func (t Task) Validate(s Spec) error {
	if err := t.Role.Validate(); err != nil {
		return err
	}
	addrs, ok := s[t.Role]
	if !ok {
		return fmt.Errorf("%w: %q not in cluster spec", ErrUnknownRole, string(t.Role))
	}
	if t.Index < 0 || t.Index >= len(addrs) {
		return fmt.Errorf("%w: %s[%d] of %d", ErrIndexOutOfRange, string(t.Role), t.Index, len(addrs))
	}

	return nil
}

// Address returns the address the task listens on.
func (t Task) Address(s Spec) (string, error) {
	if err := t.Validate(s); err != nil {
		return "", err
	}

	return s[t.Role][t.Index], nil
}

// RunConfig is everything a single training process needs to join a cluster.
type RunConfig struct {
	Cluster     Spec   `json:"cluster"`
	Task        Task   `json:"task"`
	Environment string `json:"environment,omitempty"`
}

func (rc RunConfig) Validate() error {
	if err := rc.Cluster.Validate(); err != nil {
		return err
	}

	return rc.Task.Validate(rc.Cluster)
}

// Encode serializes the config to the JSON wire form stored in
// GRADIENT_CONFIG.
func (rc RunConfig) Encode() (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// Decode parses a serialized RunConfig and validates it.
func Decode(raw string) (RunConfig, error) {
	var rc RunConfig
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		return RunConfig{}, fmt.Errorf("failed to parse cluster config: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return RunConfig{}, err
	}

	return rc, nil
}

// FromEnv reads the process's RunConfig from GRADIENT_CONFIG.
func FromEnv() (RunConfig, error) {
	raw, ok := os.LookupEnv(ConfigEnvVar)
	if !ok || raw == "" {
		return RunConfig{}, ErrConfigNotSet
	}

	return Decode(raw)
}

// Env renders the config, plus an optional model directory, as KEY=VALUE
// pairs suitable for a child process environment.
func (rc RunConfig) Env(modelDir string) ([]string, error) {
	encoded, err := rc.Encode()
	if err != nil {
		return nil, err
	}

	env := []string{ConfigEnvVar + "=" + encoded}
	if modelDir != "" {
		env = append(env, ModelDirEnvVar+"="+modelDir)
	}

	return env, nil
}
