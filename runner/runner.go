package runner

import (
	"time"
)

const aliveTimeout = 10 * time.Second

// Runner is a registered training host as the manager sees it.
type Runner struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Host         string         `json:"host"`
	Capacity     uint64         `json:"capacity"`
	TaskCount    uint64         `json:"task_count"`
	Alive        bool           `json:"alive"`
	AliveHistory []time.Time    `json:"alive_history"`
	Usage        map[string]any `json:"usage,omitempty"`
}

// SetAlive recomputes Alive from the most recent heartbeat.
func (r *Runner) SetAlive() {
	if len(r.AliveHistory) > 0 {
		lastAlive := r.AliveHistory[len(r.AliveHistory)-1]
		if time.Since(lastAlive) <= aliveTimeout {
			r.Alive = true

			return
		}
	}
	r.Alive = false
}

// HasCapacity reports whether the runner can take one more task. Zero
// capacity means unbounded.
func (r Runner) HasCapacity() bool {
	return r.Capacity == 0 || r.TaskCount < r.Capacity
}

type Page struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Runners []Runner `json:"runners"`
}
