package ir

import "time"

// NodeStatus is the terminal status of one resource in a run.
type NodeStatus string

const (
	StatusPending NodeStatus = "pending"
	StatusApplied NodeStatus = "applied"
	StatusFailed  NodeStatus = "failed"
	StatusSkipped NodeStatus = "skipped"
)

// NodeResult records the outcome of one resource operation.
type NodeResult struct {
	Address  string        `json:"address"`
	Action   Action        `json:"action"`
	Status   NodeStatus    `json:"status"`
	Wave     int           `json:"wave"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the structured result of an apply run. Every planned node
// appears exactly once, including nodes that never started.
type RunReport struct {
	Results []*NodeResult  `json:"results"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Counts returns the number of applied, failed and skipped nodes.
func (r *RunReport) Counts() (applied, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusApplied:
			applied++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return applied, failed, skipped
}

// Failed reports whether any node failed.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}
