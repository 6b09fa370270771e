package ir

// Action is the operation the engine will perform for a resource.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
	ActionNoOp    Action = "NOOP"
)

// Destructive reports whether the action removes the current external resource.
func (a Action) Destructive() bool {
	return a == ActionDelete || a == ActionReplace
}

// Plan is a calculated change set.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment,omitempty"`
}

// ResourceChange is one planned operation.
type ResourceChange struct {
	Address string                   `json:"address"`
	Action  Action                   `json:"action"`
	Reason  string                   `json:"reason,omitempty"`
	Desired *Resource                `json:"desired,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`

	// Deps holds the producer addresses this change's resource reads from.
	// The scheduler orders waves with them: forward for creates and
	// updates, inverted for deletes.
	Deps []string `json:"deps,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	Sensitive         bool   `json:"sensitive,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Empty reports whether the plan contains no changes.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}
