package ir

import "time"

// Action classifies what the engine must do to converge one resource.
type Action string

const (
	ActionNoOp    Action = "no-op"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDestroy Action = "destroy"
)

// Plan is an ordered set of actions required to converge state. Changes is
// the per-resource classification; Steps is its executable expansion in a
// valid topological order (a replace contributes a create step and a
// deposed destroy step).
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Steps    []*Step           `json:"steps"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	ID          string    `json:"id"`
	Workspace   string    `json:"workspace,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StateSerial uint64    `json:"stateSerial"`
	Destroy     bool      `json:"destroy,omitempty"`
}

// ResourceChange describes the planned action for one logical name.
// Address is the display identifier "<kind>.<name>".
type ResourceChange struct {
	Address       string                   `json:"address"`
	Name          string                   `json:"name"`
	Kind          string                   `json:"kind"`
	Provider      string                   `json:"provider"`
	Action        Action                   `json:"action"`
	Prior         map[string]any           `json:"prior,omitempty"`
	PriorID       string                   `json:"priorId,omitempty"`
	Desired       map[string]any           `json:"desired,omitempty"`
	Diff          map[string]*PropertyDiff `json:"diff,omitempty"`
	ForcesReplace []string                 `json:"forcesReplace,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	RecordSerial  uint64                   `json:"recordSerial,omitempty"`
	DependsOn     []string                 `json:"dependsOn,omitempty"`
	Timeout       string                   `json:"timeout,omitempty"`
}

// PropertyDiff is the before/after of one attribute. Unknown marks an after
// value that is only known once a dependency has been applied.
type PropertyDiff struct {
	Before            any    `json:"before"`
	After             any    `json:"after"`
	Action            Action `json:"action"`
	Sensitive         bool   `json:"sensitive,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Unknown           bool   `json:"unknown,omitempty"`
}

// Step is one executable unit of a plan. DependsOn lists step IDs that must
// reach applied first. RecordSerial is the record serial the step expects to
// find (0 means no record); a mismatch at execution time is a concurrent
// modification. Deposed destroy steps remove the replaced instance without
// touching the record, which already points at the replacement.
type Step struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Action       Action   `json:"action"`
	DependsOn    []string `json:"dependsOn,omitempty"`
	PriorID      string   `json:"priorId,omitempty"`
	RecordSerial uint64   `json:"recordSerial,omitempty"`
	Deposed      bool     `json:"deposed,omitempty"`
}

// StepID builds the canonical step identifier for an action on a name.
func StepID(action Action, name string) string {
	return string(action) + ":" + name
}

// ResourceAddress builds the display address for a resource.
func ResourceAddress(kind, name string) string {
	return kind + "." + name
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Destroy int `json:"destroy"`
	NoOp    int `json:"noop"`
}

// Change returns the change for a logical name, or nil.
func (p *Plan) Change(name string) *ResourceChange {
	for _, c := range p.Changes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// HasChanges reports whether the plan contains any action besides no-op.
func (p *Plan) HasChanges() bool {
	if p.Summary == nil {
		return len(p.Steps) > 0
	}
	return p.Summary.Create+p.Summary.Update+p.Summary.Replace+p.Summary.Destroy > 0
}
