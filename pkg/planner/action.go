// Package planner computes the ordered action list that reconciles the
// current inventory into the desired one. It is a pure function over two
// state snapshots: no backend access, no I/O.
package planner

import (
	"encoding/json"
	"time"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// Op is the kind of mutation an action performs.
type Op string

const (
	// OpCreate creates a resource that exists in desired but not current.
	OpCreate Op = "create"

	// OpUpdate replaces a resource whose definition drifted.
	OpUpdate Op = "update"

	// OpDestroy removes a resource that exists in current but not desired.
	OpDestroy Op = "destroy"
)

// Action is a single create/update/destroy directive on one resource.
type Action struct {
	// Op is the mutation kind.
	Op Op `json:"op"`

	// Kind is the resource kind.
	Kind resources.Kind `json:"kind"`

	// Resource is the full payload the action carries: the desired
	// resource for creates and updates, the current one for destroys.
	Resource resources.Resource `json:"resource"`

	// Prior is the current resource an update replaces. Fields the
	// update changes (a volume's pool, say) differ between Prior and
	// Resource, and the replacement destroy must target the prior copy.
	// Nil except on updates.
	Prior resources.Resource `json:"-"`

	// Reason is a human-readable explanation of why the action exists.
	Reason string `json:"reason"`
}

// Name returns the name of the resource the action targets.
func (a Action) Name() string { return a.Resource.GetName() }

// MarshalJSON flattens the action for machine-readable plan output.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Op       Op                 `json:"op"`
		Kind     resources.Kind     `json:"kind"`
		Name     string             `json:"name"`
		Reason   string             `json:"reason,omitempty"`
		Resource resources.Resource `json:"resource"`
	}{a.Op, a.Kind, a.Name(), a.Reason, a.Resource})
}

// Plan is the ordered action list produced by Diff, together with the
// context Validate needs to check referential integrity inside the plan.
type Plan struct {
	// Actions is the ordered action list.
	Actions []Action `json:"actions"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// existingPools and existingVolumes record the names present in the
	// current state, so Validate can accept references to resources the
	// plan does not itself create.
	existingPools   map[string]bool
	existingVolumes map[string]bool
}

// Empty reports whether the plan contains no actions.
func (p *Plan) Empty() bool { return len(p.Actions) == 0 }
