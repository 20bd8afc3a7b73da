package planner

import (
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// OrderingError reports a plan whose actions would fail if applied in
// the order given.
type OrderingError struct {
	// Action is the offending action.
	Action Action

	// Detail explains the violated ordering rule.
	Detail string
}

// Error implements the error interface.
func (e *OrderingError) Error() string {
	return fmt.Sprintf("plan ordering: %s %s %q: %s", e.Action.Op, e.Action.Kind, e.Action.Name(), e.Detail)
}

// Validate checks that the plan is internally consistent: every action
// names its resource, volume creates land in a pool that exists or is
// created earlier in the plan, domain creates follow the creates of the
// volumes they attach, and pool destroys follow the destroys of their
// volumes.
func (p *Plan) Validate() error {
	createdPools := make(map[string]bool)
	createdVolumes := make(map[string]bool)
	destroyedVolumes := make(map[string]bool)

	for _, a := range p.Actions {
		if a.Name() == "" {
			return &OrderingError{Action: a, Detail: "resource has no name"}
		}

		switch a.Op {
		case OpCreate, OpUpdate:
			switch r := a.Resource.(type) {
			case resources.Pool:
				createdPools[r.Name] = true
			case resources.Volume:
				if !createdPools[r.Pool] && !p.existingPools[r.Pool] {
					return &OrderingError{Action: a, Detail: fmt.Sprintf("pool %q is neither existing nor created earlier", r.Pool)}
				}
				createdVolumes[r.Name] = true
			case resources.Domain:
				if r.DiskVolume != "" && !createdVolumes[r.DiskVolume] && !p.existingVolumes[r.DiskVolume] {
					return &OrderingError{Action: a, Detail: fmt.Sprintf("disk volume %q is neither existing nor created earlier", r.DiskVolume)}
				}
				if r.CloudInitVolume != "" && !createdVolumes[r.CloudInitVolume] && !p.existingVolumes[r.CloudInitVolume] {
					return &OrderingError{Action: a, Detail: fmt.Sprintf("cloud-init volume %q is neither existing nor created earlier", r.CloudInitVolume)}
				}
			}

		case OpDestroy:
			switch r := a.Resource.(type) {
			case resources.Volume:
				destroyedVolumes[r.Name] = true
			case resources.Pool:
				for _, other := range p.Actions {
					if other.Op != OpDestroy || other.Kind != resources.KindVolume {
						continue
					}
					v, ok := other.Resource.(resources.Volume)
					if ok && v.Pool == r.Name && !destroyedVolumes[v.Name] {
						return &OrderingError{Action: a, Detail: fmt.Sprintf("volume %q in the pool is destroyed later", v.Name)}
					}
				}
			}
		}
	}

	return nil
}
