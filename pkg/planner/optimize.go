package planner

import (
	"sort"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// Optimize removes create/destroy pairs that target the same kind and
// name: destroying a resource only to recreate it identically is a
// no-op from the reconciler's point of view. The surviving actions keep
// the canonical ordering of Diff.
func (p *Plan) Optimize() {
	type key struct {
		kind string
		name string
	}

	creates := make(map[key]bool)
	destroys := make(map[key]bool)
	for _, a := range p.Actions {
		k := key{string(a.Kind), a.Name()}
		switch a.Op {
		case OpCreate:
			creates[k] = true
		case OpDestroy:
			destroys[k] = true
		}
	}

	kept := p.Actions[:0]
	for _, a := range p.Actions {
		k := key{string(a.Kind), a.Name()}
		if (a.Op == OpCreate || a.Op == OpDestroy) && creates[k] && destroys[k] {
			continue
		}
		kept = append(kept, a)
	}
	p.Actions = kept

	// Hand-built plans may arrive unordered; re-sort so the
	// create-then-destroy split always holds after optimization.
	sort.SliceStable(p.Actions, func(i, j int) bool {
		return actionRank(p.Actions[i]) < actionRank(p.Actions[j])
	})
}

// actionRank orders creates and updates by create priority, then all
// destroys by destroy priority.
func actionRank(a Action) int {
	if a.Op == OpDestroy {
		return len(resources.KindsInCreateOrder()) + a.Kind.DestroyPriority()
	}
	return a.Kind.CreatePriority()
}
