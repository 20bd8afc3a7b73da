package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/resources"
	"github.com/kestrelhq/kestrel/pkg/state"
)

// Diff computes the plan that turns current into desired. Creates and
// updates are emitted in dependency order (pools, networks, volumes,
// domains); destroys follow as a separate pass in the reverse order.
func Diff(current, desired state.State) *Plan {
	plan := &Plan{
		CreatedAt:       time.Now().UTC(),
		existingPools:   make(map[string]bool),
		existingVolumes: make(map[string]bool),
	}
	for _, p := range current.Pools {
		plan.existingPools[p.Name] = true
	}
	for _, v := range current.Volumes {
		plan.existingVolumes[v.Name] = true
	}

	var destroys []Action

	for _, kind := range resources.KindsInCreateOrder() {
		cur := byName(current, kind)
		des := byName(desired, kind)

		// Creates first, then updates, each in name order.
		for _, name := range sortedNames(des) {
			if _, ok := cur[name]; !ok {
				plan.Actions = append(plan.Actions, Action{
					Op:       OpCreate,
					Kind:     kind,
					Resource: des[name],
					Reason:   "not present",
				})
			}
		}
		for _, name := range sortedNames(des) {
			want := des[name]
			have, ok := cur[name]
			if !ok {
				continue
			}
			if changed := changedFields(have, want); len(changed) > 0 {
				plan.Actions = append(plan.Actions, Action{
					Op:       OpUpdate,
					Kind:     kind,
					Resource: want,
					Prior:    have,
					Reason:   fmt.Sprintf("changed: %s", strings.Join(changed, ", ")),
				})
			}
		}

		for _, name := range sortedNames(cur) {
			if _, ok := des[name]; !ok {
				destroys = append(destroys, Action{
					Op:       OpDestroy,
					Kind:     kind,
					Resource: cur[name],
					Reason:   "not desired",
				})
			}
		}
	}

	// Destroys run after all creates, dependents first.
	sort.SliceStable(destroys, func(i, j int) bool {
		return destroys[i].Kind.DestroyPriority() < destroys[j].Kind.DestroyPriority()
	})
	plan.Actions = append(plan.Actions, destroys...)

	return plan
}

// byName indexes the resources of one kind by name.
func byName(s state.State, kind resources.Kind) map[string]resources.Resource {
	out := make(map[string]resources.Resource)
	switch kind {
	case resources.KindNetwork:
		for _, r := range s.Networks {
			out[r.Name] = r
		}
	case resources.KindPool:
		for _, r := range s.Pools {
			out[r.Name] = r
		}
	case resources.KindVolume:
		for _, r := range s.Volumes {
			out[r.Name] = r
		}
	case resources.KindDomain:
		for _, r := range s.Domains {
			out[r.Name] = r
		}
	}
	return out
}

func sortedNames(m map[string]resources.Resource) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// changedFields compares the declarative fields of two resources of the
// same kind and returns the names of the ones that differ. Backend-assigned
// fields (pool capacity and allocation, domain IP addresses) are excluded.
func changedFields(have, want resources.Resource) []string {
	var changed []string

	switch w := want.(type) {
	case resources.Network:
		h, ok := have.(resources.Network)
		if !ok {
			return []string{"kind"}
		}
		if h.Mode != w.Mode {
			changed = append(changed, "mode")
		}
		if h.CIDR != w.CIDR {
			changed = append(changed, "cidr")
		}
		if h.DHCP != w.DHCP {
			changed = append(changed, "dhcp")
		}
		if h.DNS != w.DNS {
			changed = append(changed, "dns")
		}
		if h.Active != w.Active {
			changed = append(changed, "active")
		}

	case resources.Pool:
		h, ok := have.(resources.Pool)
		if !ok {
			return []string{"kind"}
		}
		if h.Type != w.Type {
			changed = append(changed, "type")
		}
		if h.Path != w.Path {
			changed = append(changed, "path")
		}
		if h.Active != w.Active {
			changed = append(changed, "active")
		}

	case resources.Volume:
		h, ok := have.(resources.Volume)
		if !ok {
			return []string{"kind"}
		}
		if h.Pool != w.Pool {
			changed = append(changed, "pool")
		}
		if h.Format != w.Format {
			changed = append(changed, "format")
		}
		// A zero desired capacity means "sized by the source image";
		// the measured capacity is whatever the download produced.
		if w.Capacity != 0 && h.Capacity != w.Capacity {
			changed = append(changed, "capacity")
		}

	case resources.Domain:
		h, ok := have.(resources.Domain)
		if !ok {
			return []string{"kind"}
		}
		if h.MemoryMB != w.MemoryMB {
			changed = append(changed, "memory_mb")
		}
		if h.VCPUs != w.VCPUs {
			changed = append(changed, "vcpus")
		}
		if h.Network != w.Network {
			changed = append(changed, "network")
		}
		if h.DiskVolume != w.DiskVolume {
			changed = append(changed, "disk_volume")
		}
		if h.CloudInitVolume != w.CloudInitVolume {
			changed = append(changed, "cloudinit_volume")
		}
		if h.Running != w.Running {
			changed = append(changed, "running")
		}
	}

	return changed
}
