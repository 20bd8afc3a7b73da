// Package state builds point-in-time resource inventories: the current
// state queried live from the backend and the desired state derived from
// configuration. States are immutable snapshots; reconciliation never
// mutates one, it compares two and emits a plan.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/pkg/backend"
	"github.com/kestrelhq/kestrel/pkg/resources"
)

// State is a point-in-time inventory of managed resources.
type State struct {
	// Networks are the networks in the inventory.
	Networks []resources.Network `json:"networks"`

	// Pools are the storage pools in the inventory.
	Pools []resources.Pool `json:"pools"`

	// Volumes are the volumes in the inventory, across all pools.
	Volumes []resources.Volume `json:"volumes"`

	// Domains are the domains in the inventory.
	Domains []resources.Domain `json:"domains"`

	// CapturedAt is when the inventory was captured.
	CapturedAt time.Time `json:"captured_at"`
}

// FetchCurrent queries the backend for the live inventory. It is fail-fast:
// if any sub-query fails the whole call fails, because a partially populated
// state would make the planner diff against misleading data and could emit
// destructive actions for resources it failed to see.
func FetchCurrent(ctx context.Context, b backend.Backend) (State, error) {
	s := State{CapturedAt: time.Now()}

	networks, err := b.ListNetworks(ctx)
	if err != nil {
		return State{}, fmt.Errorf("fetch networks: %w", err)
	}
	s.Networks = networks

	pools, err := b.ListPools(ctx)
	if err != nil {
		return State{}, fmt.Errorf("fetch pools: %w", err)
	}
	s.Pools = pools

	volumePool := make(map[string]string)
	for _, pool := range pools {
		volumes, err := b.ListVolumes(ctx, pool.Name)
		if err != nil {
			return State{}, fmt.Errorf("fetch volumes of pool %s: %w", pool.Name, err)
		}
		for _, vol := range volumes {
			volumePool[vol.Name] = pool.Name
		}
		s.Volumes = append(s.Volumes, volumes...)
	}

	domains, err := b.ListDomains(ctx)
	if err != nil {
		return State{}, fmt.Errorf("fetch domains: %w", err)
	}
	// The domain XML does not record the owning pool; resolve it by
	// matching the primary disk volume against the pool inventories.
	for i, dom := range domains {
		if dom.Pool == "" {
			domains[i].Pool = volumePool[dom.DiskVolume]
		}
	}
	s.Domains = domains

	return s, nil
}

// Union merges two states by name, preferring resources from a. It backs
// referential-integrity checks that must resolve against the combined
// current and desired inventories.
func Union(a, b State) State {
	out := State{CapturedAt: a.CapturedAt}

	seenNet := make(map[string]bool)
	for _, n := range a.Networks {
		seenNet[n.Name] = true
		out.Networks = append(out.Networks, n)
	}
	for _, n := range b.Networks {
		if !seenNet[n.Name] {
			out.Networks = append(out.Networks, n)
		}
	}

	seenPool := make(map[string]bool)
	for _, p := range a.Pools {
		seenPool[p.Name] = true
		out.Pools = append(out.Pools, p)
	}
	for _, p := range b.Pools {
		if !seenPool[p.Name] {
			out.Pools = append(out.Pools, p)
		}
	}

	seenVol := make(map[string]bool)
	for _, v := range a.Volumes {
		seenVol[v.Name] = true
		out.Volumes = append(out.Volumes, v)
	}
	for _, v := range b.Volumes {
		if !seenVol[v.Name] {
			out.Volumes = append(out.Volumes, v)
		}
	}

	seenDom := make(map[string]bool)
	for _, d := range a.Domains {
		seenDom[d.Name] = true
		out.Domains = append(out.Domains, d)
	}
	for _, d := range b.Domains {
		if !seenDom[d.Name] {
			out.Domains = append(out.Domains, d)
		}
	}

	return out
}
