package state

import (
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// ReferenceError reports a resource referencing a dependency that does not
// resolve within the inspected state.
type ReferenceError struct {
	// Kind is the kind of the offending resource.
	Kind resources.Kind

	// Name is the name of the offending resource.
	Name string

	// MissingKind is the kind of the unresolved dependency.
	MissingKind resources.Kind

	// Missing is the name of the unresolved dependency.
	Missing string
}

// Error implements the error interface.
func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q references %s %q which does not exist",
		e.Kind, e.Name, e.MissingKind, e.Missing)
}

// ValidateReferences checks that every domain's network and pool reference
// and every volume's pool (and optional base volume) reference resolve
// within s. It returns the first violation found. Callers reconciling two
// states should pass Union(current, desired) so references satisfied by
// either side are accepted.
func ValidateReferences(s State) error {
	networks := make(map[string]bool, len(s.Networks))
	for _, n := range s.Networks {
		networks[n.Name] = true
	}
	pools := make(map[string]bool, len(s.Pools))
	for _, p := range s.Pools {
		pools[p.Name] = true
	}
	volumes := make(map[string]bool, len(s.Volumes))
	for _, v := range s.Volumes {
		volumes[v.Name] = true
	}

	for _, vol := range s.Volumes {
		if !pools[vol.Pool] {
			return &ReferenceError{
				Kind: resources.KindVolume, Name: vol.Name,
				MissingKind: resources.KindPool, Missing: vol.Pool,
			}
		}
		if vol.BaseVolume != "" && !volumes[vol.BaseVolume] {
			return &ReferenceError{
				Kind: resources.KindVolume, Name: vol.Name,
				MissingKind: resources.KindVolume, Missing: vol.BaseVolume,
			}
		}
	}

	for _, dom := range s.Domains {
		if !networks[dom.Network] {
			return &ReferenceError{
				Kind: resources.KindDomain, Name: dom.Name,
				MissingKind: resources.KindNetwork, Missing: dom.Network,
			}
		}
		if !pools[dom.Pool] {
			return &ReferenceError{
				Kind: resources.KindDomain, Name: dom.Name,
				MissingKind: resources.KindPool, Missing: dom.Pool,
			}
		}
		if !volumes[dom.DiskVolume] {
			return &ReferenceError{
				Kind: resources.KindDomain, Name: dom.Name,
				MissingKind: resources.KindVolume, Missing: dom.DiskVolume,
			}
		}
		if !volumes[dom.CloudInitVolume] {
			return &ReferenceError{
				Kind: resources.KindDomain, Name: dom.Name,
				MissingKind: resources.KindVolume, Missing: dom.CloudInitVolume,
			}
		}
	}

	return nil
}
