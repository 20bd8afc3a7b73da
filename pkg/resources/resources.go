// Package resources defines the closed set of infrastructure resources the
// reconciliation engine manages: networks, storage pools, volumes, and
// domains (virtual machines). Names are the only identity; no surrogate ID
// survives a run.
package resources

// Kind identifies a resource kind.
type Kind string

const (
	// KindPool is a libvirt storage pool.
	KindPool Kind = "pool"

	// KindNetwork is a libvirt network.
	KindNetwork Kind = "network"

	// KindVolume is a storage volume owned by a pool.
	KindVolume Kind = "volume"

	// KindDomain is a virtual machine.
	KindDomain Kind = "domain"
)

// createOrder is the fixed dependency order for creation. Destruction uses
// the reverse. Destroying a pool while volumes still reference it, or a
// network while a domain attaches to it, fails against the real backend.
var createOrder = []Kind{KindPool, KindNetwork, KindVolume, KindDomain}

// KindsInCreateOrder returns the resource kinds in creation dependency order.
func KindsInCreateOrder() []Kind {
	out := make([]Kind, len(createOrder))
	copy(out, createOrder)
	return out
}

// KindsInDestroyOrder returns the resource kinds in destruction dependency
// order (the reverse of creation).
func KindsInDestroyOrder() []Kind {
	out := make([]Kind, len(createOrder))
	for i, k := range createOrder {
		out[len(createOrder)-1-i] = k
	}
	return out
}

// CreatePriority returns the tier index of k in the creation order. Lower
// values must be created first.
func (k Kind) CreatePriority() int {
	for i, kind := range createOrder {
		if kind == k {
			return i
		}
	}
	return len(createOrder)
}

// DestroyPriority returns the tier index of k in the destruction order.
// Lower values must be destroyed first.
func (k Kind) DestroyPriority() int {
	return len(createOrder) - 1 - k.CreatePriority()
}

// Resource is the closed sum type over the four managed resource kinds.
// Only types in this package implement it, so a type switch over the four
// concrete types is exhaustive.
type Resource interface {
	// GetName returns the resource name, its sole identity.
	GetName() string

	// GetKind returns the resource kind.
	GetKind() Kind

	// sealed prevents implementations outside this package.
	sealed()
}

// Network is a virtual network with NAT or bridged forwarding.
type Network struct {
	// Name is the network name.
	Name string `json:"name"`

	// Mode is the forwarding mode (nat, route, bridge).
	Mode string `json:"mode"`

	// CIDR is the network address block (e.g. "192.168.100.0/24").
	CIDR string `json:"cidr"`

	// DHCP enables the built-in DHCP server.
	DHCP bool `json:"dhcp"`

	// DNS enables the built-in DNS server.
	DNS bool `json:"dns"`

	// Active reports whether the network is started.
	Active bool `json:"active"`
}

func (n Network) GetName() string { return n.Name }
func (n Network) GetKind() Kind   { return KindNetwork }
func (n Network) sealed()         {}

// Pool is a named storage location that owns volumes.
type Pool struct {
	// Name is the pool name.
	Name string `json:"name"`

	// Type is the pool backend type (dir, fs, logical).
	Type string `json:"type"`

	// Path is the filesystem path backing the pool.
	Path string `json:"path"`

	// Active reports whether the pool is started.
	Active bool `json:"active"`

	// Capacity is the total pool capacity in bytes, reported by the
	// backend. Never part of the desired state.
	Capacity uint64 `json:"capacity,omitempty"`

	// Allocation is the allocated size in bytes, reported by the backend.
	Allocation uint64 `json:"allocation,omitempty"`
}

func (p Pool) GetName() string { return p.Name }
func (p Pool) GetKind() Kind   { return KindPool }
func (p Pool) sealed()         {}

// Volume is a storage volume. Exactly one of Source, BaseVolume, or neither
// is set: a remote source URL triggers a download, a base volume name
// triggers a clone, and neither allocates a blank volume.
type Volume struct {
	// Name is the volume name.
	Name string `json:"name"`

	// Pool is the name of the owning storage pool.
	Pool string `json:"pool"`

	// Format is the volume format (qcow2, raw).
	Format string `json:"format"`

	// Capacity is the volume capacity in bytes.
	Capacity uint64 `json:"capacity"`

	// BaseVolume names another volume in the same pool to clone from.
	BaseVolume string `json:"base_volume,omitempty"`

	// Source is a remote image URL to download and upload into the volume.
	Source string `json:"source,omitempty"`
}

func (v Volume) GetName() string { return v.Name }
func (v Volume) GetKind() Kind   { return KindVolume }
func (v Volume) sealed()         {}

// Domain is a virtual machine.
type Domain struct {
	// Name is the domain name.
	Name string `json:"name"`

	// MemoryMB is the memory allocation in MiB.
	MemoryMB int `json:"memory_mb"`

	// VCPUs is the virtual CPU count.
	VCPUs int `json:"vcpus"`

	// Network names the network the primary interface attaches to.
	Network string `json:"network"`

	// Pool names the pool holding the domain's volumes.
	Pool string `json:"pool"`

	// DiskVolume names the primary disk volume.
	DiskVolume string `json:"disk_volume"`

	// CloudInitVolume names the bootstrap-payload (cloud-init seed) volume.
	CloudInitVolume string `json:"cloudinit_volume"`

	// IPAddress is the address assigned during desired-state derivation.
	// It is attached through the cloud-init payload, not discovered, so the
	// Kubernetes bootstrap can rely on it before the domain even boots.
	IPAddress string `json:"ip_address,omitempty"`

	// Running reports whether the domain is running.
	Running bool `json:"running"`
}

func (d Domain) GetName() string { return d.Name }
func (d Domain) GetKind() Kind   { return KindDomain }
func (d Domain) sealed()         {}
