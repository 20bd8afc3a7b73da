package planner

import (
	"strings"
	"testing"

	"github.com/kestrelhq/kestrel/pkg/resources"
	"github.com/kestrelhq/kestrel/pkg/state"
)

func clusterState() state.State {
	return state.State{
		Networks: []resources.Network{
			{Name: "k8s-net", Mode: "nat", CIDR: "192.168.100.0/24", DHCP: true, DNS: true, Active: true},
		},
		Pools: []resources.Pool{
			{Name: "k8s-pool", Type: "dir", Path: "/var/lib/libvirt/k8s", Active: true},
		},
		Volumes: []resources.Volume{
			{Name: "demo-base", Pool: "k8s-pool", Format: "qcow2", Source: "https://example.com/base.img"},
			{Name: "master-0-root", Pool: "k8s-pool", Format: "qcow2", Capacity: 20 << 30, BaseVolume: "demo-base"},
			{Name: "master-0-cloudinit", Pool: "k8s-pool", Format: "raw"},
		},
		Domains: []resources.Domain{
			{
				Name: "master-0", MemoryMB: 4096, VCPUs: 2,
				Network: "k8s-net", Pool: "k8s-pool",
				DiskVolume: "master-0-root", CloudInitVolume: "master-0-cloudinit",
				IPAddress: "192.168.100.10", Running: true,
			},
		},
	}
}

func TestDiffIdenticalStatesIsEmpty(t *testing.T) {
	s := clusterState()
	plan := Diff(s, s)
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %d actions", len(plan.Actions))
	}
}

func TestDiffEmptyCurrentCreatesEverythingInOrder(t *testing.T) {
	desired := clusterState()
	plan := Diff(state.State{}, desired)

	if got, want := len(plan.Actions), 6; got != want {
		t.Fatalf("expected %d actions, got %d", want, got)
	}

	lastTier := -1
	for _, a := range plan.Actions {
		if a.Op != OpCreate {
			t.Fatalf("expected only creates, got %s for %s", a.Op, a.Name())
		}
		tier := a.Kind.CreatePriority()
		if tier < lastTier {
			t.Fatalf("create for %s %q out of dependency order", a.Kind, a.Name())
		}
		lastTier = tier
	}

	if plan.Actions[0].Kind != resources.KindPool {
		t.Errorf("first create should be the pool, got %s", plan.Actions[0].Kind)
	}
	if plan.Actions[len(plan.Actions)-1].Kind != resources.KindDomain {
		t.Errorf("last create should be the domain, got %s", plan.Actions[len(plan.Actions)-1].Kind)
	}
}

func TestDiffEmptyDesiredDestroysInReverseOrder(t *testing.T) {
	current := clusterState()
	plan := Diff(current, state.State{})

	if got, want := len(plan.Actions), 6; got != want {
		t.Fatalf("expected %d actions, got %d", want, got)
	}

	lastTier := -1
	for _, a := range plan.Actions {
		if a.Op != OpDestroy {
			t.Fatalf("expected only destroys, got %s for %s", a.Op, a.Name())
		}
		tier := a.Kind.DestroyPriority()
		if tier < lastTier {
			t.Fatalf("destroy for %s %q out of dependency order", a.Kind, a.Name())
		}
		lastTier = tier
	}

	if plan.Actions[0].Kind != resources.KindDomain {
		t.Errorf("first destroy should be the domain, got %s", plan.Actions[0].Kind)
	}
	if plan.Actions[len(plan.Actions)-1].Kind != resources.KindPool {
		t.Errorf("last destroy should be the pool, got %s", plan.Actions[len(plan.Actions)-1].Kind)
	}
}

func TestDiffMinimalSetDifference(t *testing.T) {
	current := state.State{
		Networks: []resources.Network{
			{Name: "a", Mode: "nat", CIDR: "10.0.1.0/24", Active: true},
			{Name: "b", Mode: "nat", CIDR: "10.0.2.0/24", Active: true},
		},
	}
	desired := state.State{
		Networks: []resources.Network{
			{Name: "b", Mode: "nat", CIDR: "10.0.2.0/24", Active: true},
			{Name: "c", Mode: "nat", CIDR: "10.0.3.0/24", Active: true},
		},
	}

	plan := Diff(current, desired)
	if got, want := len(plan.Actions), 2; got != want {
		t.Fatalf("expected %d actions, got %d: %+v", want, got, plan.Actions)
	}

	// Creates come before destroys.
	if plan.Actions[0].Op != OpCreate || plan.Actions[0].Name() != "c" {
		t.Errorf("expected create c first, got %s %s", plan.Actions[0].Op, plan.Actions[0].Name())
	}
	if plan.Actions[1].Op != OpDestroy || plan.Actions[1].Name() != "a" {
		t.Errorf("expected destroy a second, got %s %s", plan.Actions[1].Op, plan.Actions[1].Name())
	}
}

func TestDiffDetectsFieldDrift(t *testing.T) {
	current := clusterState()
	desired := clusterState()
	desired.Domains[0].MemoryMB = 8192
	desired.Domains[0].VCPUs = 4

	plan := Diff(current, desired)
	if got, want := len(plan.Actions), 1; got != want {
		t.Fatalf("expected %d action, got %d", want, got)
	}

	a := plan.Actions[0]
	if a.Op != OpUpdate || a.Kind != resources.KindDomain {
		t.Fatalf("expected domain update, got %s %s", a.Op, a.Kind)
	}
	if !strings.Contains(a.Reason, "memory_mb") || !strings.Contains(a.Reason, "vcpus") {
		t.Errorf("reason should name the drifted fields, got %q", a.Reason)
	}

	dom, ok := a.Resource.(resources.Domain)
	if !ok {
		t.Fatalf("update should carry the desired domain, got %T", a.Resource)
	}
	if dom.MemoryMB != 8192 {
		t.Errorf("update carries stale payload: memory %d", dom.MemoryMB)
	}
}

func TestDiffOrdersCreatesBeforeUpdatesWithinKind(t *testing.T) {
	current := state.State{
		Networks: []resources.Network{
			{Name: "a-net", Mode: "nat", CIDR: "192.168.1.0/24", DHCP: true, DNS: true, Active: true},
		},
	}
	desired := state.State{
		Networks: []resources.Network{
			// Drifted network whose name sorts before the new one.
			{Name: "a-net", Mode: "route", CIDR: "192.168.1.0/24", DHCP: true, DNS: true, Active: true},
			{Name: "z-net", Mode: "nat", CIDR: "192.168.2.0/24", DHCP: true, DNS: true, Active: true},
		},
	}

	plan := Diff(current, desired)
	if got, want := len(plan.Actions), 2; got != want {
		t.Fatalf("expected %d actions, got %d", want, got)
	}
	if plan.Actions[0].Op != OpCreate || plan.Actions[0].Name() != "z-net" {
		t.Errorf("first action should be the create, got %s %s", plan.Actions[0].Op, plan.Actions[0].Name())
	}
	if plan.Actions[1].Op != OpUpdate || plan.Actions[1].Name() != "a-net" {
		t.Errorf("second action should be the update, got %s %s", plan.Actions[1].Op, plan.Actions[1].Name())
	}
}

func TestDiffUpdateCarriesPriorResource(t *testing.T) {
	current := clusterState()
	desired := clusterState()
	desired.Volumes[1].Pool = "other-pool"
	desired.Pools = append(desired.Pools, resources.Pool{
		Name: "other-pool", Type: "dir", Path: "/var/lib/libvirt/other", Active: true,
	})

	plan := Diff(current, desired)
	var update *Action
	for i := range plan.Actions {
		if plan.Actions[i].Op == OpUpdate && plan.Actions[i].Kind == resources.KindVolume {
			update = &plan.Actions[i]
		}
	}
	if update == nil {
		t.Fatalf("expected a volume update, got %+v", plan.Actions)
	}

	prior, ok := update.Prior.(resources.Volume)
	if !ok {
		t.Fatalf("update carries no prior volume: %+v", update)
	}
	if prior.Pool != "k8s-pool" {
		t.Errorf("prior pool = %s, want the current one", prior.Pool)
	}
	if update.Resource.(resources.Volume).Pool != "other-pool" {
		t.Errorf("payload pool = %s, want the desired one", update.Resource.(resources.Volume).Pool)
	}
}

func TestDiffIgnoresBackendAssignedFields(t *testing.T) {
	current := clusterState()
	desired := clusterState()

	// The backend reports these; the configuration never sets them.
	current.Pools[0].Capacity = 100 << 30
	current.Pools[0].Allocation = 7 << 30
	current.Domains[0].IPAddress = "192.168.100.137"
	current.Volumes[0].Capacity = 2361393152 // measured size of the downloaded image

	plan := Diff(current, desired)
	if !plan.Empty() {
		t.Fatalf("backend-assigned fields caused drift: %+v", plan.Actions)
	}
}

func TestOptimizeCancelsCreateDestroyPairs(t *testing.T) {
	plan := &Plan{
		Actions: []Action{
			{Op: OpCreate, Kind: resources.KindVolume, Resource: resources.Volume{Name: "v1", Pool: "p"}},
			{Op: OpCreate, Kind: resources.KindVolume, Resource: resources.Volume{Name: "v2", Pool: "p"}},
			{Op: OpDestroy, Kind: resources.KindVolume, Resource: resources.Volume{Name: "v1", Pool: "p"}},
		},
	}

	plan.Optimize()

	if got, want := len(plan.Actions), 1; got != want {
		t.Fatalf("expected %d action after optimize, got %d", want, got)
	}
	if plan.Actions[0].Name() != "v2" || plan.Actions[0].Op != OpCreate {
		t.Errorf("wrong survivor: %s %s", plan.Actions[0].Op, plan.Actions[0].Name())
	}
}

func TestOptimizeKeepsUpdates(t *testing.T) {
	plan := &Plan{
		Actions: []Action{
			{Op: OpUpdate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n"}},
		},
	}
	plan.Optimize()
	if len(plan.Actions) != 1 {
		t.Fatalf("update dropped by optimize")
	}
}

func TestSummarize(t *testing.T) {
	plan := Diff(state.State{}, clusterState())
	s := plan.Summarize()

	if s.Total != 6 || s.Creates != 6 || s.Updates != 0 || s.Destroys != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.ByKind[resources.KindVolume] != 3 {
		t.Errorf("expected 3 volume actions, got %d", s.ByKind[resources.KindVolume])
	}
}
