package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kestrelhq/kestrel/pkg/cloudinit"
	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/resources"
	"github.com/kestrelhq/kestrel/pkg/state"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// recordingBackend logs every mutating call in order and fails the
// calls listed in failOn.
type recordingBackend struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{failOn: make(map[string]error)}
}

func (b *recordingBackend) record(call string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	return b.failOn[call]
}

func (b *recordingBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *recordingBackend) indexOf(call string) int {
	for i, c := range b.callLog() {
		if c == call {
			return i
		}
	}
	return -1
}

func (b *recordingBackend) ListNetworks(ctx context.Context) ([]resources.Network, error) {
	return nil, nil
}
func (b *recordingBackend) ListPools(ctx context.Context) ([]resources.Pool, error) { return nil, nil }
func (b *recordingBackend) ListVolumes(ctx context.Context, pool string) ([]resources.Volume, error) {
	return nil, nil
}
func (b *recordingBackend) ListDomains(ctx context.Context) ([]resources.Domain, error) {
	return nil, nil
}

func (b *recordingBackend) CreateNetwork(ctx context.Context, net resources.Network) error {
	return b.record("create network " + net.Name)
}
func (b *recordingBackend) CreatePool(ctx context.Context, pool resources.Pool) error {
	return b.record("create pool " + pool.Name)
}
func (b *recordingBackend) CreateVolume(ctx context.Context, vol resources.Volume) error {
	return b.record("create volume " + vol.Pool + "/" + vol.Name)
}
func (b *recordingBackend) CreateDomain(ctx context.Context, dom resources.Domain) error {
	return b.record("create domain " + dom.Name)
}
func (b *recordingBackend) SeedVolume(ctx context.Context, pool, name, userData, networkConfig string) error {
	return b.record("seed volume " + pool + "/" + name)
}
func (b *recordingBackend) DeleteNetwork(ctx context.Context, name string) error {
	return b.record("delete network " + name)
}
func (b *recordingBackend) DeletePool(ctx context.Context, name string) error {
	return b.record("delete pool " + name)
}
func (b *recordingBackend) DeleteVolume(ctx context.Context, pool, name string) error {
	return b.record("delete volume " + pool + "/" + name)
}
func (b *recordingBackend) DeleteDomain(ctx context.Context, name string) error {
	return b.record("delete domain " + name)
}
func (b *recordingBackend) Exists(ctx context.Context, kind resources.Kind, name string) bool {
	return false
}

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func testRenderer(t *testing.T) *cloudinit.Renderer {
	t.Helper()
	r, err := cloudinit.NewRenderer("ubuntu", "ssh-ed25519 AAAA test", "192.168.100.0/24")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func fullCreatePlan() (*planner.Plan, state.State) {
	desired := state.State{
		Networks: []resources.Network{
			{Name: "net", Mode: "nat", CIDR: "192.168.100.0/24", DHCP: true, DNS: true, Active: true},
		},
		Pools: []resources.Pool{
			{Name: "pool", Type: "dir", Path: "/var/lib/libvirt/demo", Active: true},
		},
		Volumes: []resources.Volume{
			{Name: "base", Pool: "pool", Format: "qcow2", Source: "https://example.com/img"},
			{Name: "master-0-root", Pool: "pool", Format: "qcow2", Capacity: 20 << 30, BaseVolume: "base"},
			{Name: "master-0-cloudinit", Pool: "pool", Format: "raw"},
		},
		Domains: []resources.Domain{
			{
				Name: "master-0", MemoryMB: 4096, VCPUs: 2,
				Network: "net", Pool: "pool",
				DiskVolume: "master-0-root", CloudInitVolume: "master-0-cloudinit",
				IPAddress: "192.168.100.10", Running: true,
			},
		},
	}
	return planner.Diff(state.State{}, desired), desired
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	b := newRecordingBackend()
	plan, desired := fullCreatePlan()

	exec := New(b, testLogger(t), WithRenderer(testRenderer(t)))
	result, err := exec.Run(context.Background(), plan, desired, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(b.callLog()) != 0 {
		t.Fatalf("dry run issued backend calls: %v", b.callLog())
	}
	if result.Planned != len(plan.Actions) {
		t.Errorf("expected %d planned, got %d", len(plan.Actions), result.Planned)
	}
	if result.Succeeded != 0 || result.Failed != 0 {
		t.Errorf("dry run should not succeed or fail actions: %+v", result)
	}
}

func TestRunAppliesTiersInDependencyOrder(t *testing.T) {
	b := newRecordingBackend()
	plan, desired := fullCreatePlan()

	exec := New(b, testLogger(t), WithRenderer(testRenderer(t)))
	result, err := exec.Run(context.Background(), plan, desired, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != len(plan.Actions) {
		t.Fatalf("expected all %d actions to succeed, got %d", len(plan.Actions), result.Succeeded)
	}

	pool := b.indexOf("create pool pool")
	net := b.indexOf("create network net")
	root := b.indexOf("create volume pool/master-0-root")
	dom := b.indexOf("create domain master-0")

	if pool == -1 || net == -1 || root == -1 || dom == -1 {
		t.Fatalf("missing expected calls: %v", b.callLog())
	}
	if !(pool < net && net < root && root < dom) {
		t.Errorf("tier order violated: %v", b.callLog())
	}
}

func TestRunSeedsVolumeBeforeDomainCreate(t *testing.T) {
	b := newRecordingBackend()
	plan, desired := fullCreatePlan()

	exec := New(b, testLogger(t), WithRenderer(testRenderer(t)))
	if _, err := exec.Run(context.Background(), plan, desired, Options{}); err != nil {
		t.Fatal(err)
	}

	create := b.indexOf("create volume pool/master-0-cloudinit")
	seed := b.indexOf("seed volume pool/master-0-cloudinit")
	dom := b.indexOf("create domain master-0")

	if seed == -1 {
		t.Fatalf("seed volume never filled: %v", b.callLog())
	}
	if !(create < seed && seed < dom) {
		t.Errorf("seed must land between volume create and domain create: %v", b.callLog())
	}
}

func TestRunSerialHaltStopsAtFirstFailure(t *testing.T) {
	b := newRecordingBackend()
	b.failOn["create network n2"] = errors.New("boom")

	plan := &planner.Plan{Actions: []planner.Action{
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n1"}},
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n2"}},
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n3"}},
	}}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{OnError: OnErrorHalt})
	if err == nil {
		t.Fatal("expected run error")
	}

	if result.Succeeded != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Errorf("unexpected outcome counts: %+v", result)
	}
	if b.indexOf("create network n3") != -1 {
		t.Errorf("halt still attempted later action: %v", b.callLog())
	}
	if result.Actions[2].Status != StatusSkipped {
		t.Errorf("third action should be skipped, got %s", result.Actions[2].Status)
	}
}

func TestRunContinueAggregatesFailures(t *testing.T) {
	b := newRecordingBackend()
	b.failOn["create network n1"] = errors.New("boom1")
	b.failOn["create network n3"] = errors.New("boom3")

	plan := &planner.Plan{Actions: []planner.Action{
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n1"}},
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n2"}},
		{Op: planner.OpCreate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n3"}},
	}}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{OnError: OnErrorContinue})

	var perr *PartialError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialError, got %v", err)
	}
	if len(perr.Errors) != 2 {
		t.Errorf("expected 2 aggregated failures, got %d", len(perr.Errors))
	}
	if result.Succeeded != 1 || result.Failed != 2 || result.Skipped != 0 {
		t.Errorf("unexpected outcome counts: %+v", result)
	}
}

func TestRunRollbackDestroysCreatesInReverse(t *testing.T) {
	b := newRecordingBackend()
	b.failOn["create domain d"] = errors.New("boom")

	plan := &planner.Plan{Actions: []planner.Action{
		{Op: planner.OpCreate, Kind: resources.KindPool, Resource: resources.Pool{Name: "p"}},
		{Op: planner.OpCreate, Kind: resources.KindVolume, Resource: resources.Volume{Name: "v", Pool: "p"}},
		{Op: planner.OpCreate, Kind: resources.KindDomain, Resource: resources.Domain{Name: "d"}},
	}}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{RollbackOnError: true})
	if err == nil {
		t.Fatal("expected run error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("rollback masked the original error: %v", err)
	}
	if !result.RolledBack {
		t.Error("rollback flag not set")
	}

	delVol := b.indexOf("delete volume p/v")
	delPool := b.indexOf("delete pool p")
	if delVol == -1 || delPool == -1 {
		t.Fatalf("rollback destroys missing: %v", b.callLog())
	}
	if delVol > delPool {
		t.Errorf("rollback out of reverse order: %v", b.callLog())
	}
}

func TestRunRollbackErrorsDoNotMaskOriginal(t *testing.T) {
	b := newRecordingBackend()
	b.failOn["create volume p/v"] = errors.New("original")
	b.failOn["delete pool p"] = errors.New("rollback broke too")

	plan := &planner.Plan{Actions: []planner.Action{
		{Op: planner.OpCreate, Kind: resources.KindPool, Resource: resources.Pool{Name: "p"}},
		{Op: planner.OpCreate, Kind: resources.KindVolume, Resource: resources.Volume{Name: "v", Pool: "p"}},
	}}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{RollbackOnError: true})
	if err == nil || !strings.Contains(err.Error(), "original") {
		t.Fatalf("original error lost: %v", err)
	}
	if len(result.RollbackErrors) != 1 {
		t.Errorf("rollback failure not reported: %+v", result.RollbackErrors)
	}
}

func TestRunParallelHaltStopsDispatching(t *testing.T) {
	b := newRecordingBackend()
	b.failOn["create volume p/v0"] = errors.New("boom")

	var actions []planner.Action
	for i := 0; i < 6; i++ {
		actions = append(actions, planner.Action{
			Op:       planner.OpCreate,
			Kind:     resources.KindVolume,
			Resource: resources.Volume{Name: fmt.Sprintf("v%d", i), Pool: "p"},
		})
	}
	plan := &planner.Plan{Actions: actions}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{
		Mode:           ModeParallel,
		MaxConcurrency: 1,
		OnError:        OnErrorHalt,
	})
	if err == nil {
		t.Fatal("expected run error")
	}

	var perr *PartialError
	if errors.As(err, &perr) {
		t.Errorf("halt should surface the first failure, not aggregate: %v", err)
	}
	if calls := b.callLog(); len(calls) != 1 {
		t.Errorf("halt still dispatched same-tier actions: %v", calls)
	}
	if result.Failed != 1 || result.Skipped != 5 {
		t.Errorf("unexpected outcome counts: %+v", result)
	}
}

func TestRunUpdateMovesVolumeAcrossPools(t *testing.T) {
	b := newRecordingBackend()

	pools := []resources.Pool{
		{Name: "old", Type: "dir", Path: "/var/lib/libvirt/old", Active: true},
		{Name: "new", Type: "dir", Path: "/var/lib/libvirt/new", Active: true},
	}
	current := state.State{
		Pools:   pools,
		Volumes: []resources.Volume{{Name: "v", Pool: "old", Format: "qcow2", Capacity: 1 << 30}},
	}
	desired := state.State{
		Pools:   pools,
		Volumes: []resources.Volume{{Name: "v", Pool: "new", Format: "qcow2", Capacity: 1 << 30}},
	}

	plan := planner.Diff(current, desired)
	if len(plan.Actions) != 1 || plan.Actions[0].Op != planner.OpUpdate {
		t.Fatalf("expected a single update action, got %+v", plan.Actions)
	}

	exec := New(b, testLogger(t))
	if _, err := exec.Run(context.Background(), plan, desired, Options{}); err != nil {
		t.Fatal(err)
	}

	del := b.indexOf("delete volume old/v")
	create := b.indexOf("create volume new/v")
	if del == -1 {
		t.Fatalf("replacement never deleted the old copy: %v", b.callLog())
	}
	if create == -1 || del > create {
		t.Errorf("replacement out of order: %v", b.callLog())
	}
}

func TestRunUpdateReplacesResource(t *testing.T) {
	b := newRecordingBackend()

	plan := &planner.Plan{Actions: []planner.Action{
		{Op: planner.OpUpdate, Kind: resources.KindNetwork, Resource: resources.Network{Name: "n"}},
	}}

	exec := New(b, testLogger(t))
	if _, err := exec.Run(context.Background(), plan, state.State{}, Options{}); err != nil {
		t.Fatal(err)
	}

	del := b.indexOf("delete network n")
	create := b.indexOf("create network n")
	if del == -1 || create == -1 || del > create {
		t.Errorf("update should delete then recreate: %v", b.callLog())
	}
}

func TestRunParallelWithinTier(t *testing.T) {
	b := newRecordingBackend()

	var actions []planner.Action
	for i := 0; i < 8; i++ {
		actions = append(actions, planner.Action{
			Op:       planner.OpCreate,
			Kind:     resources.KindVolume,
			Resource: resources.Volume{Name: fmt.Sprintf("v%d", i), Pool: "p"},
		})
	}
	actions = append(actions, planner.Action{
		Op: planner.OpCreate, Kind: resources.KindDomain, Resource: resources.Domain{Name: "d"},
	})
	plan := &planner.Plan{Actions: actions}

	exec := New(b, testLogger(t))
	result, err := exec.Run(context.Background(), plan, state.State{}, Options{
		Mode:           ModeParallel,
		MaxConcurrency: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 9 {
		t.Fatalf("expected 9 successes, got %d", result.Succeeded)
	}

	// The domain tier must start only after every volume call finished.
	calls := b.callLog()
	if calls[len(calls)-1] != "create domain d" {
		t.Errorf("domain created before volume tier drained: %v", calls)
	}
}
