package state

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// mockBackend serves canned inventories and records nothing.
type mockBackend struct {
	networks []resources.Network
	pools    []resources.Pool
	volumes  map[string][]resources.Volume
	domains  []resources.Domain

	networksErr error
	poolsErr    error
	volumesErr  error
	domainsErr  error
}

func (m *mockBackend) ListNetworks(ctx context.Context) ([]resources.Network, error) {
	return m.networks, m.networksErr
}

func (m *mockBackend) ListPools(ctx context.Context) ([]resources.Pool, error) {
	return m.pools, m.poolsErr
}

func (m *mockBackend) ListVolumes(ctx context.Context, pool string) ([]resources.Volume, error) {
	return m.volumes[pool], m.volumesErr
}

func (m *mockBackend) ListDomains(ctx context.Context) ([]resources.Domain, error) {
	return m.domains, m.domainsErr
}

func (m *mockBackend) CreateNetwork(ctx context.Context, net resources.Network) error { return nil }
func (m *mockBackend) CreatePool(ctx context.Context, pool resources.Pool) error      { return nil }
func (m *mockBackend) CreateVolume(ctx context.Context, vol resources.Volume) error   { return nil }
func (m *mockBackend) CreateDomain(ctx context.Context, dom resources.Domain) error   { return nil }
func (m *mockBackend) SeedVolume(ctx context.Context, pool, name, userData, networkConfig string) error {
	return nil
}
func (m *mockBackend) DeleteNetwork(ctx context.Context, name string) error      { return nil }
func (m *mockBackend) DeletePool(ctx context.Context, name string) error         { return nil }
func (m *mockBackend) DeleteVolume(ctx context.Context, pool, name string) error { return nil }
func (m *mockBackend) DeleteDomain(ctx context.Context, name string) error       { return nil }
func (m *mockBackend) Exists(ctx context.Context, kind resources.Kind, name string) bool {
	return false
}

func TestFetchCurrentCollectsAllKinds(t *testing.T) {
	b := &mockBackend{
		networks: []resources.Network{{Name: "net"}},
		pools:    []resources.Pool{{Name: "p1"}, {Name: "p2"}},
		volumes: map[string][]resources.Volume{
			"p1": {{Name: "v1", Pool: "p1"}},
			"p2": {{Name: "v2", Pool: "p2"}},
		},
		domains: []resources.Domain{{Name: "master-0", DiskVolume: "v2"}},
	}

	s, err := FetchCurrent(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}

	if len(s.Networks) != 1 || len(s.Pools) != 2 || len(s.Volumes) != 2 || len(s.Domains) != 1 {
		t.Fatalf("unexpected inventory sizes: %d/%d/%d/%d",
			len(s.Networks), len(s.Pools), len(s.Volumes), len(s.Domains))
	}
	if s.CapturedAt.IsZero() {
		t.Error("capture timestamp not set")
	}
}

func TestFetchCurrentInfersDomainPool(t *testing.T) {
	b := &mockBackend{
		pools: []resources.Pool{{Name: "p1"}},
		volumes: map[string][]resources.Volume{
			"p1": {{Name: "master-0-root", Pool: "p1"}},
		},
		domains: []resources.Domain{{Name: "master-0", DiskVolume: "master-0-root"}},
	}

	s, err := FetchCurrent(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if s.Domains[0].Pool != "p1" {
		t.Errorf("domain pool not inferred: %q", s.Domains[0].Pool)
	}
}

func TestFetchCurrentFailsFast(t *testing.T) {
	queryErr := errors.New("connection refused")

	cases := []struct {
		name string
		b    *mockBackend
	}{
		{"networks", &mockBackend{networksErr: queryErr}},
		{"pools", &mockBackend{poolsErr: queryErr}},
		{"volumes", &mockBackend{pools: []resources.Pool{{Name: "p"}}, volumesErr: queryErr}},
		{"domains", &mockBackend{domainsErr: queryErr}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FetchCurrent(context.Background(), c.b)
			if !errors.Is(err, queryErr) {
				t.Fatalf("expected wrapped query error, got %v", err)
			}
		})
	}
}

func TestUnionPrefersFirstState(t *testing.T) {
	a := State{Networks: []resources.Network{{Name: "net", Mode: "nat"}}}
	b := State{
		Networks: []resources.Network{{Name: "net", Mode: "route"}, {Name: "other"}},
	}

	u := Union(a, b)
	if len(u.Networks) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(u.Networks))
	}
	if u.Networks[0].Mode != "nat" {
		t.Errorf("union should prefer a's resource, got mode %q", u.Networks[0].Mode)
	}
}
