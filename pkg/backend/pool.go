package backend

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/resources"
)

// ListPools returns all defined storage pools.
func (v *Virsh) ListPools(ctx context.Context) ([]resources.Pool, error) {
	out, err := v.run(ctx, "pool-list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	pools := make([]resources.Pool, 0)
	for _, name := range listNames(out) {
		pool, err := v.describePool(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe pool %s: %w", name, err)
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (v *Virsh) describePool(ctx context.Context, name string) (resources.Pool, error) {
	out, err := v.run(ctx, "pool-dumpxml", name)
	if err != nil {
		return resources.Pool{}, err
	}

	var doc poolXML
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		return resources.Pool{}, fmt.Errorf("parse pool XML: %w", err)
	}

	pool := resources.Pool{
		Name:     doc.Name,
		Type:     doc.Type,
		Capacity: doc.Capacity,
		Active:   v.poolActive(ctx, name),
	}
	if doc.Target != nil {
		pool.Path = doc.Target.Path
	}
	return pool, nil
}

func (v *Virsh) poolActive(ctx context.Context, name string) bool {
	out, err := v.run(ctx, "pool-info", name)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "State:") {
			return strings.Contains(line, "running")
		}
	}
	return false
}

// CreatePool serializes the pool into its XML description, defines it from a
// scoped temporary file, builds the backing directory, starts the pool, and
// marks it autostart.
func (v *Virsh) CreatePool(ctx context.Context, pool resources.Pool) error {
	doc := poolXML{
		Type:   pool.Type,
		Name:   pool.Name,
		Target: &poolTargetXML{Path: pool.Path},
	}

	body, err := marshalXML(doc)
	if err != nil {
		return fmt.Errorf("marshal pool XML: %w", err)
	}

	v.log.Info().Str("pool", pool.Name).Str("path", pool.Path).Msg("creating pool")
	return v.withTempXML("kestrel-pool-*.xml", body, func(path string) error {
		if _, err := v.run(ctx, "pool-define", path); err != nil {
			return fmt.Errorf("pool-define: %w", err)
		}
		if _, err := v.run(ctx, "pool-build", pool.Name); err != nil {
			return fmt.Errorf("pool-build: %w", err)
		}
		if _, err := v.run(ctx, "pool-start", pool.Name); err != nil {
			return fmt.Errorf("pool-start: %w", err)
		}
		if _, err := v.run(ctx, "pool-autostart", pool.Name); err != nil {
			return fmt.Errorf("pool-autostart: %w", err)
		}
		return nil
	})
}

// DeletePool stops and undefines a storage pool.
func (v *Virsh) DeletePool(ctx context.Context, name string) error {
	v.log.Info().Str("pool", name).Msg("deleting pool")
	_, _ = v.run(ctx, "pool-destroy", name)
	if _, err := v.run(ctx, "pool-undefine", name); err != nil {
		return fmt.Errorf("pool-undefine: %w", err)
	}
	return nil
}
