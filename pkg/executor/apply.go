package executor

import (
	"context"
	"fmt"

	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/resources"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// apply performs one action against the backend. A per-resource mutex
// serializes concurrent workers that target the same name.
func (e *Executor) apply(ctx context.Context, a planner.Action, seedOwners map[string]resources.Domain) error {
	lock := e.lockFor(string(a.Kind) + "/" + a.Name())
	lock.Lock()
	defer lock.Unlock()

	switch a.Op {
	case planner.OpCreate:
		return e.create(ctx, a.Resource, seedOwners)
	case planner.OpUpdate:
		// Updates are replacements: libvirt definitions are not
		// editable in place for the fields we manage. The destroy
		// targets the prior copy, which may live elsewhere (a volume
		// whose pool changed, say).
		prior := a.Resource
		if a.Prior != nil {
			prior = a.Prior
		}
		if err := e.destroy(ctx, prior); err != nil {
			return fmt.Errorf("replace: destroy old: %w", err)
		}
		return e.create(ctx, a.Resource, seedOwners)
	case planner.OpDestroy:
		return e.destroy(ctx, a.Resource)
	default:
		return fmt.Errorf("unknown op %q", a.Op)
	}
}

// create dispatches a create to the backend. Freshly created seed
// volumes are immediately filled with their node's cloud-init payload.
func (e *Executor) create(ctx context.Context, r resources.Resource, seedOwners map[string]resources.Domain) error {
	switch res := r.(type) {
	case resources.Network:
		return e.backend.CreateNetwork(ctx, res)
	case resources.Pool:
		return e.backend.CreatePool(ctx, res)
	case resources.Volume:
		if err := e.backend.CreateVolume(ctx, res); err != nil {
			return err
		}
		if owner, ok := seedOwners[res.Name]; ok {
			return e.seed(ctx, res, owner)
		}
		return nil
	case resources.Domain:
		return e.backend.CreateDomain(ctx, res)
	default:
		return fmt.Errorf("unknown resource type %T", r)
	}
}

// destroy dispatches a destroy to the backend.
func (e *Executor) destroy(ctx context.Context, r resources.Resource) error {
	switch res := r.(type) {
	case resources.Network:
		return e.backend.DeleteNetwork(ctx, res.Name)
	case resources.Pool:
		return e.backend.DeletePool(ctx, res.Name)
	case resources.Volume:
		return e.backend.DeleteVolume(ctx, res.Pool, res.Name)
	case resources.Domain:
		return e.backend.DeleteDomain(ctx, res.Name)
	default:
		return fmt.Errorf("unknown resource type %T", r)
	}
}

// seed renders the owning domain's cloud-init payload and writes it
// into the seed volume.
func (e *Executor) seed(ctx context.Context, vol resources.Volume, owner resources.Domain) error {
	if e.renderer == nil {
		return fmt.Errorf("seed volume %q: no cloud-init renderer configured", vol.Name)
	}
	payload, err := e.renderer.Render(owner.Name, owner.IPAddress)
	if err != nil {
		return fmt.Errorf("render cloud-init for %q: %w", owner.Name, err)
	}
	return e.backend.SeedVolume(ctx, vol.Pool, vol.Name, payload.UserData, payload.NetworkConfig)
}

// rollback destroys the resources this run created, most recent first.
// Rollback failures are recorded on the result; they never mask the
// original run error.
func (e *Executor) rollback(ctx context.Context, result *Result, log *telemetry.Logger) {
	result.RolledBack = true

	for i := len(result.Actions) - 1; i >= 0; i-- {
		ar := result.Actions[i]
		if ar.Status != StatusSucceeded || ar.Action.Op != planner.OpCreate {
			continue
		}
		rlog := log.WithResource(string(ar.Action.Kind), ar.Action.Name())
		if err := e.destroy(ctx, ar.Action.Resource); err != nil {
			msg := fmt.Sprintf("rollback %s %q: %v", ar.Action.Kind, ar.Action.Name(), err)
			result.RollbackErrors = append(result.RollbackErrors, msg)
			rlog.WithError(err).Warn("rollback destroy failed")
			continue
		}
		rlog.Info("rolled back")
	}
}
