package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/kestrel/pkg/journal"
	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/resources"
	"github.com/kestrelhq/kestrel/pkg/state"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// Run applies the plan. The desired state supplies the domain each seed
// volume belongs to, so freshly created seed volumes get their cloud-init
// payload before any domain boots from them.
//
// The returned Result is always populated, including on error: callers
// render it to show which actions succeeded, failed, or were skipped.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan, desired state.State, opts Options) (*Result, error) {
	opts.applyDefaults()

	runID := uuid.New().String()
	log := e.log.WithRunID(runID)
	started := time.Now()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartRunSpan(ctx, runID)
		defer span.End()
	}

	summary := plan.Summarize()
	if e.metrics != nil {
		e.metrics.RecordPlanSize(summary.Creates, summary.Updates, summary.Destroys)
		if !opts.DryRun {
			e.metrics.RecordRunStarted()
		}
	}

	if e.journal != nil && !opts.DryRun {
		err := e.journal.RecordRun(ctx, &journal.Run{
			ID:        runID,
			Command:   opts.Command,
			Status:    "running",
			Creates:   summary.Creates,
			Updates:   summary.Updates,
			Destroys:  summary.Destroys,
			StartedAt: started.UTC(),
		})
		if err != nil {
			log.WithError(err).Warn("journal unavailable, continuing without it")
		}
	}

	log.Infof("executing plan: %d actions (%d create, %d update, %d destroy)",
		summary.Total, summary.Creates, summary.Updates, summary.Destroys)

	seedOwners := seedOwnersOf(desired)

	result := &Result{
		RunID:   runID,
		Actions: make([]ActionResult, len(plan.Actions)),
	}
	for i, a := range plan.Actions {
		result.Actions[i] = ActionResult{Action: a, Status: StatusSkipped}
	}

	runErr := e.runTiers(ctx, plan, seedOwners, opts, result, log)

	if runErr != nil && opts.RollbackOnError && !opts.DryRun {
		e.rollback(ctx, result, log)
	}

	result.Duration = time.Since(started)
	for _, ar := range result.Actions {
		switch ar.Status {
		case StatusSucceeded:
			result.Succeeded++
		case StatusFailed:
			result.Failed++
		case StatusSkipped:
			result.Skipped++
		case StatusPlanned:
			result.Planned++
		}
	}

	status := "succeeded"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	}
	if e.metrics != nil && !opts.DryRun {
		e.metrics.RecordRunCompleted(status, result.Duration)
	}
	if e.journal != nil && !opts.DryRun {
		for _, ar := range result.Actions {
			rec := &journal.ActionRecord{
				RunID:      runID,
				Op:         string(ar.Action.Op),
				Kind:       string(ar.Action.Kind),
				Name:       ar.Action.Name(),
				Status:     string(ar.Status),
				Error:      ar.ErrorMessage,
				Duration:   ar.Duration,
				ExecutedAt: time.Now().UTC(),
			}
			if err := e.journal.RecordAction(ctx, rec); err != nil {
				log.WithError(err).Warn("journal action record failed")
				break
			}
		}
		if err := e.journal.CompleteRun(ctx, runID, status, errMsg); err != nil {
			log.WithError(err).Warn("journal run completion failed")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("run failed")
	} else {
		log.Infof("run complete: %d succeeded, %d planned", result.Succeeded, result.Planned)
	}

	return result, runErr
}

// runTiers executes the plan tier by tier. A tier holds the actions of
// one kind and direction; tiers never overlap, so parallelism inside a
// tier cannot violate dependency order.
func (e *Executor) runTiers(
	ctx context.Context,
	plan *planner.Plan,
	seedOwners map[string]resources.Domain,
	opts Options,
	result *Result,
	log *telemetry.Logger,
) error {
	var failures []error
	halted := false

	for _, tier := range tiersOf(plan) {
		if halted {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var tierErrs []error
		if opts.Mode == ModeParallel && !opts.DryRun && len(tier) > 1 {
			tierErrs = e.runTierParallel(ctx, plan, tier, seedOwners, opts, result, log)
		} else {
			tierErrs = e.runTierSerial(ctx, plan, tier, seedOwners, opts, result, log, &halted)
		}
		failures = append(failures, tierErrs...)

		if len(tierErrs) > 0 && opts.OnError == OnErrorHalt {
			halted = true
		}
	}

	switch {
	case len(failures) == 0:
		return nil
	// Halt mode stops at the first failure; concurrent workers may have
	// failed before noticing the halt, but the run error is the first one.
	case opts.OnError == OnErrorHalt || len(failures) == 1:
		return failures[0]
	default:
		return &PartialError{Errors: failures}
	}
}

// runTierSerial executes one tier in plan order, stopping at the first
// failure when halt-on-error is selected.
func (e *Executor) runTierSerial(
	ctx context.Context,
	plan *planner.Plan,
	tier []int,
	seedOwners map[string]resources.Domain,
	opts Options,
	result *Result,
	log *telemetry.Logger,
	halted *bool,
) []error {
	var errs []error
	for _, idx := range tier {
		if *halted {
			break
		}
		if err := e.runAction(ctx, plan.Actions[idx], seedOwners, opts, &result.Actions[idx], log); err != nil {
			errs = append(errs, err)
			if opts.OnError == OnErrorHalt {
				*halted = true
			}
		}
	}
	return errs
}

// runTierParallel executes one tier with a bounded worker pool. In halt
// mode the first failure raises a flag every worker consults before
// dequeuing, so no further actions in the tier are dispatched.
func (e *Executor) runTierParallel(
	ctx context.Context,
	plan *planner.Plan,
	tier []int,
	seedOwners map[string]resources.Domain,
	opts Options,
	result *Result,
	log *telemetry.Logger,
) []error {
	workers := opts.MaxConcurrency
	if len(tier) < workers {
		workers = len(tier)
	}

	work := make(chan int, len(tier))
	for _, idx := range tier {
		work <- idx
	}
	close(work)

	var halted atomic.Bool
	errChan := make(chan error, len(tier))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil || halted.Load() {
					return
				}
				if err := e.runAction(ctx, plan.Actions[idx], seedOwners, opts, &result.Actions[idx], log); err != nil {
					errChan <- err
					if opts.OnError == OnErrorHalt {
						halted.Store(true)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errs
}

// runAction executes one action and records its outcome in place.
func (e *Executor) runAction(
	ctx context.Context,
	a planner.Action,
	seedOwners map[string]resources.Domain,
	opts Options,
	out *ActionResult,
	log *telemetry.Logger,
) error {
	alog := log.WithResource(string(a.Kind), a.Name())

	if opts.DryRun {
		out.Status = StatusPlanned
		alog.Infof("would %s", a.Op)
		return nil
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartActionSpan(ctx, string(a.Op), string(a.Kind), a.Name())
		defer span.End()
	}

	started := time.Now()
	err := e.apply(ctx, a, seedOwners)
	out.Duration = time.Since(started)

	if span != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}

	if e.metrics != nil {
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		e.metrics.RecordAction(string(a.Op), string(a.Kind), status, out.Duration)
	}

	if err != nil {
		out.Status = StatusFailed
		out.Error = err
		out.ErrorMessage = err.Error()
		if e.metrics != nil {
			e.metrics.RecordBackendError(string(a.Kind))
		}
		alog.WithError(err).Errorf("%s failed", a.Op)
		return fmt.Errorf("%s %s %q: %w", a.Op, a.Kind, a.Name(), err)
	}

	out.Status = StatusSucceeded
	alog.Infof("%s succeeded", a.Op)
	return nil
}

// tiersOf splits the plan into execution tiers: the creates and updates
// of each kind in create order, then the destroys of each kind in
// destroy order. Each tier is a list of indexes into plan.Actions.
func tiersOf(plan *planner.Plan) [][]int {
	var tiers [][]int

	for _, kind := range resources.KindsInCreateOrder() {
		var tier []int
		for i, a := range plan.Actions {
			if a.Kind == kind && (a.Op == planner.OpCreate || a.Op == planner.OpUpdate) {
				tier = append(tier, i)
			}
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}

	for _, kind := range resources.KindsInDestroyOrder() {
		var tier []int
		for i, a := range plan.Actions {
			if a.Kind == kind && a.Op == planner.OpDestroy {
				tier = append(tier, i)
			}
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}

	return tiers
}

// seedOwnersOf maps each cloud-init volume name to the domain that
// boots from it.
func seedOwnersOf(desired state.State) map[string]resources.Domain {
	owners := make(map[string]resources.Domain)
	for _, d := range desired.Domains {
		if d.CloudInitVolume != "" {
			owners[d.CloudInitVolume] = d
		}
	}
	return owners
}
