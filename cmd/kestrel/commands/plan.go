package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/state"
)

func newPlanCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Compute the plan that reconciles the live libvirt inventory into
the configured cluster, without applying it.

The plan:
  - Queries the backend for the current inventory
  - Derives the desired inventory from the configuration
  - Diffs the two into an ordered action list`,
		Example: `  # Show the plan once
  kestrel plan -c cluster.yaml

  # Recompute the plan whenever the configuration changes
  kestrel plan -c cluster.yaml --watch

  # Machine-readable output
  kestrel plan -c cluster.yaml --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !watch {
				return planOnce(ctx)
			}
			return planWatch(ctx)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "recompute the plan on configuration changes")

	return cmd
}

// planOnce computes and renders one plan.
func planOnce(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	plan, err := computePlan(ctx, a)
	if err != nil {
		return err
	}
	return renderPlan(plan)
}

// computePlan fetches both states and builds the plan from them.
func computePlan(ctx context.Context, a *app) (*planner.Plan, error) {
	current, desired, err := a.states(ctx)
	if err != nil {
		return nil, err
	}
	return planFrom(a, current, desired)
}

// planFrom builds, optimizes, and validates a plan from already-fetched
// states.
func planFrom(a *app, current, desired state.State) (*planner.Plan, error) {
	plan := planner.Diff(current, desired)
	plan.Optimize()
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if a.metrics != nil {
		s := plan.Summarize()
		a.metrics.RecordPlanSize(s.Creates, s.Updates, s.Destroys)
	}
	return plan, nil
}

// planWatch recomputes the plan whenever the configuration file is
// rewritten. Editors replace files rather than writing in place, so
// create and rename events count as changes too.
func planWatch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		return fmt.Errorf("watch %s: %w", configPath, err)
	}

	if err := planOnce(ctx); err != nil {
		fmt.Printf("plan failed: %v\n", err)
	}

	// Editors fire bursts of events per save; debounce them.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(250 * time.Millisecond)
				// A rename drops the watch on some platforms.
				_ = watcher.Add(configPath)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("watch error: %v\n", err)
		case <-pending:
			pending = nil
			fmt.Printf("\nconfiguration changed, replanning\n\n")
			if err := planOnce(ctx); err != nil {
				fmt.Printf("plan failed: %v\n", err)
			}
		}
	}
}
