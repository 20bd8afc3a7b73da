package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/bootstrap"
	"github.com/kestrelhq/kestrel/pkg/executor"
	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/resources"
)

func newApplyCommand() *cobra.Command {
	var (
		dryRun         bool
		autoApprove    bool
		parallel       bool
		maxConcurrency int
		onError        string
		rollback       bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the host into the configured cluster",
		Long: `Compute the plan and apply it against the libvirt host.

Creates and updates run pool-first, domain-last; destroys run in the
reverse order. With --parallel, independent actions of the same kind
run concurrently. If the configuration enables bootstrap, a successful
apply is followed by the Kubernetes bootstrap.`,
		Example: `  # Review and apply
  kestrel apply -c cluster.yaml

  # Non-interactive apply with parallel execution
  kestrel apply -c cluster.yaml --auto-approve --parallel

  # See what would happen without touching the host
  kestrel apply -c cluster.yaml --dry-run

  # Keep going after failures, then roll the creates back
  kestrel apply -c cluster.yaml --on-error continue --rollback`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.metrics.StartMetricsServer(a.log); err != nil {
				return err
			}

			current, desired, err := a.states(ctx)
			if err != nil {
				return err
			}

			plan, err := planFrom(a, current, desired)
			if err != nil {
				return err
			}
			if err := renderPlan(plan); err != nil {
				return err
			}
			if plan.Empty() {
				return nil
			}

			if !dryRun && !autoApprove {
				if !confirm("Apply these changes?") {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			exec, err := a.newExecutor()
			if err != nil {
				return err
			}

			mode := executor.ModeSerial
			if parallel {
				mode = executor.ModeParallel
			}
			opts := executor.Options{
				Mode:            mode,
				DryRun:          dryRun,
				OnError:         executor.OnError(onError),
				RollbackOnError: rollback,
				MaxConcurrency:  maxConcurrency,
			}

			result, runErr := exec.Run(ctx, plan, desired, opts)
			if err := renderResult(result); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}

			if a.cfg.Bootstrap.Enabled && !dryRun && hasDomainCreates(plan) {
				fmt.Println("\nBootstrapping Kubernetes cluster...")
				return bootstrap.New(a.cfg, a.log).Run(ctx, desired)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without mutating the host")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "execute independent actions concurrently")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "worker cap in parallel mode")
	cmd.Flags().StringVar(&onError, "on-error", "halt", "failure policy: halt or continue")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "destroy created resources after a failure")

	return cmd
}

// hasDomainCreates reports whether the plan creates or replaces any domain.
func hasDomainCreates(plan *planner.Plan) bool {
	for _, a := range plan.Actions {
		if a.Kind == resources.KindDomain && (a.Op == planner.OpCreate || a.Op == planner.OpUpdate) {
			return true
		}
	}
	return false
}
