package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/executor"
	"github.com/kestrelhq/kestrel/pkg/planner"
	"github.com/kestrelhq/kestrel/pkg/state"
)

func newDestroyCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down the configured cluster",
		Long: `Destroy every resource the configuration owns: domains first,
then volumes, the network, and the pool.

Only resources whose names the configuration derives are touched;
unrelated networks, pools, and domains on the same host are left alone.`,
		Example: `  # Review and destroy
  kestrel destroy -c cluster.yaml

  # Non-interactive teardown
  kestrel destroy -c cluster.yaml --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			current, desired, err := a.states(ctx)
			if err != nil {
				return err
			}

			plan := planner.Diff(managedOnly(current, desired), state.State{})
			if err := plan.Validate(); err != nil {
				return err
			}
			if err := renderPlan(plan); err != nil {
				return err
			}
			if plan.Empty() {
				return nil
			}

			if !autoApprove {
				if !confirm("Destroy these resources?") {
					fmt.Println("Destroy cancelled.")
					return nil
				}
			}

			exec, err := a.newExecutor()
			if err != nil {
				return err
			}

			result, runErr := exec.Run(ctx, plan, state.State{}, executor.Options{Command: "destroy"})
			if err := renderResult(result); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")

	return cmd
}
