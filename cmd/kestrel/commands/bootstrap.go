package commands

import (
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/bootstrap"
	"github.com/kestrelhq/kestrel/pkg/state"
)

func newBootstrapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap Kubernetes on already-provisioned nodes",
		Long: `Run the Kubernetes bootstrap against the cluster's nodes: kubeadm
init on the first master, the CNI manifest applied, the admin
kubeconfig downloaded, and kubeadm join on every other node.

Use this after an apply that ran without bootstrap enabled, or to
retry a failed bootstrap. Node addresses come from the configuration,
so the hosts must have been provisioned by apply first.`,
		Example: `  kestrel bootstrap -c cluster.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			// The node addresses are deterministic, so the desired
			// inventory is enough; no backend query is needed.
			desired, err := state.FromConfig(a.cfg)
			if err != nil {
				return err
			}

			return bootstrap.New(a.cfg, a.log).Run(ctx, desired)
		},
	}

	return cmd
}
