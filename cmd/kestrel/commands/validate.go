package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/state"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the cluster configuration",
		Long: `Load the configuration, check its fields, derive the desired
inventory, and check referential integrity between the derived
resources. No backend connection is made.`,
		Example: `  kestrel validate -c cluster.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			desired, err := state.FromConfig(cfg)
			if err != nil {
				return err
			}
			if err := state.ValidateReferences(desired); err != nil {
				return err
			}

			fmt.Printf("Configuration valid: %d networks, %d pools, %d volumes, %d domains.\n",
				len(desired.Networks), len(desired.Pools), len(desired.Volumes), len(desired.Domains))
			return nil
		},
	}

	return cmd
}
