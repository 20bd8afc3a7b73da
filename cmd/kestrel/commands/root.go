package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	connectURI   string
	verbose      bool
	outputFormat string
)

// jsonOutput reports whether machine-readable output was requested.
func jsonOutput() bool { return outputFormat == "json" }

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - declarative libvirt cluster provisioner",
		Long: `Kestrel reconciles a declarative cluster configuration against a
libvirt host. Every invocation queries the live inventory, derives the
desired inventory from the configuration, and applies the difference.

There is no state file: the hypervisor is the only source of truth, so
a repeated run against an unchanged configuration is a no-op.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "text" && outputFormat != "json" {
				return fmt.Errorf("unsupported format %q: must be text or json", outputFormat)
			}
			return nil
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kestrel.yaml", "cluster configuration file")
	rootCmd.PersistentFlags().StringVar(&connectURI, "connect", "qemu:///system", "libvirt connection URI")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format: text or json")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newBootstrapCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
