package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/journal"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded reconciliation runs",
		Long: `List past runs from the journal, most recent first. The journal is
an audit trail only; reconciliation never reads it.`,
		Example: `  # Last 20 runs
  kestrel history -c cluster.yaml

  # Last 5 runs as JSON
  kestrel history -c cluster.yaml --limit 5 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("no journal configured: set journal.path in %s", configPath)
			}

			j, err := journal.Open(ctx, cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput() {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No recorded runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCOMMAND\tSTATUS\tCHANGES\tSTARTED\tDURATION")
			for _, run := range runs {
				duration := "-"
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t+%d ~%d -%d\t%s\t%s\n",
					run.ID,
					run.Command,
					run.Status,
					run.Creates, run.Updates, run.Destroys,
					run.StartedAt.Format(time.RFC3339),
					duration,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}
