package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kestrelhq/kestrel/pkg/executor"
	"github.com/kestrelhq/kestrel/pkg/planner"
)

// opSymbols mirror the conventional diff markers.
var opSymbols = map[planner.Op]string{
	planner.OpCreate:  "+",
	planner.OpUpdate:  "~",
	planner.OpDestroy: "-",
}

// renderPlan prints a plan in the selected output format.
func renderPlan(plan *planner.Plan) error {
	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	if plan.Empty() {
		fmt.Println("No changes. Inventory matches the configuration.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, a := range plan.Actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", opSymbols[a.Op], a.Kind, a.Name(), a.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := plan.Summarize()
	fmt.Printf("\nPlan: %d to create, %d to update, %d to destroy.\n",
		s.Creates, s.Updates, s.Destroys)
	return nil
}

// renderResult prints an execution result in the selected output format.
func renderResult(result *executor.Result) error {
	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, ar := range result.Actions {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", ar.Action.Op, ar.Action.Kind, ar.Action.Name(), ar.Status)
		if ar.ErrorMessage != "" {
			line += "\t" + ar.ErrorMessage
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nRun %s: %d succeeded, %d failed, %d skipped", result.RunID,
		result.Succeeded, result.Failed, result.Skipped)
	if result.Planned > 0 {
		fmt.Printf(", %d planned (dry run)", result.Planned)
	}
	fmt.Printf(" in %s.\n", result.Duration.Round(10*time.Millisecond))

	if result.RolledBack {
		fmt.Println("Rollback was attempted for created resources.")
		for _, msg := range result.RollbackErrors {
			fmt.Printf("  rollback error: %s\n", msg)
		}
	}
	return nil
}

// confirm prompts for a yes/no answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "yes"
}
