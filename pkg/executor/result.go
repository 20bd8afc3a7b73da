package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/planner"
)

// ActionStatus is the outcome of one action.
type ActionStatus string

const (
	// StatusSucceeded means the action was applied.
	StatusSucceeded ActionStatus = "succeeded"

	// StatusFailed means the action was attempted and failed.
	StatusFailed ActionStatus = "failed"

	// StatusSkipped means the action was never attempted because an
	// earlier failure halted the run.
	StatusSkipped ActionStatus = "skipped"

	// StatusPlanned means the action was reported by a dry run.
	StatusPlanned ActionStatus = "planned"
)

// ActionResult is the recorded outcome of one action.
type ActionResult struct {
	// Action is the action that was executed.
	Action planner.Action `json:"action"`

	// Status is the outcome.
	Status ActionStatus `json:"status"`

	// Error is the failure, nil otherwise.
	Error error `json:"-"`

	// ErrorMessage mirrors Error for serialized output.
	ErrorMessage string `json:"error,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one execution run.
type Result struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// Actions holds the per-action outcomes in plan order.
	Actions []ActionResult `json:"actions"`

	// Succeeded, Failed, Skipped and Planned count outcomes.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Planned   int `json:"planned"`

	// RolledBack reports whether a rollback pass ran.
	RolledBack bool `json:"rolled_back"`

	// RollbackErrors holds failures from the rollback pass, if any.
	RollbackErrors []string `json:"rollback_errors,omitempty"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// PartialError aggregates the failures of a run that kept going after
// errors.
type PartialError struct {
	// Errors are the individual action failures.
	Errors []error
}

// Error implements the error interface.
func (e *PartialError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d actions failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap returns the individual failures for errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	return e.Errors
}
