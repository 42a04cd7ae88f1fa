package workflow

import "fmt"

// Status is what a step asks the engine to do next.
type Status int

// Step statuses.
const (
	StatusSuccess Status = iota
	StatusRetry
	StatusSkip
	StatusAbort
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetry:
		return "retry"
	case StatusSkip:
		return "skip"
	case StatusAbort:
		return "abort"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of one step attempt. SideEffect marks attempts
// that already touched the outside world, such as an upstream call.
type Result struct {
	Status     Status
	Err        error
	SideEffect bool
}

// Success commits the step's writes and moves on.
func Success() Result { return Result{Status: StatusSuccess} }

// Retry discards the step's writes and runs it again if attempts remain.
func Retry(err error) Result { return Result{Status: StatusRetry, Err: err} }

// Skip discards the step's writes and moves on.
func Skip(err error) Result { return Result{Status: StatusSkip, Err: err} }

// Abort discards the step's writes and stops the pipeline.
func Abort(err error) Result { return Result{Status: StatusAbort, Err: err} }

// State is the lifecycle state of a workflow execution.
type State int

// Workflow states.
const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateAborted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepRecord summarizes how one step ran.
type StepRecord struct {
	Name     string
	Status   Status
	Attempts int
	// Filtered is true when the step did not apply to the request channel.
	Filtered bool
	Err      error
}

// Outcome is the result of a whole execution.
type Outcome struct {
	State State
	// Step names the step that ended the run when it did not succeed.
	Step  string
	Err   error
	Steps []StepRecord
}
