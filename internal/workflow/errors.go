package workflow

import "errors"

// Sentinel errors for workflow execution.
var (
	// ErrCanceled indicates the request was canceled before or during a step.
	ErrCanceled = errors.New("workflow: canceled")

	// ErrRetriesExhausted indicates a step kept asking for a retry until its
	// attempt budget ran out.
	ErrRetriesExhausted = errors.New("workflow: retries exhausted")

	// ErrStepPanic indicates a step panicked. The pipeline is aborted.
	ErrStepPanic = errors.New("workflow: step panicked")
)
