package api

import (
	"errors"
	"fmt"
)

type (
	// StepRetriesExceededError is raised into a workflow when a step has
	// exhausted its retry budget
	StepRetriesExceededError struct {
		WorkflowID WorkflowID
		Step       Name
		Index      int
		Attempts   int
		LastError  string
	}

	// RecoveryExceededError marks a workflow forced to ERROR after too
	// many crash-recovery resumptions
	RecoveryExceededError struct {
		WorkflowID WorkflowID
		Attempts   int
	}

	// CancelledError is raised at the first step boundary after a
	// cancellation request is observed
	CancelledError struct {
		WorkflowID WorkflowID
	}
)

var (
	// ErrFatal marks a step error that must not be retried. Wrap with
	// Fatal to propagate a failure immediately
	ErrFatal = errors.New("fatal step error")

	// ErrAwaitTimeout is returned when a blocking read (GetEvent, Recv,
	// GetResult) exceeds its timeout
	ErrAwaitTimeout = errors.New("await timeout")

	// ErrNondeterministicReplay is returned when a replayed step ordinal
	// does not correspond to the recorded step name
	ErrNondeterministicReplay = errors.New(
		"nondeterministic replay: step name mismatch",
	)

	// ErrDeadlineExceeded is returned at a step boundary once the workflow
	// deadline has passed
	ErrDeadlineExceeded = errors.New("workflow deadline exceeded")
)

// Fatal wraps an error so the step retry loop propagates it immediately
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

func (e *StepRetriesExceededError) Error() string {
	return fmt.Sprintf(
		"step retries exceeded: workflow %s step %s[%d] after %d attempts: %s",
		e.WorkflowID, e.Step, e.Index, e.Attempts, e.LastError,
	)
}

func (e *RecoveryExceededError) Error() string {
	return fmt.Sprintf(
		"exceeded max recovery attempts: workflow %s after %d resumptions",
		e.WorkflowID, e.Attempts,
	)
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("workflow cancelled: %s", e.WorkflowID)
}
