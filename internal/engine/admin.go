package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

var ErrAlreadyTerminal = errors.New("workflow already terminal")

// CancelWorkflow requests cancellation of a workflow. A running workflow
// observes the request at its next step boundary; an enqueued workflow is
// cancelled immediately and its queue entry released
func (e *Engine) CancelWorkflow(ctx context.Context, id api.WorkflowID) error {
	state, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, state.Status)
	}

	if state.Status == api.WorkflowEnqueued {
		final, err := e.raiseWorkflowEvents(ctx, id,
			raisedEvent{
				Type: api.EventTypeWorkflowCancelRequested,
				Data: &api.WorkflowCancelRequestedEvent{WorkflowID: id},
			},
			raisedEvent{
				Type: api.EventTypeWorkflowCancelled,
				Data: &api.WorkflowCancelledEvent{WorkflowID: id},
			},
		)
		if err != nil {
			return err
		}
		e.deactivateWorkflow(ctx, final)
		slog.Info("Enqueued workflow cancelled",
			log.WorkflowID(id), log.Queue(state.Queue))
		return nil
	}

	_, err = e.raiseWorkflowEvent(ctx, id,
		api.EventTypeWorkflowCancelRequested,
		&api.WorkflowCancelRequestedEvent{WorkflowID: id},
	)
	if err != nil {
		return err
	}
	slog.Info("Workflow cancellation requested", log.WorkflowID(id))
	return nil
}

// ResumeWorkflow re-enters a terminal workflow. Recorded steps are kept,
// so execution resumes from the first unrecorded ordinal
func (e *Engine) ResumeWorkflow(ctx context.Context, id api.WorkflowID) error {
	state, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return err
	}
	if !state.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, state.Status)
	}
	if _, ok := e.registry.workflow(state.Name); !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, state.Name)
	}

	_, err = e.raiseWorkflowEvent(ctx, id, api.EventTypeWorkflowResumed,
		&api.WorkflowResumedEvent{
			WorkflowID: id,
			ExecutorID: e.config.ExecutorID,
		},
	)
	if err != nil {
		return err
	}
	if err := e.activateWorkflow(ctx, id, ""); err != nil {
		return err
	}
	slog.Info("Workflow resumed",
		log.WorkflowID(id), log.Workflow(state.Name))
	return e.launch(id)
}

// ForkWorkflow derives a new workflow from a prefix of an existing one.
// Step records below fromStep are copied; execution replays them and runs
// everything from fromStep onward fresh
func (e *Engine) ForkWorkflow(
	ctx context.Context, id api.WorkflowID, fromStep int,
) (api.WorkflowID, error) {
	state, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return "", err
	}
	if fromStep < 0 || fromStep > state.NextStepIndex() {
		return "", fmt.Errorf(
			"%w: %d of %s", ErrStepOutOfRange, fromStep, id,
		)
	}
	if _, ok := e.registry.workflow(state.Name); !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, state.Name)
	}

	forkID := api.NewForkID(id)
	_, err = e.raiseWorkflowEvent(ctx, forkID, api.EventTypeWorkflowForked,
		&api.WorkflowForkedEvent{
			Input:               state.Input,
			Steps:               state.Steps,
			WorkflowID:          forkID,
			ParentID:            id,
			Name:                state.Name,
			FromStep:            fromStep,
			MaxRecoveryAttempts: state.MaxRecoveryAttempts,
		},
	)
	if err != nil {
		return "", err
	}
	if err := e.activateWorkflow(ctx, forkID, ""); err != nil {
		return "", err
	}
	slog.Info("Workflow forked",
		log.WorkflowID(forkID),
		slog.String("parent_id", string(id)),
		slog.Int("from_step", fromStep))
	return forkID, e.launch(forkID)
}
