package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// launch starts the execution goroutine for a workflow owned by this
// executor. Launching an already-running workflow is a no-op
func (e *Engine) launch(id api.WorkflowID) error {
	state, err := e.GetWorkflowState(e.ctx, id)
	if err != nil {
		return err
	}
	reg, ok := e.registry.workflow(state.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, state.Name)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	if _, loaded := e.running.LoadOrStore(id, cancel); loaded {
		cancel()
		return nil
	}
	e.wg.Add(1)
	go e.runWorkflow(ctx, cancel, reg, state)
	return nil
}

func (e *Engine) runWorkflow(
	ctx context.Context, cancel context.CancelFunc,
	reg *Registration, state *api.WorkflowState,
) {
	defer e.wg.Done()
	defer e.running.Delete(state.ID)
	defer cancel()

	slog.Info("Workflow executing",
		log.WorkflowID(state.ID),
		log.Workflow(state.Name),
		log.Executor(e.config.ExecutorID))

	out, err := e.invokeWorkflow(ctx, reg, state)
	if err == nil {
		e.finishWorkflow(state.ID, api.EventTypeWorkflowCompleted,
			&api.WorkflowCompletedEvent{Output: out, WorkflowID: state.ID})
		return
	}

	if errors.Is(err, context.Canceled) && e.ctx.Err() != nil {
		// shutdown interrupted the workflow mid-step; ownership stays in
		// the active index so recovery resumes it
		slog.Info("Workflow interrupted",
			log.WorkflowID(state.ID), log.Workflow(state.Name))
		return
	}

	var cancelled *api.CancelledError
	if errors.As(err, &cancelled) && cancelled.WorkflowID == state.ID {
		// the step boundary already recorded the cancellation
		bg := context.WithoutCancel(e.ctx)
		if final, gerr := e.GetWorkflowState(bg, state.ID); gerr == nil {
			e.deactivateWorkflow(bg, final)
		}
		return
	}

	e.finishWorkflow(state.ID, api.EventTypeWorkflowFailed,
		&api.WorkflowFailedEvent{WorkflowID: state.ID, Error: err.Error()})
}

func (e *Engine) invokeWorkflow(
	ctx context.Context, reg *Registration, state *api.WorkflowState,
) (out api.Args, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return reg.Fn(newContext(ctx, e, reg, state), state.Input)
}

// finishWorkflow records the terminal workflow event and removes the
// workflow from the active index. It runs to completion even when the
// engine is shutting down
func (e *Engine) finishWorkflow(
	id api.WorkflowID, typ api.EventType, data any,
) {
	ctx := context.WithoutCancel(e.ctx)
	state, err := e.raiseWorkflowEvent(ctx, id, typ, data)
	if err != nil {
		slog.Error("Failed to record workflow outcome",
			log.WorkflowID(id), log.Error(err))
		return
	}
	slog.Info("Workflow finished",
		log.WorkflowID(id),
		log.Workflow(state.Name),
		log.Status(state.Status))
	e.deactivateWorkflow(ctx, state)
}

func (e *Engine) deactivateWorkflow(
	ctx context.Context, state *api.WorkflowState,
) {
	_, err := e.raiseSystemEvent(ctx, api.EventTypeWorkflowDeactivated,
		&api.WorkflowDeactivatedEvent{
			WorkflowID:  state.ID,
			Name:        state.Name,
			Status:      state.Status,
			Queue:       state.Queue,
			Error:       state.Error,
			CreatedAt:   state.CreatedAt,
			CompletedAt: state.CompletedAt,
		},
	)
	if err != nil {
		slog.Error("Failed to deactivate workflow",
			log.WorkflowID(state.ID), log.Error(err))
	}
}
