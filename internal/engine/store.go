package engine

import (
	"context"
	"fmt"

	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

type raisedEvent struct {
	Data any
	Type api.EventType
}

// GetWorkflowState retrieves the current state of a workflow. An unknown
// workflow returns ErrWorkflowNotFound
func (e *Engine) GetWorkflowState(
	ctx context.Context, id api.WorkflowID,
) (*api.WorkflowState, error) {
	state, err := e.execWorkflow(ctx, id,
		func(st *api.WorkflowState, ag *WorkflowAggregator) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if state == nil || state.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return state, nil
}

// GetSystemState retrieves the current system state
func (e *Engine) GetSystemState(
	ctx context.Context,
) (*api.SystemState, error) {
	return e.execSystem(ctx,
		func(st *api.SystemState, ag *SystemAggregator) error {
			return nil
		},
	)
}

// WorkflowHistory returns the raw durable event log of a workflow
func (e *Engine) WorkflowHistory(
	ctx context.Context, id api.WorkflowID,
) ([]*timebox.Event, error) {
	return e.workflowStore.GetEvents(ctx, events.WorkflowKey(id), 0)
}

func (e *Engine) raiseWorkflowEvent(
	ctx context.Context, id api.WorkflowID, typ api.EventType, data any,
) (*api.WorkflowState, error) {
	return e.raiseWorkflowEvents(ctx, id, raisedEvent{Type: typ, Data: data})
}

func (e *Engine) raiseWorkflowEvents(
	ctx context.Context, id api.WorkflowID, evs ...raisedEvent,
) (*api.WorkflowState, error) {
	return e.execWorkflow(ctx, id,
		func(st *api.WorkflowState, ag *WorkflowAggregator) error {
			for _, ev := range evs {
				if err := events.Raise(ag, ev.Type, ev.Data); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

func (e *Engine) raiseSystemEvent(
	ctx context.Context, typ api.EventType, data any,
) (*api.SystemState, error) {
	return e.raiseSystemEvents(ctx, raisedEvent{Type: typ, Data: data})
}

func (e *Engine) raiseSystemEvents(
	ctx context.Context, evs ...raisedEvent,
) (*api.SystemState, error) {
	return e.execSystem(ctx,
		func(st *api.SystemState, ag *SystemAggregator) error {
			for _, ev := range evs {
				if err := events.Raise(ag, ev.Type, ev.Data); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

func (e *Engine) execWorkflow(
	ctx context.Context, id api.WorkflowID,
	cmd timebox.Command[*api.WorkflowState],
) (*api.WorkflowState, error) {
	return e.workflowExec.Exec(ctx, events.WorkflowKey(id), cmd)
}

func (e *Engine) execSystem(
	ctx context.Context, cmd timebox.Command[*api.SystemState],
) (*api.SystemState, error) {
	return e.systemExec.Exec(ctx, events.SystemKey, cmd)
}
