package helpers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
)

type (
	// EventFilter selects durable log events from the hub stream
	EventFilter func(*timebox.Event) bool

	// EventWaiter waits for events matching a filter. Create before
	// triggering the action so the event cannot be missed
	EventWaiter[T any] struct {
		consumer topic.Consumer[*timebox.Event]
		filter   EventFilter
		getState func(context.Context) (T, error)
		desc     string // for error messages
	}
)

// Wait blocks until a matching event arrives and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.consumer.Receive():
			if event != nil && w.filter(event) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// SubscribeToWorkflowStatus creates a waiter for terminal workflow events
func (e *TestEngineEnv) SubscribeToWorkflowStatus(
	id api.WorkflowID,
) *EventWaiter[*api.WorkflowState] {
	return &EventWaiter[*api.WorkflowState]{
		consumer: e.EventHub.NewConsumer(),
		filter: filterWorkflowEvents(id,
			api.EventTypeWorkflowCompleted,
			api.EventTypeWorkflowFailed,
			api.EventTypeWorkflowCancelled,
		),
		getState: func(ctx context.Context) (*api.WorkflowState, error) {
			return e.Engine.GetWorkflowState(ctx, id)
		},
		desc: string(id),
	}
}

// SubscribeToStep creates a waiter for step outcome events
func (e *TestEngineEnv) SubscribeToStep(
	id api.WorkflowID, index int,
) *EventWaiter[*api.StepRecord] {
	return &EventWaiter[*api.StepRecord]{
		consumer: e.EventHub.NewConsumer(),
		filter: filterStepEvents(id, index,
			api.EventTypeStepCompleted, api.EventTypeStepFailed,
		),
		getState: func(ctx context.Context) (*api.StepRecord, error) {
			st, err := e.Engine.GetWorkflowState(ctx, id)
			if err != nil {
				return nil, err
			}
			return st.Steps[index], nil
		},
		desc: string(id),
	}
}

// WaitForWorkflowStatus subscribes and waits for a terminal state in one
// call. Subscribing separately is required when the workflow may finish
// before the waiter exists
func (e *TestEngineEnv) WaitForWorkflowStatus(
	t *testing.T, ctx context.Context, id api.WorkflowID,
	timeout time.Duration,
) *api.WorkflowState {
	t.Helper()
	return e.SubscribeToWorkflowStatus(id).Wait(t, ctx, timeout)
}

func filterWorkflowEvents(
	id api.WorkflowID, eventTypes ...api.EventType,
) EventFilter {
	types := toTimeboxTypes(eventTypes)
	return func(ev *timebox.Event) bool {
		if !hasType(types, ev.Type) {
			return false
		}
		var e api.WorkflowCompletedEvent
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.WorkflowID == id
	}
}

func filterStepEvents(
	id api.WorkflowID, index int, eventTypes ...api.EventType,
) EventFilter {
	types := toTimeboxTypes(eventTypes)
	return func(ev *timebox.Event) bool {
		if !hasType(types, ev.Type) {
			return false
		}
		var e api.StepCompletedEvent
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.WorkflowID == id && e.Index == index
	}
}

func hasType(types []timebox.EventType, typ timebox.EventType) bool {
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}

func toTimeboxTypes(eventTypes []api.EventType) []timebox.EventType {
	result := make([]timebox.EventType, len(eventTypes))
	for i, et := range eventTypes {
		result[i] = timebox.EventType(et)
	}
	return result
}
