package events_test

import (
	"testing"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

func TestRaiseEnqueuesEvent(t *testing.T) {
	ag := &timebox.Aggregator[int]{}

	err := events.Raise(
		ag, api.EventTypeWorkflowStarted,
		api.WorkflowStartedEvent{WorkflowID: "wf-1"},
	)
	assert.NoError(t, err)
	assert.Len(t, ag.Enqueued(), 1)
}

func TestMakeDispatcherRoutesByType(t *testing.T) {
	var seen []api.EventType
	handler := events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeWorkflowCompleted: func(ev *timebox.Event) error {
			seen = append(seen, api.EventType(ev.Type))
			return nil
		},
	})

	assert.NoError(t, handler(&timebox.Event{
		Type: timebox.EventType(api.EventTypeWorkflowCompleted),
	}))
	assert.NoError(t, handler(&timebox.Event{
		Type: timebox.EventType(api.EventTypeWorkflowFailed),
	}))

	assert.Equal(t, []api.EventType{api.EventTypeWorkflowCompleted}, seen)
}
