package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

func TestNewWorkflowState(t *testing.T) {
	state := events.NewWorkflowState()

	assert.NotNil(t, state)
	assert.NotNil(t, state.Steps)
	assert.NotNil(t, state.Events)
	assert.NotNil(t, state.Inboxes)
	assert.Empty(t, state.Steps)
}

func TestIsWorkflowEvent(t *testing.T) {
	workflowEvent := &timebox.Event{
		AggregateID: events.WorkflowKey("wf-1"),
	}
	systemEvent := &timebox.Event{
		AggregateID: events.SystemKey,
	}

	assert.True(t, events.IsWorkflowEvent(workflowEvent))
	assert.False(t, events.IsWorkflowEvent(systemEvent))
}

func TestWorkflowStarted(t *testing.T) {
	now := time.Now()
	ev := makeWorkflowEvent(t, "wf-1", api.EventTypeWorkflowStarted,
		api.WorkflowStartedEvent{
			WorkflowID:          "wf-1",
			Name:                "payment",
			Input:               api.Args{"amount": 10},
			ExecutorID:          "local",
			MaxRecoveryAttempts: 5,
		}, now)

	result := applyWorkflow(t, events.NewWorkflowState(), ev)

	assert.Equal(t, api.WorkflowID("wf-1"), result.ID)
	assert.Equal(t, api.Name("payment"), result.Name)
	assert.Equal(t, api.WorkflowPending, result.Status)
	assert.Equal(t, api.ExecutorID("local"), result.ExecutorID)
	assert.Equal(t, 5, result.MaxRecoveryAttempts)
	assert.True(t, result.CreatedAt.Equal(now))
	assert.True(t, result.StartedAt.Equal(now))
}

func TestWorkflowEnqueuedThenDequeued(t *testing.T) {
	now := time.Now()
	enqueued := makeWorkflowEvent(t, "wf-2", api.EventTypeWorkflowEnqueued,
		api.WorkflowEnqueuedEvent{
			WorkflowID: "wf-2",
			Name:       "report",
			Queue:      "reports",
			DedupKey:   "daily",
			Priority:   3,
		}, now)

	state := applyWorkflow(t, events.NewWorkflowState(), enqueued)
	assert.Equal(t, api.WorkflowEnqueued, state.Status)
	assert.Equal(t, api.QueueName("reports"), state.Queue)
	assert.Equal(t, "daily", state.DedupKey)
	assert.Equal(t, 3, state.Priority)
	assert.True(t, state.StartedAt.IsZero())

	later := now.Add(time.Second)
	dequeued := makeWorkflowEvent(t, "wf-2", api.EventTypeWorkflowDequeued,
		api.WorkflowDequeuedEvent{
			WorkflowID: "wf-2",
			ExecutorID: "local",
		}, later)

	state = applyWorkflow(t, state, dequeued)
	assert.Equal(t, api.WorkflowPending, state.Status)
	assert.Equal(t, api.ExecutorID("local"), state.ExecutorID)
	assert.True(t, state.StartedAt.Equal(later))
}

func TestWorkflowCompleted(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{ID: "wf-3", Status: api.WorkflowPending}

	ev := makeWorkflowEvent(t, "wf-3", api.EventTypeWorkflowCompleted,
		api.WorkflowCompletedEvent{
			WorkflowID: "wf-3",
			Output:     api.Args{"total": 42},
		}, now)

	result := applyWorkflow(t, state, ev)
	assert.Equal(t, api.WorkflowSuccess, result.Status)
	assert.Equal(t, float64(42), result.Output["total"])
	assert.True(t, result.CompletedAt.Equal(now))
}

func TestWorkflowFailed(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{ID: "wf-4", Status: api.WorkflowPending}

	ev := makeWorkflowEvent(t, "wf-4", api.EventTypeWorkflowFailed,
		api.WorkflowFailedEvent{
			WorkflowID: "wf-4",
			Error:      "charge declined",
		}, now)

	result := applyWorkflow(t, state, ev)
	assert.Equal(t, api.WorkflowError, result.Status)
	assert.Equal(t, "charge declined", result.Error)
}

func TestCancelRequestedThenCancelled(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{ID: "wf-5", Status: api.WorkflowPending}

	requested := makeWorkflowEvent(t, "wf-5",
		api.EventTypeWorkflowCancelRequested,
		api.WorkflowCancelRequestedEvent{WorkflowID: "wf-5"}, now)

	state = applyWorkflow(t, state, requested)
	assert.True(t, state.CancelRequested)
	assert.Equal(t, api.WorkflowPending, state.Status)

	cancelled := makeWorkflowEvent(t, "wf-5", api.EventTypeWorkflowCancelled,
		api.WorkflowCancelledEvent{WorkflowID: "wf-5"}, now)

	state = applyWorkflow(t, state, cancelled)
	assert.Equal(t, api.WorkflowCancelled, state.Status)
}

func TestWorkflowRecovered(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{
		ID:         "wf-6",
		Status:     api.WorkflowPending,
		ExecutorID: "crashed-node",
	}

	ev := makeWorkflowEvent(t, "wf-6", api.EventTypeWorkflowRecovered,
		api.WorkflowRecoveredEvent{
			WorkflowID: "wf-6",
			ExecutorID: "local",
			Attempts:   2,
		}, now)

	result := applyWorkflow(t, state, ev)
	assert.Equal(t, api.ExecutorID("local"), result.ExecutorID)
	assert.Equal(t, 2, result.RecoveryAttempts)
}

func TestWorkflowResumedClearsError(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{
		ID:              "wf-7",
		Status:          api.WorkflowCancelled,
		Error:           "cancelled",
		CancelRequested: true,
	}

	ev := makeWorkflowEvent(t, "wf-7", api.EventTypeWorkflowResumed,
		api.WorkflowResumedEvent{
			WorkflowID: "wf-7",
			ExecutorID: "local",
		}, now)

	result := applyWorkflow(t, state, ev)
	assert.Equal(t, api.WorkflowPending, result.Status)
	assert.False(t, result.CancelRequested)
	assert.Empty(t, result.Error)
}

func TestWorkflowForkedSeedsStepPrefix(t *testing.T) {
	now := time.Now()
	steps := api.StepRecords{
		0: {Index: 0, Name: "reserve", Outputs: api.Args{"ok": true}},
		1: {Index: 1, Name: "charge", Outputs: api.Args{"ok": true}},
		2: {Index: 2, Name: "notify", Outputs: api.Args{"ok": true}},
	}

	ev := makeWorkflowEvent(t, "wf-8_fork_ab12cd34",
		api.EventTypeWorkflowForked,
		api.WorkflowForkedEvent{
			WorkflowID: "wf-8_fork_ab12cd34",
			ParentID:   "wf-8",
			Name:       "payment",
			Input:      api.Args{"amount": 10},
			Steps:      steps,
			FromStep:   2,
		}, now)

	result := applyWorkflow(t, events.NewWorkflowState(), ev)
	assert.Equal(t, api.WorkflowID("wf-8_fork_ab12cd34"), result.ID)
	assert.Equal(t, api.WorkflowID("wf-8"), result.ParentID)
	assert.Len(t, result.Steps, 2)
	assert.NotNil(t, result.Steps[0])
	assert.NotNil(t, result.Steps[1])
	assert.Nil(t, result.Steps[2])
}

func TestStepCompleted(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{ID: "wf-9", Status: api.WorkflowPending}

	ev := makeWorkflowEvent(t, "wf-9", api.EventTypeStepCompleted,
		api.StepCompletedEvent{
			WorkflowID: "wf-9",
			Name:       "charge",
			Index:      0,
			Outputs:    api.Args{"txn": "t-1"},
			Attempts:   2,
		}, now)

	result := applyWorkflow(t, state, ev)
	rec := result.Steps[0]
	assert.NotNil(t, rec)
	assert.Equal(t, api.Name("charge"), rec.Name)
	assert.Equal(t, "t-1", rec.Outputs["txn"])
	assert.Equal(t, 2, rec.Attempts)
	assert.False(t, rec.Failed)
}

func TestStepFailed(t *testing.T) {
	now := time.Now()
	state := &api.WorkflowState{ID: "wf-10", Status: api.WorkflowPending}

	ev := makeWorkflowEvent(t, "wf-10", api.EventTypeStepFailed,
		api.StepFailedEvent{
			WorkflowID: "wf-10",
			Name:       "charge",
			Index:      1,
			Error:      "declined",
			Attempts:   3,
		}, now)

	result := applyWorkflow(t, state, ev)
	rec := result.Steps[1]
	assert.NotNil(t, rec)
	assert.True(t, rec.Failed)
	assert.Equal(t, "declined", rec.Error)
	assert.Equal(t, 3, rec.Attempts)
}

func TestEventSetLastWriteWins(t *testing.T) {
	now := time.Now()
	state := events.NewWorkflowState()

	first := makeWorkflowEvent(t, "wf-11", api.EventTypeEventSet,
		api.EventSetEvent{WorkflowID: "wf-11", Key: "stage", Value: "one"},
		now)
	second := makeWorkflowEvent(t, "wf-11", api.EventTypeEventSet,
		api.EventSetEvent{WorkflowID: "wf-11", Key: "stage", Value: "two"},
		now.Add(time.Second))

	state = applyWorkflow(t, state, first)
	state = applyWorkflow(t, state, second)
	assert.Equal(t, "two", state.Events["stage"])
}

func TestMessageSentAndConsumed(t *testing.T) {
	now := time.Now()
	state := events.NewWorkflowState()

	sent := makeWorkflowEvent(t, "wf-12", api.EventTypeMessageSent,
		api.MessageSentEvent{
			WorkflowID: "wf-12",
			Topic:      "orders",
			Message:    "first",
		}, now)

	state = applyWorkflow(t, state, sent)
	assert.Equal(t, 1, state.Inboxes["orders"].Pending())

	consumed := makeWorkflowEvent(t, "wf-12", api.EventTypeMessageConsumed,
		api.MessageConsumedEvent{WorkflowID: "wf-12", Topic: "orders"}, now)

	state = applyWorkflow(t, state, consumed)
	assert.Equal(t, 0, state.Inboxes["orders"].Pending())

	// consuming an empty inbox leaves state untouched
	state = applyWorkflow(t, state, consumed)
	assert.Equal(t, 0, state.Inboxes["orders"].Pending())
}

func TestWorkflowJoinKeyRoundTrip(t *testing.T) {
	tests := []struct {
		id       api.WorkflowID
		expected string
	}{
		{"my-wf", "workflow:{my-wf}"},
		{"my-wf_fork_ab12cd34", "workflow:{my-wf}_fork_ab12cd34"},
	}

	for _, tc := range tests {
		key := events.WorkflowKey(tc.id)
		joined := events.WorkflowJoinKey(key)
		assert.Equal(t, tc.expected, joined)
		assert.Equal(t, key, events.WorkflowParseKey(joined))
	}
}

func makeWorkflowEvent(
	t *testing.T, id api.WorkflowID, et api.EventType, payload any,
	at time.Time,
) *timebox.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	assert.NoError(t, err)
	return &timebox.Event{
		Timestamp:   at,
		AggregateID: events.WorkflowKey(id),
		Type:        timebox.EventType(et),
		Data:        data,
	}
}

func applyWorkflow(
	t *testing.T, st *api.WorkflowState, ev *timebox.Event,
) *api.WorkflowState {
	t.Helper()
	applier, ok := events.WorkflowAppliers[ev.Type]
	assert.True(t, ok)
	return applier(st, ev)
}
