package events

import (
	"strings"

	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/pkg/api"
)

const WorkflowPrefix = "workflow"

// WorkflowAppliers contains the event applier functions for workflow events
var WorkflowAppliers = makeWorkflowAppliers()

// NewWorkflowState creates an empty workflow state with initialized maps
func NewWorkflowState() *api.WorkflowState {
	return &api.WorkflowState{
		Input:   api.Args{},
		Steps:   api.StepRecords{},
		Events:  api.EventValues{},
		Inboxes: api.Inboxes{},
	}
}

// WorkflowKey returns the aggregate ID for a workflow
func WorkflowKey[T ~string](workflowID T) timebox.AggregateID {
	return timebox.NewAggregateID(WorkflowPrefix, timebox.ID(workflowID))
}

// WorkflowJoinKey is a JoinKeyFunc that co-locates a workflow and its forks
// in the same Redis hash slot. The root workflow ID is wrapped in hash slot
// notation so that "my-wf" and "my-wf_fork_ab12cd34" both resolve to {my-wf}
func WorkflowJoinKey(id timebox.AggregateID) string {
	if len(id) < 2 {
		return id.Join(":")
	}
	prefix := string(id[0])
	workflowID := string(id[1])
	rootID := workflowID
	if before, _, ok := strings.Cut(workflowID, api.ForkSeparator); ok {
		rootID = before
	}
	if workflowID == rootID {
		return prefix + ":{" + rootID + "}"
	}
	return prefix + ":{" + rootID + "}" + workflowID[len(rootID):]
}

// WorkflowParseKey is the ParseKeyFunc that reverses WorkflowJoinKey
func WorkflowParseKey(str string) timebox.AggregateID {
	before, after, found := strings.Cut(str, ":{")
	if !found {
		return timebox.ParseKey(str)
	}
	slot, remaining, hasRemaining := strings.Cut(after, "}")
	if !hasRemaining || remaining == "" {
		slot = strings.TrimSuffix(after, "}")
		return timebox.AggregateID{timebox.ID(before), timebox.ID(slot)}
	}
	return timebox.AggregateID{
		timebox.ID(before),
		timebox.ID(slot + remaining),
	}
}

// IsWorkflowEvent returns true if the event belongs to a workflow aggregate
func IsWorkflowEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == WorkflowPrefix
}

func makeWorkflowAppliers() timebox.Appliers[*api.WorkflowState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.WorkflowState]{
		api.EventTypeWorkflowStarted:         timebox.MakeApplier(workflowStarted),
		api.EventTypeWorkflowEnqueued:        timebox.MakeApplier(workflowEnqueued),
		api.EventTypeWorkflowDequeued:        timebox.MakeApplier(workflowDequeued),
		api.EventTypeWorkflowCompleted:       timebox.MakeApplier(workflowCompleted),
		api.EventTypeWorkflowFailed:          timebox.MakeApplier(workflowFailed),
		api.EventTypeWorkflowCancelRequested: timebox.MakeApplier(cancelRequested),
		api.EventTypeWorkflowCancelled:       timebox.MakeApplier(workflowCancelled),
		api.EventTypeWorkflowRecovered:       timebox.MakeApplier(workflowRecovered),
		api.EventTypeWorkflowResumed:         timebox.MakeApplier(workflowResumed),
		api.EventTypeWorkflowForked:          timebox.MakeApplier(workflowForked),
		api.EventTypeStepCompleted:           timebox.MakeApplier(stepCompleted),
		api.EventTypeStepFailed:              timebox.MakeApplier(stepFailed),
		api.EventTypeEventSet:                timebox.MakeApplier(eventSet),
		api.EventTypeMessageSent:             timebox.MakeApplier(messageSent),
		api.EventTypeMessageConsumed:         timebox.MakeApplier(messageConsumed),
	})
}

func workflowStarted(
	_ *api.WorkflowState, ev *timebox.Event, data api.WorkflowStartedEvent,
) *api.WorkflowState {
	return &api.WorkflowState{
		ID:                  data.WorkflowID,
		Name:                data.Name,
		Status:              api.WorkflowPending,
		Input:               data.Input,
		Steps:               api.StepRecords{},
		Events:              api.EventValues{},
		Inboxes:             api.Inboxes{},
		ExecutorID:          data.ExecutorID,
		ParentID:            data.ParentID,
		MaxRecoveryAttempts: data.MaxRecoveryAttempts,
		Deadline:            data.Deadline,
		CreatedAt:           ev.Timestamp,
		StartedAt:           ev.Timestamp,
		LastUpdated:         ev.Timestamp,
	}
}

func workflowEnqueued(
	_ *api.WorkflowState, ev *timebox.Event, data api.WorkflowEnqueuedEvent,
) *api.WorkflowState {
	return &api.WorkflowState{
		ID:                  data.WorkflowID,
		Name:                data.Name,
		Status:              api.WorkflowEnqueued,
		Input:               data.Input,
		Steps:               api.StepRecords{},
		Events:              api.EventValues{},
		Inboxes:             api.Inboxes{},
		Queue:               data.Queue,
		DedupKey:            data.DedupKey,
		PartitionKey:        data.PartitionKey,
		Priority:            data.Priority,
		ParentID:            data.ParentID,
		MaxRecoveryAttempts: data.MaxRecoveryAttempts,
		CreatedAt:           ev.Timestamp,
		LastUpdated:         ev.Timestamp,
	}
}

func workflowDequeued(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowDequeuedEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowPending).
		SetExecutor(data.ExecutorID).
		SetDeadline(data.Deadline).
		SetStartedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func workflowCompleted(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowCompletedEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowSuccess).
		SetOutput(data.Output).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func workflowFailed(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowFailedEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowError).
		SetError(data.Error).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func cancelRequested(
	st *api.WorkflowState, ev *timebox.Event, _ api.WorkflowCancelRequestedEvent,
) *api.WorkflowState {
	return st.
		SetCancelRequested(true).
		SetLastUpdated(ev.Timestamp)
}

func workflowCancelled(
	st *api.WorkflowState, ev *timebox.Event, _ api.WorkflowCancelledEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowCancelled).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func workflowRecovered(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowRecoveredEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowPending).
		SetExecutor(data.ExecutorID).
		SetRecoveryAttempts(data.Attempts).
		SetLastUpdated(ev.Timestamp)
}

func workflowResumed(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowResumedEvent,
) *api.WorkflowState {
	return st.
		SetStatus(api.WorkflowPending).
		SetExecutor(data.ExecutorID).
		SetCancelRequested(false).
		SetError("").
		SetLastUpdated(ev.Timestamp)
}

func workflowForked(
	_ *api.WorkflowState, ev *timebox.Event, data api.WorkflowForkedEvent,
) *api.WorkflowState {
	steps := api.StepRecords{}
	for i, rec := range data.Steps {
		if i < data.FromStep {
			steps[i] = rec
		}
	}
	return &api.WorkflowState{
		ID:                  data.WorkflowID,
		Name:                data.Name,
		Status:              api.WorkflowPending,
		Input:               data.Input,
		Steps:               steps,
		Events:              api.EventValues{},
		Inboxes:             api.Inboxes{},
		ParentID:            data.ParentID,
		MaxRecoveryAttempts: data.MaxRecoveryAttempts,
		CreatedAt:           ev.Timestamp,
		StartedAt:           ev.Timestamp,
		LastUpdated:         ev.Timestamp,
	}
}

func stepCompleted(
	st *api.WorkflowState, ev *timebox.Event, data api.StepCompletedEvent,
) *api.WorkflowState {
	return st.
		SetStep(data.Index, &api.StepRecord{
			Index:       data.Index,
			Name:        data.Name,
			Outputs:     data.Outputs,
			Attempts:    data.Attempts,
			CompletedAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func stepFailed(
	st *api.WorkflowState, ev *timebox.Event, data api.StepFailedEvent,
) *api.WorkflowState {
	return st.
		SetStep(data.Index, &api.StepRecord{
			Index:       data.Index,
			Name:        data.Name,
			Error:       data.Error,
			Failed:      true,
			Attempts:    data.Attempts,
			CompletedAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func eventSet(
	st *api.WorkflowState, ev *timebox.Event, data api.EventSetEvent,
) *api.WorkflowState {
	return st.
		SetEvent(data.Key, data.Value).
		SetLastUpdated(ev.Timestamp)
}

func messageSent(
	st *api.WorkflowState, ev *timebox.Event, data api.MessageSentEvent,
) *api.WorkflowState {
	inbox, ok := st.Inboxes[data.Topic]
	if !ok {
		inbox = &api.Inbox{}
	}
	return st.
		SetInbox(data.Topic, inbox.Append(data.Message)).
		SetLastUpdated(ev.Timestamp)
}

func messageConsumed(
	st *api.WorkflowState, ev *timebox.Event, data api.MessageConsumedEvent,
) *api.WorkflowState {
	inbox, ok := st.Inboxes[data.Topic]
	if !ok || inbox.Pending() == 0 {
		return st
	}
	return st.
		SetInbox(data.Topic, inbox.Advance()).
		SetLastUpdated(ev.Timestamp)
}
