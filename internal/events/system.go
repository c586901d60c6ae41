package events

import (
	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/pkg/api"
)

const SystemPrefix = "system"

var (
	// SystemKey is the aggregate ID for the global system aggregate
	SystemKey = timebox.NewAggregateID(SystemPrefix)

	// SystemAppliers contains the event applier functions for system events
	SystemAppliers = makeSystemAppliers()
)

// NewSystemState creates an empty system state with initialized maps
func NewSystemState() *api.SystemState {
	return &api.SystemState{
		Active:  map[api.WorkflowID]*api.ActiveWorkflow{},
		Queues:  map[api.QueueName]*api.QueueState{},
		Digests: map[api.WorkflowID]*api.WorkflowDigest{},
	}
}

// IsSystemEvent returns true if the event is for the system aggregate
func IsSystemEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 1 && ev.AggregateID[0] == SystemPrefix
}

func makeSystemAppliers() timebox.Appliers[*api.SystemState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.SystemState]{
		api.EventTypeWorkflowActivated:   timebox.MakeApplier(workflowActivated),
		api.EventTypeWorkflowDeactivated: timebox.MakeApplier(workflowDeactivated),
		api.EventTypeQueueEntryAdded:     timebox.MakeApplier(queueEntryAdded),
		api.EventTypeQueueEntryDequeued:  timebox.MakeApplier(queueEntryDequeued),
		api.EventTypeQueueEntryRequeued:  timebox.MakeApplier(queueEntryRequeued),
		api.EventTypeQueueAdmission:      timebox.MakeApplier(queueAdmission),
		api.EventTypeWorkflowArchived:    timebox.MakeApplier(workflowArchived),
	})
}

func workflowActivated(
	st *api.SystemState, ev *timebox.Event, data api.WorkflowActivatedEvent,
) *api.SystemState {
	return st.
		SetActive(data.WorkflowID, &api.ActiveWorkflow{
			ExecutorID: data.ExecutorID,
			Queue:      data.Queue,
			StartedAt:  ev.Timestamp,
			LastActive: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func workflowDeactivated(
	st *api.SystemState, ev *timebox.Event, data api.WorkflowDeactivatedEvent,
) *api.SystemState {
	res := st.
		DeleteActive(data.WorkflowID).
		SetDigest(data.WorkflowID, &api.WorkflowDigest{
			ID:          data.WorkflowID,
			Name:        data.Name,
			Status:      data.Status,
			Queue:       data.Queue,
			Error:       data.Error,
			CreatedAt:   data.CreatedAt,
			CompletedAt: data.CompletedAt,
		})
	if data.Queue != "" {
		res = res.SetQueue(data.Queue,
			res.Queue(data.Queue).ReleaseEntry(data.WorkflowID))
	}
	return res.SetLastUpdated(ev.Timestamp)
}

func queueEntryAdded(
	st *api.SystemState, ev *timebox.Event, data api.QueueEntryAddedEvent,
) *api.SystemState {
	return st.
		SetQueue(data.Queue, st.Queue(data.Queue).PushEntry(&api.QueueEntry{
			WorkflowID:   data.WorkflowID,
			DedupKey:     data.DedupKey,
			PartitionKey: data.PartitionKey,
			Priority:     data.Priority,
			EnqueuedAt:   ev.Timestamp,
		})).
		SetLastUpdated(ev.Timestamp)
}

func queueEntryDequeued(
	st *api.SystemState, ev *timebox.Event, data api.QueueEntryDequeuedEvent,
) *api.SystemState {
	return st.
		SetQueue(data.Queue, st.Queue(data.Queue).DequeueEntry(data.WorkflowID)).
		SetLastUpdated(ev.Timestamp)
}

func queueEntryRequeued(
	st *api.SystemState, ev *timebox.Event, data api.QueueEntryRequeuedEvent,
) *api.SystemState {
	return st.
		DeleteActive(data.WorkflowID).
		SetQueue(data.Queue, st.Queue(data.Queue).RequeueEntry(data.WorkflowID)).
		SetLastUpdated(ev.Timestamp)
}

func queueAdmission(
	st *api.SystemState, ev *timebox.Event, data api.QueueAdmissionEvent,
) *api.SystemState {
	return st.
		SetQueue(data.Queue,
			st.Queue(data.Queue).RecordAdmission(data.At, data.Cutoff)).
		SetLastUpdated(ev.Timestamp)
}

func workflowArchived(
	st *api.SystemState, ev *timebox.Event, data api.WorkflowArchivedEvent,
) *api.SystemState {
	return st.
		DeleteDigest(data.WorkflowID).
		SetLastUpdated(ev.Timestamp)
}
