package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
)

func TestPushEntryOrdering(t *testing.T) {
	q := api.NewQueueState().
		PushEntry(&api.QueueEntry{WorkflowID: "a", Priority: 5}).
		PushEntry(&api.QueueEntry{WorkflowID: "b", Priority: 1}).
		PushEntry(&api.QueueEntry{WorkflowID: "c", Priority: 5}).
		PushEntry(&api.QueueEntry{WorkflowID: "d", Priority: 3})

	var order []api.WorkflowID
	for _, e := range q.Entries {
		order = append(order, e.WorkflowID)
	}
	assert.Equal(t, []api.WorkflowID{"b", "d", "a", "c"}, order)
}

func TestDequeueAndRelease(t *testing.T) {
	q := api.NewQueueState().PushEntry(&api.QueueEntry{
		WorkflowID: "a",
		DedupKey:   "key-1",
	})
	assert.Equal(t, api.WorkflowID("a"), q.Dedup["key-1"])

	running := q.DequeueEntry("a")
	assert.Empty(t, running.Entries)
	assert.Contains(t, running.Running, api.WorkflowID("a"))
	assert.Equal(t, api.WorkflowID("a"), running.Dedup["key-1"])

	released := running.ReleaseEntry("a")
	assert.Empty(t, released.Running)
	assert.Empty(t, released.Dedup)
}

func TestRequeueEntryGoesToFront(t *testing.T) {
	q := api.NewQueueState().
		PushEntry(&api.QueueEntry{WorkflowID: "a"}).
		PushEntry(&api.QueueEntry{WorkflowID: "b"}).
		DequeueEntry("a")

	requeued := q.RequeueEntry("a")
	assert.Len(t, requeued.Entries, 2)
	assert.Equal(t, api.WorkflowID("a"), requeued.Entries[0].WorkflowID)
	assert.Empty(t, requeued.Running)
}

func TestRecordAdmissionTrimsWindow(t *testing.T) {
	now := time.Now()
	q := api.NewQueueState().
		RecordAdmission(now.Add(-3*time.Second), now.Add(-10*time.Second)).
		RecordAdmission(now.Add(-2*time.Second), now.Add(-10*time.Second)).
		RecordAdmission(now, now.Add(-time.Second))

	assert.Len(t, q.Admissions, 1)
	assert.Equal(t, now, q.Admissions[0])
}

func TestPartitionCount(t *testing.T) {
	q := api.NewQueueState().
		PushEntry(&api.QueueEntry{WorkflowID: "a", PartitionKey: "p1"}).
		PushEntry(&api.QueueEntry{WorkflowID: "b", PartitionKey: "p1"}).
		PushEntry(&api.QueueEntry{WorkflowID: "c", PartitionKey: "p2"}).
		DequeueEntry("a").
		DequeueEntry("b").
		DequeueEntry("c")

	assert.Equal(t, 2, q.PartitionCount("p1"))
	assert.Equal(t, 1, q.PartitionCount("p2"))
	assert.Equal(t, 0, q.PartitionCount("p3"))
}

func TestSystemStateSetters(t *testing.T) {
	st := &api.SystemState{
		Active:  map[api.WorkflowID]*api.ActiveWorkflow{},
		Queues:  map[api.QueueName]*api.QueueState{},
		Digests: map[api.WorkflowID]*api.WorkflowDigest{},
	}

	updated := st.SetActive("wf-1", &api.ActiveWorkflow{ExecutorID: "local"})
	assert.Empty(t, st.Active)
	assert.Contains(t, updated.Active, api.WorkflowID("wf-1"))

	gone := updated.DeleteActive("wf-1")
	assert.Empty(t, gone.Active)
	assert.Contains(t, updated.Active, api.WorkflowID("wf-1"))
}
