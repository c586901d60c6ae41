package api

import (
	"maps"
	"slices"
	"time"
)

type (
	// SystemState is the global aggregate tracking active workflows, queue
	// admission state, and terminal digests awaiting archival
	SystemState struct {
		LastUpdated time.Time                      `json:"last_updated"`
		Active      map[WorkflowID]*ActiveWorkflow `json:"active"`
		Queues      map[QueueName]*QueueState      `json:"queues"`
		Digests     map[WorkflowID]*WorkflowDigest `json:"digests"`
	}

	// ActiveWorkflow tracks ownership metadata for a non-terminal workflow
	ActiveWorkflow struct {
		ExecutorID ExecutorID `json:"executor_id"`
		Queue      QueueName  `json:"queue,omitempty"`
		StartedAt  time.Time  `json:"started_at"`
		LastActive time.Time  `json:"last_active"`
	}

	// QueueState holds the persisted admission state of one queue
	QueueState struct {
		// Entries is the pending set, ordered by priority then FIFO
		Entries []*QueueEntry `json:"entries"`

		// Running maps dequeued workflows to their original entries so
		// partition and dedup bookkeeping survives a crash
		Running map[WorkflowID]*QueueEntry `json:"running"`

		// Dedup maps active deduplication keys to their workflow IDs
		Dedup map[string]WorkflowID `json:"dedup,omitempty"`

		// Admissions holds recent admission times inside the rate-limiter
		// window, oldest first
		Admissions []time.Time `json:"admissions,omitempty"`
	}

	// QueueEntry is a single enqueued workflow invocation
	QueueEntry struct {
		WorkflowID   WorkflowID `json:"workflow_id"`
		DedupKey     string     `json:"dedup_key,omitempty"`
		PartitionKey string     `json:"partition_key,omitempty"`
		Priority     int        `json:"priority,omitempty"`
		EnqueuedAt   time.Time  `json:"enqueued_at"`
	}

	// WorkflowDigest summarizes a terminal workflow for listing and archival
	WorkflowDigest struct {
		ID          WorkflowID     `json:"id"`
		Name        Name           `json:"name"`
		Status      WorkflowStatus `json:"status"`
		Queue       QueueName      `json:"queue,omitempty"`
		CreatedAt   time.Time      `json:"created_at"`
		CompletedAt time.Time      `json:"completed_at"`
		Error       string         `json:"error,omitempty"`
	}
)

// SetActive returns a new SystemState with the workflow marked active
func (st *SystemState) SetActive(
	id WorkflowID, info *ActiveWorkflow,
) *SystemState {
	res := *st
	res.Active = maps.Clone(st.Active)
	res.Active[id] = info
	return &res
}

// DeleteActive returns a new SystemState with the workflow inactive
func (st *SystemState) DeleteActive(id WorkflowID) *SystemState {
	res := *st
	res.Active = maps.Clone(st.Active)
	delete(res.Active, id)
	return &res
}

// SetQueue returns a new SystemState with the queue state replaced
func (st *SystemState) SetQueue(name QueueName, q *QueueState) *SystemState {
	res := *st
	res.Queues = maps.Clone(st.Queues)
	res.Queues[name] = q
	return &res
}

// SetDigest returns a new SystemState with the terminal digest recorded
func (st *SystemState) SetDigest(
	id WorkflowID, d *WorkflowDigest,
) *SystemState {
	res := *st
	res.Digests = maps.Clone(st.Digests)
	res.Digests[id] = d
	return &res
}

// DeleteDigest returns a new SystemState with the digest removed
func (st *SystemState) DeleteDigest(id WorkflowID) *SystemState {
	res := *st
	res.Digests = maps.Clone(st.Digests)
	delete(res.Digests, id)
	return &res
}

// SetLastUpdated returns a new SystemState with last updated time set
func (st *SystemState) SetLastUpdated(t time.Time) *SystemState {
	res := *st
	res.LastUpdated = t
	return &res
}

// Queue returns the named queue state, or an empty one if absent
func (st *SystemState) Queue(name QueueName) *QueueState {
	if q, ok := st.Queues[name]; ok {
		return q
	}
	return NewQueueState()
}

// NewQueueState creates an empty queue state with initialized maps
func NewQueueState() *QueueState {
	return &QueueState{
		Running: map[WorkflowID]*QueueEntry{},
		Dedup:   map[string]WorkflowID{},
	}
}

// PushEntry returns a new QueueState with the entry inserted in order.
// Lower priority numbers dequeue first; equal priorities dequeue FIFO
func (q *QueueState) PushEntry(e *QueueEntry) *QueueState {
	res := q.clone()
	at := len(res.Entries)
	for i, cur := range res.Entries {
		if e.Priority < cur.Priority {
			at = i
			break
		}
	}
	res.Entries = slices.Insert(res.Entries, at, e)
	if e.DedupKey != "" {
		res.Dedup[e.DedupKey] = e.WorkflowID
	}
	return res
}

// DequeueEntry returns a new QueueState with the entry moved from the
// pending set to the running set
func (q *QueueState) DequeueEntry(id WorkflowID) *QueueState {
	res := q.clone()
	for i, cur := range res.Entries {
		if cur.WorkflowID == id {
			res.Running[id] = cur
			res.Entries = slices.Delete(res.Entries, i, i+1)
			break
		}
	}
	return res
}

// RequeueEntry returns a new QueueState with the running entry returned to
// the front of the pending set for re-dispatch after a crash
func (q *QueueState) RequeueEntry(id WorkflowID) *QueueState {
	res := q.clone()
	entry, ok := res.Running[id]
	if !ok {
		return res
	}
	delete(res.Running, id)
	res.Entries = slices.Insert(res.Entries, 0, entry)
	return res
}

// ReleaseEntry returns a new QueueState with all bookkeeping for the
// workflow removed. Called when the workflow reaches a terminal state
func (q *QueueState) ReleaseEntry(id WorkflowID) *QueueState {
	res := q.clone()
	entry, ok := res.Running[id]
	if !ok {
		for i, cur := range res.Entries {
			if cur.WorkflowID == id {
				entry = cur
				res.Entries = slices.Delete(res.Entries, i, i+1)
				break
			}
		}
	}
	delete(res.Running, id)
	if entry != nil && entry.DedupKey != "" {
		delete(res.Dedup, entry.DedupKey)
	}
	return res
}

// RecordAdmission returns a new QueueState with the admission recorded and
// admissions older than the cutoff dropped
func (q *QueueState) RecordAdmission(at, cutoff time.Time) *QueueState {
	res := q.clone()
	kept := make([]time.Time, 0, len(res.Admissions)+1)
	for _, t := range res.Admissions {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	res.Admissions = append(kept, at)
	return res
}

// PartitionCount returns the number of running workflows for the partition
func (q *QueueState) PartitionCount(key string) int {
	count := 0
	for _, e := range q.Running {
		if e.PartitionKey == key {
			count++
		}
	}
	return count
}

func (q *QueueState) clone() *QueueState {
	res := &QueueState{
		Entries:    slices.Clone(q.Entries),
		Running:    maps.Clone(q.Running),
		Dedup:      maps.Clone(q.Dedup),
		Admissions: slices.Clone(q.Admissions),
	}
	if res.Running == nil {
		res.Running = map[WorkflowID]*QueueEntry{}
	}
	if res.Dedup == nil {
		res.Dedup = map[string]WorkflowID{}
	}
	return res
}
