package api

import (
	"maps"
	"time"
)

type (
	// WorkflowStatus represents the current state of a workflow instance
	WorkflowStatus string

	// WorkflowState contains the complete durable state of a workflow
	// instance, including the recorded step outcomes that drive replay
	WorkflowState struct {
		CreatedAt   time.Time   `json:"created_at"`
		StartedAt   time.Time   `json:"started_at,omitempty"`
		CompletedAt time.Time   `json:"completed_at,omitempty"`
		LastUpdated time.Time   `json:"last_updated"`
		Deadline    time.Time   `json:"deadline,omitempty"`
		Input       Args        `json:"input"`
		Output      Args        `json:"output,omitempty"`
		Steps       StepRecords `json:"steps"`
		Events      EventValues `json:"events,omitempty"`
		Inboxes     Inboxes     `json:"inboxes,omitempty"`

		ID                  WorkflowID     `json:"id"`
		Name                Name           `json:"name"`
		Status              WorkflowStatus `json:"status"`
		Error               string         `json:"error,omitempty"`
		Queue               QueueName      `json:"queue,omitempty"`
		DedupKey            string         `json:"dedup_key,omitempty"`
		PartitionKey        string         `json:"partition_key,omitempty"`
		ExecutorID          ExecutorID     `json:"executor_id,omitempty"`
		ParentID            WorkflowID     `json:"parent_id,omitempty"`
		Priority            int            `json:"priority,omitempty"`
		RecoveryAttempts    int            `json:"recovery_attempts"`
		MaxRecoveryAttempts int            `json:"max_recovery_attempts"`
		CancelRequested     bool           `json:"cancel_requested,omitempty"`
	}

	// StepRecords maps step ordinals to their recorded outcomes. Ordinals
	// are assigned in strictly increasing order per workflow and must be
	// deterministic across replays
	StepRecords map[int]*StepRecord

	// EventValues holds the last-write-wins event map of a workflow
	EventValues map[EventKey]any

	// Inboxes holds the ordered per-topic message inboxes of a workflow
	Inboxes map[Topic]*Inbox

	// StepRecord is the persisted outcome of a single durable step
	StepRecord struct {
		CompletedAt time.Time `json:"completed_at"`
		Outputs     Args      `json:"outputs,omitempty"`
		Name        Name      `json:"name"`
		Error       string    `json:"error,omitempty"`
		Index       int       `json:"index"`
		Attempts    int       `json:"attempts"`
		Failed      bool      `json:"failed,omitempty"`
	}

	// Inbox is an append-only ordered message buffer for one topic. The
	// Consumed cursor marks how many messages have been durably received
	Inbox struct {
		Messages []any `json:"messages"`
		Consumed int   `json:"consumed"`
	}
)

const (
	WorkflowEnqueued  WorkflowStatus = "enqueued"
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowSuccess   WorkflowStatus = "success"
	WorkflowError     WorkflowStatus = "error"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal returns true when no further status transitions are allowed
// except through explicit resume or fork
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowSuccess, WorkflowError, WorkflowCancelled:
		return true
	}
	return false
}

// NextStepIndex returns the ordinal the next durable step will be assigned
func (st *WorkflowState) NextStepIndex() int {
	next := 0
	for i := range st.Steps {
		if i >= next {
			next = i + 1
		}
	}
	return next
}

// SetStatus returns a new WorkflowState with the updated status
func (st *WorkflowState) SetStatus(s WorkflowStatus) *WorkflowState {
	res := *st
	res.Status = s
	return &res
}

// SetOutput returns a new WorkflowState with the workflow output set
func (st *WorkflowState) SetOutput(out Args) *WorkflowState {
	res := *st
	res.Output = maps.Clone(out)
	return &res
}

// SetError returns a new WorkflowState with the error message set
func (st *WorkflowState) SetError(err string) *WorkflowState {
	res := *st
	res.Error = err
	return &res
}

// SetStep returns a new WorkflowState with the step record at the given
// ordinal set. Re-recording an existing ordinal overwrites, never duplicates
func (st *WorkflowState) SetStep(index int, rec *StepRecord) *WorkflowState {
	res := *st
	res.Steps = maps.Clone(st.Steps)
	if res.Steps == nil {
		res.Steps = StepRecords{}
	}
	res.Steps[index] = rec
	return &res
}

// SetEvent returns a new WorkflowState with the event value set
func (st *WorkflowState) SetEvent(key EventKey, value any) *WorkflowState {
	res := *st
	res.Events = maps.Clone(st.Events)
	if res.Events == nil {
		res.Events = EventValues{}
	}
	res.Events[key] = value
	return &res
}

// SetInbox returns a new WorkflowState with the topic inbox replaced
func (st *WorkflowState) SetInbox(topic Topic, in *Inbox) *WorkflowState {
	res := *st
	res.Inboxes = maps.Clone(st.Inboxes)
	if res.Inboxes == nil {
		res.Inboxes = Inboxes{}
	}
	res.Inboxes[topic] = in
	return &res
}

// SetExecutor returns a new WorkflowState owned by the given executor
func (st *WorkflowState) SetExecutor(id ExecutorID) *WorkflowState {
	res := *st
	res.ExecutorID = id
	return &res
}

// SetRecoveryAttempts returns a new WorkflowState with the recovery attempt
// count set
func (st *WorkflowState) SetRecoveryAttempts(n int) *WorkflowState {
	res := *st
	res.RecoveryAttempts = n
	return &res
}

// SetCancelRequested returns a new WorkflowState with the cancellation flag
// set. The flag is observed at the next step boundary
func (st *WorkflowState) SetCancelRequested(b bool) *WorkflowState {
	res := *st
	res.CancelRequested = b
	return &res
}

// SetStartedAt returns a new WorkflowState with the start timestamp set
func (st *WorkflowState) SetStartedAt(t time.Time) *WorkflowState {
	res := *st
	res.StartedAt = t
	return &res
}

// SetCompletedAt returns a new WorkflowState with completion time set
func (st *WorkflowState) SetCompletedAt(t time.Time) *WorkflowState {
	res := *st
	res.CompletedAt = t
	return &res
}

// SetDeadline returns a new WorkflowState with the workflow deadline set
func (st *WorkflowState) SetDeadline(t time.Time) *WorkflowState {
	res := *st
	res.Deadline = t
	return &res
}

// SetLastUpdated returns a new WorkflowState with last updated time set
func (st *WorkflowState) SetLastUpdated(t time.Time) *WorkflowState {
	res := *st
	res.LastUpdated = t
	return &res
}

// Append returns a new Inbox with the message appended
func (in *Inbox) Append(msg any) *Inbox {
	res := *in
	res.Messages = append(cloneMessages(in.Messages), msg)
	return &res
}

// Advance returns a new Inbox with the consumed cursor moved forward
func (in *Inbox) Advance() *Inbox {
	res := *in
	res.Consumed = in.Consumed + 1
	return &res
}

// Pending returns the number of messages not yet consumed
func (in *Inbox) Pending() int {
	return len(in.Messages) - in.Consumed
}

func cloneMessages(msgs []any) []any {
	res := make([]any, len(msgs))
	copy(res, msgs)
	return res
}
