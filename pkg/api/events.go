package api

import "time"

type (
	// EventType identifies a durable log event
	EventType string

	// WorkflowStartedEvent is emitted when a workflow begins execution
	// directly, bypassing any queue
	WorkflowStartedEvent struct {
		Input               Args       `json:"input"`
		WorkflowID          WorkflowID `json:"workflow_id"`
		Name                Name       `json:"name"`
		ExecutorID          ExecutorID `json:"executor_id"`
		ParentID            WorkflowID `json:"parent_id,omitempty"`
		MaxRecoveryAttempts int        `json:"max_recovery_attempts"`
		Deadline            time.Time  `json:"deadline,omitempty"`
	}

	// WorkflowEnqueuedEvent is emitted when a workflow is submitted to a
	// queue and awaits admission
	WorkflowEnqueuedEvent struct {
		Input               Args       `json:"input"`
		WorkflowID          WorkflowID `json:"workflow_id"`
		Name                Name       `json:"name"`
		Queue               QueueName  `json:"queue"`
		DedupKey            string     `json:"dedup_key,omitempty"`
		PartitionKey        string     `json:"partition_key,omitempty"`
		Priority            int        `json:"priority,omitempty"`
		ParentID            WorkflowID `json:"parent_id,omitempty"`
		MaxRecoveryAttempts int        `json:"max_recovery_attempts"`
	}

	// WorkflowDequeuedEvent is emitted when the limiter admits an enqueued
	// workflow for execution
	WorkflowDequeuedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		ExecutorID ExecutorID `json:"executor_id"`
		Deadline   time.Time  `json:"deadline,omitempty"`
	}

	// WorkflowCompletedEvent is emitted when a workflow succeeds
	WorkflowCompletedEvent struct {
		Output     Args       `json:"output"`
		WorkflowID WorkflowID `json:"workflow_id"`
	}

	// WorkflowFailedEvent is emitted when a workflow fails terminally
	WorkflowFailedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		Error      string     `json:"error"`
	}

	// WorkflowCancelRequestedEvent sets the cancellation flag checked at
	// step boundaries
	WorkflowCancelRequestedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
	}

	// WorkflowCancelledEvent is emitted when a step boundary observes the
	// cancellation flag
	WorkflowCancelledEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
	}

	// WorkflowRecoveredEvent is emitted when the recovery manager resumes
	// a workflow after a crash
	WorkflowRecoveredEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		ExecutorID ExecutorID `json:"executor_id"`
		Attempts   int        `json:"attempts"`
	}

	// WorkflowResumedEvent re-enters a terminal or interrupted workflow
	// through the explicit resume administrative operation
	WorkflowResumedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		ExecutorID ExecutorID `json:"executor_id"`
	}

	// WorkflowForkedEvent seeds a derived workflow with a prefix of its
	// parent's step records
	WorkflowForkedEvent struct {
		Input               Args        `json:"input"`
		Steps               StepRecords `json:"steps"`
		WorkflowID          WorkflowID  `json:"workflow_id"`
		ParentID            WorkflowID  `json:"parent_id"`
		Name                Name        `json:"name"`
		FromStep            int         `json:"from_step"`
		MaxRecoveryAttempts int         `json:"max_recovery_attempts"`
	}

	// StepCompletedEvent records a successful durable step outcome
	StepCompletedEvent struct {
		Outputs    Args       `json:"outputs,omitempty"`
		WorkflowID WorkflowID `json:"workflow_id"`
		Name       Name       `json:"name"`
		Index      int        `json:"index"`
		Attempts   int        `json:"attempts"`
		Duration   int64      `json:"duration,omitempty"`
	}

	// StepFailedEvent records a terminal durable step failure so replay
	// does not re-execute the exhausted step
	StepFailedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		Name       Name       `json:"name"`
		Error      string     `json:"error"`
		Index      int        `json:"index"`
		Attempts   int        `json:"attempts"`
	}

	// EventSetEvent records a last-write-wins workflow event value
	EventSetEvent struct {
		Value      any        `json:"value"`
		WorkflowID WorkflowID `json:"workflow_id"`
		Key        EventKey   `json:"key"`
	}

	// MessageSentEvent appends a message to a workflow topic inbox
	MessageSentEvent struct {
		Message    any        `json:"message"`
		WorkflowID WorkflowID `json:"workflow_id"`
		Topic      Topic      `json:"topic"`
	}

	// MessageConsumedEvent advances a topic inbox consumed cursor
	MessageConsumedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		Topic      Topic      `json:"topic"`
	}

	// WorkflowActivatedEvent marks a workflow active in the system index
	WorkflowActivatedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		ExecutorID ExecutorID `json:"executor_id"`
		Queue      QueueName  `json:"queue,omitempty"`
	}

	// WorkflowDeactivatedEvent removes a workflow from the active index
	// and records its terminal digest
	WorkflowDeactivatedEvent struct {
		WorkflowID  WorkflowID     `json:"workflow_id"`
		Name        Name           `json:"name"`
		Status      WorkflowStatus `json:"status"`
		Queue       QueueName      `json:"queue,omitempty"`
		Error       string         `json:"error,omitempty"`
		CreatedAt   time.Time      `json:"created_at"`
		CompletedAt time.Time      `json:"completed_at"`
	}

	// QueueEntryAddedEvent adds a pending entry to a queue
	QueueEntryAddedEvent struct {
		Queue        QueueName  `json:"queue"`
		WorkflowID   WorkflowID `json:"workflow_id"`
		DedupKey     string     `json:"dedup_key,omitempty"`
		PartitionKey string     `json:"partition_key,omitempty"`
		Priority     int        `json:"priority,omitempty"`
	}

	// QueueEntryDequeuedEvent moves a pending entry to the running set
	QueueEntryDequeuedEvent struct {
		Queue      QueueName  `json:"queue"`
		WorkflowID WorkflowID `json:"workflow_id"`
	}

	// QueueEntryRequeuedEvent returns a running entry to the front of the
	// pending set after an executor crash
	QueueEntryRequeuedEvent struct {
		Queue      QueueName  `json:"queue"`
		WorkflowID WorkflowID `json:"workflow_id"`
	}

	// QueueAdmissionEvent records a rate-limited admission. Admissions
	// before the cutoff are trimmed from the window
	QueueAdmissionEvent struct {
		Queue  QueueName `json:"queue"`
		At     time.Time `json:"at"`
		Cutoff time.Time `json:"cutoff"`
	}

	// WorkflowArchivedEvent removes a terminal digest once its history has
	// been written to the archive bucket
	WorkflowArchivedEvent struct {
		WorkflowID WorkflowID `json:"workflow_id"`
	}
)

const (
	EventTypeWorkflowStarted         EventType = "workflow_started"
	EventTypeWorkflowEnqueued        EventType = "workflow_enqueued"
	EventTypeWorkflowDequeued        EventType = "workflow_dequeued"
	EventTypeWorkflowCompleted       EventType = "workflow_completed"
	EventTypeWorkflowFailed          EventType = "workflow_failed"
	EventTypeWorkflowCancelRequested EventType = "workflow_cancel_requested"
	EventTypeWorkflowCancelled       EventType = "workflow_cancelled"
	EventTypeWorkflowRecovered       EventType = "workflow_recovered"
	EventTypeWorkflowResumed         EventType = "workflow_resumed"
	EventTypeWorkflowForked          EventType = "workflow_forked"
	EventTypeStepCompleted           EventType = "step_completed"
	EventTypeStepFailed              EventType = "step_failed"
	EventTypeEventSet                EventType = "event_set"
	EventTypeMessageSent             EventType = "message_sent"
	EventTypeMessageConsumed         EventType = "message_consumed"
	EventTypeWorkflowActivated       EventType = "workflow_activated"
	EventTypeWorkflowDeactivated     EventType = "workflow_deactivated"
	EventTypeQueueEntryAdded         EventType = "queue_entry_added"
	EventTypeQueueEntryDequeued      EventType = "queue_entry_dequeued"
	EventTypeQueueEntryRequeued      EventType = "queue_entry_requeued"
	EventTypeQueueAdmission          EventType = "queue_admission"
	EventTypeWorkflowArchived        EventType = "workflow_archived"
)
