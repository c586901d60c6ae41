package api

import "time"

type (
	// StartWorkflowRequest contains parameters for starting a workflow
	StartWorkflowRequest struct {
		Input Args       `json:"input"`
		ID    WorkflowID `json:"id,omitempty"`
		Name  Name       `json:"name"`
	}

	// EnqueueRequest contains parameters for submitting a workflow to a
	// queue
	EnqueueRequest struct {
		Input        Args       `json:"input"`
		ID           WorkflowID `json:"id,omitempty"`
		Name         Name       `json:"name"`
		DedupKey     string     `json:"dedup_key,omitempty"`
		PartitionKey string     `json:"partition_key,omitempty"`
		Priority     int        `json:"priority,omitempty"`
	}

	// WorkflowStartedResponse is returned when a start or enqueue succeeds
	WorkflowStartedResponse struct {
		WorkflowID WorkflowID `json:"workflow_id"`
		Message    string     `json:"message,omitempty"`
	}

	// WorkflowStatusResponse reports a workflow's current state
	WorkflowStatusResponse struct {
		Output           Args           `json:"output,omitempty"`
		ID               WorkflowID     `json:"id"`
		Name             Name           `json:"name"`
		Status           WorkflowStatus `json:"status"`
		Error            string         `json:"error,omitempty"`
		Queue            QueueName      `json:"queue,omitempty"`
		RecoveryAttempts int            `json:"recovery_attempts"`
		CreatedAt        time.Time      `json:"created_at"`
		CompletedAt      time.Time      `json:"completed_at,omitempty"`
	}

	// WorkflowResultResponse carries a terminal workflow outcome
	WorkflowResultResponse struct {
		Output Args           `json:"output,omitempty"`
		Status WorkflowStatus `json:"status"`
		Error  string         `json:"error,omitempty"`
	}

	// SetEventRequest sets a last-write-wins workflow event value
	SetEventRequest struct {
		Value any      `json:"value"`
		Key   EventKey `json:"key"`
	}

	// EventValueResponse carries an event value read
	EventValueResponse struct {
		Value any      `json:"value"`
		Key   EventKey `json:"key"`
	}

	// SendMessageRequest appends a message to a workflow topic
	SendMessageRequest struct {
		Message any   `json:"message"`
		Topic   Topic `json:"topic"`
	}

	// ForkRequest derives a new workflow from a prefix of an existing one
	ForkRequest struct {
		FromStep int `json:"from_step"`
	}

	// WorkflowsListResponse contains workflow digests
	WorkflowsListResponse struct {
		Workflows []*WorkflowDigest `json:"workflows"`
		Count     int               `json:"count"`
	}

	// QueuesListResponse contains declared queue configurations with
	// current depth
	QueuesListResponse struct {
		Queues []*QueueInfo `json:"queues"`
		Count  int          `json:"count"`
	}

	// QueueInfo combines a queue declaration with its current state
	QueueInfo struct {
		Config  *QueueConfig `json:"config"`
		Pending int          `json:"pending"`
		Running int          `json:"running"`
	}

	// HealthResponse reports engine liveness and registration counts
	HealthResponse struct {
		Status     string     `json:"status"`
		ExecutorID ExecutorID `json:"executor_id"`
		Workflows  int        `json:"workflows"`
		Queues     int        `json:"queues"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)
