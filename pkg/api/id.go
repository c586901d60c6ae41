package api

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type (
	// WorkflowID is a unique identifier for a workflow instance
	WorkflowID string

	// QueueName identifies an admission-controlled workflow queue
	QueueName string

	// Topic identifies an ordered message inbox within a workflow
	Topic string

	// EventKey identifies a last-write-wins event value within a workflow
	EventKey string

	// ExecutorID identifies the process that owns a workflow execution
	ExecutorID string
)

// ForkSeparator joins a parent workflow ID and the random suffix of a
// derived fork
const ForkSeparator = "_fork_"

// InvalidIDChars matches characters not permitted in workflow and queue
// names. Valid characters are: letters, digits, underscore, dot, hyphen,
// plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// NewWorkflowID returns a fresh random workflow identifier
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.NewString())
}

// NewForkID derives a workflow identifier for a fork of the given parent
func NewForkID(parent WorkflowID) WorkflowID {
	return WorkflowID(string(parent) + ForkSeparator + uuid.NewString()[:8])
}

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
