package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

type errStub string

func TestWorkflowID(t *testing.T) {
	attr := log.WorkflowID(api.WorkflowID("wf-123"))
	assertAttrEqual(t, attr, "workflow_id", "wf-123")
}

func TestQueue(t *testing.T) {
	attr := log.Queue(api.QueueName("billing"))
	assertAttrEqual(t, attr, "queue", "billing")
}

func TestStatus(t *testing.T) {
	attr := log.Status(api.WorkflowSuccess)
	assertAttrEqual(t, attr, "status", "success")
}

func TestStepIndex(t *testing.T) {
	attr := log.StepIndex(4)
	assert.Equal(t, "step_index", attr.Key)
	assert.Equal(t, int64(4), attr.Value.Int64())
}

func TestTopic(t *testing.T) {
	attr := log.Topic(api.Topic("payments"))
	assertAttrEqual(t, attr, "topic", "payments")
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
