package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
)

func TestWorkflowStatusIsTerminal(t *testing.T) {
	assert.False(t, api.WorkflowEnqueued.IsTerminal())
	assert.False(t, api.WorkflowPending.IsTerminal())
	assert.True(t, api.WorkflowSuccess.IsTerminal())
	assert.True(t, api.WorkflowError.IsTerminal())
	assert.True(t, api.WorkflowCancelled.IsTerminal())
}

func TestWorkflowStateSettersCopyOnWrite(t *testing.T) {
	orig := &api.WorkflowState{
		ID:     "wf-1",
		Status: api.WorkflowPending,
		Steps:  api.StepRecords{},
	}

	updated := orig.
		SetStatus(api.WorkflowSuccess).
		SetOutput(api.Args{"total": 10}).
		SetCompletedAt(time.Now())

	assert.Equal(t, api.WorkflowPending, orig.Status)
	assert.Equal(t, api.WorkflowSuccess, updated.Status)
	assert.Nil(t, orig.Output)
	assert.Equal(t, 10, updated.Output.GetInt("total", 0))
}

func TestSetStepOverwrites(t *testing.T) {
	st := &api.WorkflowState{}

	first := st.SetStep(0, &api.StepRecord{Index: 0, Name: "charge"})
	second := first.SetStep(0, &api.StepRecord{
		Index: 0, Name: "charge", Attempts: 2,
	})

	assert.Empty(t, st.Steps)
	assert.Len(t, second.Steps, 1)
	assert.Equal(t, 2, second.Steps[0].Attempts)
}

func TestNextStepIndex(t *testing.T) {
	st := &api.WorkflowState{}
	assert.Equal(t, 0, st.NextStepIndex())

	st = st.
		SetStep(0, &api.StepRecord{Index: 0}).
		SetStep(1, &api.StepRecord{Index: 1})
	assert.Equal(t, 2, st.NextStepIndex())
}

func TestInbox(t *testing.T) {
	in := &api.Inbox{}
	appended := in.Append("first").Append("second")

	assert.Empty(t, in.Messages)
	assert.Equal(t, 2, appended.Pending())

	advanced := appended.Advance()
	assert.Equal(t, 1, advanced.Pending())
	assert.Equal(t, 2, appended.Pending())
	assert.Equal(t, "first", appended.Messages[advanced.Consumed-1])
}

func TestSetEventLastWriteWins(t *testing.T) {
	st := &api.WorkflowState{}
	updated := st.SetEvent("progress", 25).SetEvent("progress", 50)

	assert.Len(t, updated.Events, 1)
	assert.Equal(t, 50, updated.Events["progress"])
}
