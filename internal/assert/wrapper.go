package assert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/config"
	"github.com/perdura/perdura/pkg/api"
)

type (
	Getter interface {
		GetWorkflowEvent(
			ctx context.Context, workflowID api.WorkflowID, key api.EventKey,
		) (any, bool, error)
	}

	// Wrapper wraps testify assertions with engine-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
		Require *assert.Assertions
	}
)

// DefaultRetryInterval is the polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a test assertion wrapper combining testify assertions
// with engine-specific helpers
func New(t *testing.T) *Wrapper {
	res := assert.New(t)
	return &Wrapper{
		T:          t,
		Assertions: res,
		Require:    res,
	}
}

// WorkflowStatus asserts the status of a workflow
func (w *Wrapper) WorkflowStatus(
	wf *api.WorkflowState, expected api.WorkflowStatus,
) {
	w.Helper()
	w.Equal(expected, wf.Status)
}

// StepRecorded asserts that a workflow has a recorded outcome at the
// given step ordinal
func (w *Wrapper) StepRecorded(wf *api.WorkflowState, index int) {
	w.Helper()
	w.Contains(wf.Steps, index, "workflow should have step record: %d", index)
}

// WorkflowHasEvents asserts that a workflow has specific event keys set
func (w *Wrapper) WorkflowHasEvents(
	ctx context.Context, get Getter, workflowID api.WorkflowID,
	keys ...api.EventKey,
) {
	w.Helper()
	for _, key := range keys {
		_, ok, err := get.GetWorkflowEvent(ctx, workflowID, key)
		w.NoError(err, "failed to check event key: %s", key)
		w.True(ok, "workflow should have event key: %s", key)
	}
}

// WorkflowEventEquals asserts that an event key has the expected value
func (w *Wrapper) WorkflowEventEquals(
	ctx context.Context, get Getter, workflowID api.WorkflowID,
	key api.EventKey, expected any,
) {
	w.Helper()
	val, ok, err := get.GetWorkflowEvent(ctx, workflowID, key)
	w.NoError(err, "failed to get event key: %s", key)
	w.True(ok, "workflow should have event key: %s", key)
	w.Equal(expected, val)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.NotEmpty(cfg.ExecutorID)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	w.invalid(cfg.Validate(), contains)
}

// QueueValid asserts that a queue declaration is valid
func (w *Wrapper) QueueValid(q *api.QueueConfig) {
	w.Helper()
	w.NoError(q.Validate())
	w.NotEmpty(q.Name)
}

// QueueInvalid asserts that a queue declaration is invalid
func (w *Wrapper) QueueInvalid(q *api.QueueConfig, contains string) {
	w.Helper()
	w.invalid(q.Validate(), contains)
}

func (w *Wrapper) invalid(err error, contains string) {
	w.Helper()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually polls a condition until it passes or the timeout elapses
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	if poll(timeout, condition) {
		return
	}
	w.Fail(msg, args...)
}

// EventuallyWithError polls an error-returning condition until it
// succeeds or the timeout elapses, reporting the last error seen
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	var lastErr error
	ok := poll(timeout, func() bool {
		lastErr = condition()
		return lastErr == nil
	})
	if ok {
		return
	}
	if lastErr != nil {
		msg += ": last error: " + lastErr.Error()
	}
	w.Fail(msg, args...)
}

func poll(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(DefaultRetryInterval)
	}
	return false
}
