package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// Context is handed to a workflow function and carries the durable step
// machinery. Step ordinals are assigned in call order, so workflow code
// must be deterministic: on replay, a recorded ordinal substitutes its
// persisted outcome instead of re-executing the step body
type Context struct {
	ctx   context.Context
	eng   *Engine
	reg   *Registration
	state *api.WorkflowState
	id    api.WorkflowID
	next  int
	waits int
}

// Step names recorded for the built-in durable operations
const (
	StepSleep       api.Name = "sleep"
	StepSetEvent    api.Name = "set_event"
	StepGetEvent    api.Name = "get_event"
	StepSend        api.Name = "send"
	StepRecv        api.Name = "recv"
	StepStartChild  api.Name = "start_child"
	StepAwaitResult api.Name = "await_result"
)

func newContext(
	ctx context.Context, e *Engine, reg *Registration,
	state *api.WorkflowState,
) *Context {
	return &Context{
		ctx:   ctx,
		eng:   e,
		reg:   reg,
		state: state,
		id:    state.ID,
		next:  0,
	}
}

// Context returns the underlying execution context. It is cancelled when
// the engine shuts down or the workflow is forcefully stopped
func (c *Context) Context() context.Context {
	return c.ctx
}

// WorkflowID returns the identity of the executing workflow
func (c *Context) WorkflowID() api.WorkflowID {
	return c.id
}

// Step executes a durable step with the workflow's default retry policy
func (c *Context) Step(
	name api.Name, fn api.StepFunc, args api.Args,
) (api.Args, error) {
	return c.StepWithPolicy(name, fn, args, c.defaultPolicy())
}

// StepWithPolicy executes a durable step. A previously recorded outcome at
// this ordinal is substituted without running the body; otherwise the body
// runs under the retry policy and its outcome is persisted
func (c *Context) StepWithPolicy(
	name api.Name, fn api.StepFunc, args api.Args, policy api.RetryPolicy,
) (api.Args, error) {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, name); err != nil {
			return nil, err
		}
		if rec.Failed {
			return nil, &api.StepRetriesExceededError{
				WorkflowID: c.id,
				Step:       rec.Name,
				Index:      rec.Index,
				Attempts:   rec.Attempts,
				LastError:  rec.Error,
			}
		}
		return rec.Outputs, nil
	}
	if err := c.checkBoundary(); err != nil {
		return nil, err
	}
	return c.executeStep(index, name, fn, args, policy.WithDefaults())
}

// Sleep records a wake time durably and blocks until it passes. Replay
// after a crash resumes the remaining sleep rather than restarting it
func (c *Context) Sleep(d time.Duration) error {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, StepSleep); err != nil {
			return err
		}
		return c.sleepUntil(wakeTime(rec.Outputs))
	}
	if err := c.checkBoundary(); err != nil {
		return err
	}
	wake := c.eng.Now().Add(d)
	err := c.recordStep(index, StepSleep, api.Args{
		"wake_at_ms": wake.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return c.sleepUntil(wake)
}

// SetEvent durably sets a last-write-wins event value on this workflow.
// The value write and the step record land in the same log append
func (c *Context) SetEvent(key api.EventKey, value any) error {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		return verifyReplay(rec, StepSetEvent)
	}
	if err := c.checkBoundary(); err != nil {
		return err
	}
	state, err := c.eng.raiseWorkflowEvents(c.ctx, c.id,
		raisedEvent{
			Type: api.EventTypeEventSet,
			Data: &api.EventSetEvent{
				Value:      value,
				WorkflowID: c.id,
				Key:        key,
			},
		},
		raisedEvent{
			Type: api.EventTypeStepCompleted,
			Data: &api.StepCompletedEvent{
				WorkflowID: c.id,
				Name:       StepSetEvent,
				Index:      index,
				Attempts:   1,
			},
		},
	)
	if err != nil {
		return err
	}
	c.state = state
	return nil
}

// GetEvent reads an event value from another workflow, blocking until the
// key is set or the timeout expires. A zero timeout waits indefinitely.
// The observed value is recorded so replay returns the same result
func (c *Context) GetEvent(
	target api.WorkflowID, key api.EventKey, timeout time.Duration,
) (any, error) {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, StepGetEvent); err != nil {
			return nil, err
		}
		if !rec.Outputs.GetBool("ok", false) {
			return nil, fmt.Errorf("%w: event %s", api.ErrAwaitTimeout, key)
		}
		return rec.Outputs["value"], nil
	}
	if err := c.checkBoundary(); err != nil {
		return nil, err
	}

	w := c.eng.waiters.register(eventKey(target, key))
	defer w.Close()

	if value, ok := c.peekEvent(target, key); ok {
		return value, c.recordStep(index, StepGetEvent, api.Args{
			"value": value, "ok": true,
		})
	}

	expire := waitChannel(timeout)
	for {
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-expire:
			err := c.recordStep(index, StepGetEvent, api.Args{"ok": false})
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: event %s", api.ErrAwaitTimeout, key)
		case <-w.Channel():
			if value, ok := c.peekEvent(target, key); ok {
				return value, c.recordStep(index, StepGetEvent, api.Args{
					"value": value, "ok": true,
				})
			}
		}
	}
}

// Send appends a message to a topic inbox of another workflow. The send is
// recorded as a durable step so replay does not deliver it twice
func (c *Context) Send(
	target api.WorkflowID, topic api.Topic, message any,
) error {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		return verifyReplay(rec, StepSend)
	}
	if err := c.checkBoundary(); err != nil {
		return err
	}
	_, err := c.eng.raiseWorkflowEvent(c.ctx, target,
		api.EventTypeMessageSent, &api.MessageSentEvent{
			Message:    message,
			WorkflowID: target,
			Topic:      topic,
		},
	)
	if err != nil {
		return err
	}
	return c.recordStep(index, StepSend, nil)
}

// Recv consumes the oldest pending message from this workflow's topic
// inbox, blocking until one arrives or the timeout expires. The consume
// and its step record land in the same log append, so a message is never
// lost or double-consumed across a crash
func (c *Context) Recv(topic api.Topic, timeout time.Duration) (any, error) {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, StepRecv); err != nil {
			return nil, err
		}
		if !rec.Outputs.GetBool("ok", false) {
			return nil, fmt.Errorf("%w: topic %s", api.ErrAwaitTimeout, topic)
		}
		return rec.Outputs["value"], nil
	}
	if err := c.checkBoundary(); err != nil {
		return nil, err
	}

	w := c.eng.waiters.register(messageKey(c.id, topic))
	defer w.Close()

	expire := waitChannel(timeout)
	for {
		msg, ok, err := c.consumeMessage(index, topic)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-expire:
			err := c.recordStep(index, StepRecv, api.Args{"ok": false})
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: topic %s", api.ErrAwaitTimeout, topic)
		case <-w.Channel():
		}
	}
}

// StartChild starts a child workflow and records its identity. Replay
// re-issues the start with the recorded identity, which the engine treats
// as a no-op when the child already exists
func (c *Context) StartChild(
	name api.Name, input api.Args,
) (api.WorkflowID, error) {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, StepStartChild); err != nil {
			return "", err
		}
		childID := api.WorkflowID(rec.Outputs.GetString("child_id", ""))
		return childID, c.launchChild(childID, name, input)
	}
	if err := c.checkBoundary(); err != nil {
		return "", err
	}
	childID := api.NewWorkflowID()
	err := c.recordStep(index, StepStartChild, api.Args{
		"child_id": string(childID),
	})
	if err != nil {
		return "", err
	}
	return childID, c.launchChild(childID, name, input)
}

// AwaitResult blocks until another workflow reaches a terminal state and
// records the outcome durably. A zero timeout waits indefinitely
func (c *Context) AwaitResult(
	target api.WorkflowID, timeout time.Duration,
) (api.Args, error) {
	index := c.nextIndex()
	if rec, ok := c.state.Steps[index]; ok {
		if err := verifyReplay(rec, StepAwaitResult); err != nil {
			return nil, err
		}
		return recordedResult(rec, target)
	}
	if err := c.checkBoundary(); err != nil {
		return nil, err
	}

	w := c.eng.waiters.register(resultKey(target))
	defer w.Close()

	if out, err := c.peekResult(target); err != errResultPending {
		return out, c.recordResult(index, target, out, err)
	}

	expire := waitChannel(timeout)
	for {
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-expire:
			err := c.recordStep(index, StepAwaitResult, api.Args{"ok": false})
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf(
				"%w: result of %s", api.ErrAwaitTimeout, target,
			)
		case <-w.Channel():
			if out, err := c.peekResult(target); err != errResultPending {
				return out, c.recordResult(index, target, out, err)
			}
		}
	}
}

func (c *Context) nextIndex() int {
	index := c.next
	c.next++
	return index
}

func (c *Context) defaultPolicy() api.RetryPolicy {
	policy := c.reg.Retry
	if policy == (api.RetryPolicy{}) {
		policy = c.eng.config.Retry
	}
	return policy.WithDefaults()
}

// checkBoundary refreshes workflow state and observes cancellation and
// deadline before a new step is allowed to run
func (c *Context) checkBoundary() error {
	state, err := c.eng.GetWorkflowState(c.ctx, c.id)
	if err != nil {
		return err
	}
	c.state = state
	if state.CancelRequested {
		_, err := c.eng.raiseWorkflowEvent(c.ctx, c.id,
			api.EventTypeWorkflowCancelled,
			&api.WorkflowCancelledEvent{WorkflowID: c.id},
		)
		if err != nil {
			return err
		}
		return &api.CancelledError{WorkflowID: c.id}
	}
	if !state.Deadline.IsZero() && c.eng.Now().After(state.Deadline) {
		return fmt.Errorf("%w: %s", api.ErrDeadlineExceeded, c.id)
	}
	return nil
}

func (c *Context) executeStep(
	index int, name api.Name, fn api.StepFunc, args api.Args,
	policy api.RetryPolicy,
) (api.Args, error) {
	started := c.eng.Now()
	attempts := 0
	var lastErr error

	for attempts < policy.MaxAttempts {
		attempts++
		out, err := c.runAttempt(fn, args, policy.Timeout)
		if err == nil {
			return out, c.completeStep(index, name, out, attempts, started)
		}
		lastErr = err
		slog.Warn("Step attempt failed",
			log.WorkflowID(c.id),
			log.Step(name, index),
			slog.Int("attempt", attempts),
			log.Error(err))
		if errors.Is(err, api.ErrFatal) || attempts == policy.MaxAttempts {
			break
		}
		if err := c.backoff(policy.Backoff(attempts)); err != nil {
			return nil, err
		}
		if err := c.checkBoundary(); err != nil {
			return nil, err
		}
	}

	state, err := c.eng.raiseWorkflowEvent(c.ctx, c.id,
		api.EventTypeStepFailed, &api.StepFailedEvent{
			WorkflowID: c.id,
			Name:       name,
			Error:      lastErr.Error(),
			Index:      index,
			Attempts:   attempts,
		},
	)
	if err != nil {
		return nil, err
	}
	c.state = state
	return nil, &api.StepRetriesExceededError{
		WorkflowID: c.id,
		Step:       name,
		Index:      index,
		Attempts:   attempts,
		LastError:  lastErr.Error(),
	}
}

func (c *Context) runAttempt(
	fn api.StepFunc, args api.Args, timeout time.Duration,
) (res api.Args, err error) {
	ctx := c.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

func (c *Context) completeStep(
	index int, name api.Name, out api.Args, attempts int, started time.Time,
) error {
	state, err := c.eng.raiseWorkflowEvent(c.ctx, c.id,
		api.EventTypeStepCompleted, &api.StepCompletedEvent{
			Outputs:    out,
			WorkflowID: c.id,
			Name:       name,
			Index:      index,
			Attempts:   attempts,
			Duration:   c.eng.Now().Sub(started).Milliseconds(),
		},
	)
	if err != nil {
		return err
	}
	c.state = state
	return nil
}

func (c *Context) recordStep(index int, name api.Name, out api.Args) error {
	return c.completeStep(index, name, out, 1, c.eng.Now())
}

func (c *Context) consumeMessage(
	index int, topic api.Topic,
) (any, bool, error) {
	var msg any
	consumed := false
	state, err := c.eng.execWorkflow(c.ctx, c.id,
		func(st *api.WorkflowState, ag *WorkflowAggregator) error {
			msg, consumed = nil, false
			inbox, ok := st.Inboxes[topic]
			if !ok || inbox.Pending() == 0 {
				return nil
			}
			msg = inbox.Messages[inbox.Consumed]
			consumed = true
			err := events.Raise(ag, api.EventTypeMessageConsumed,
				&api.MessageConsumedEvent{WorkflowID: c.id, Topic: topic},
			)
			if err != nil {
				return err
			}
			return events.Raise(ag, api.EventTypeStepCompleted,
				&api.StepCompletedEvent{
					Outputs:    api.Args{"value": msg, "ok": true},
					WorkflowID: c.id,
					Name:       StepRecv,
					Index:      index,
					Attempts:   1,
				},
			)
		},
	)
	if err != nil {
		return nil, false, err
	}
	c.state = state
	return msg, consumed, nil
}

func (c *Context) peekEvent(
	target api.WorkflowID, key api.EventKey,
) (any, bool) {
	st, err := c.eng.GetWorkflowState(c.ctx, target)
	if err != nil {
		return nil, false
	}
	value, ok := st.Events[key]
	return value, ok
}

var errResultPending = errors.New("result pending")

func (c *Context) peekResult(target api.WorkflowID) (api.Args, error) {
	return c.eng.peekResult(c.ctx, target)
}

func (c *Context) recordResult(
	index int, target api.WorkflowID, out api.Args, resErr error,
) error {
	rec := api.Args{"ok": true}
	switch {
	case resErr == nil:
		rec["status"] = string(api.WorkflowSuccess)
		rec["output"] = map[api.Name]any(out)
	default:
		var cancelled *api.CancelledError
		if errors.As(resErr, &cancelled) {
			rec["status"] = string(api.WorkflowCancelled)
		} else {
			rec["status"] = string(api.WorkflowError)
		}
		rec["error"] = resErr.Error()
	}
	if err := c.recordStep(index, StepAwaitResult, rec); err != nil {
		return err
	}
	return resErr
}

func (c *Context) launchChild(
	childID api.WorkflowID, name api.Name, input api.Args,
) error {
	_, err := c.eng.StartWorkflow(c.ctx, &StartOptions{
		Input:    input,
		ID:       childID,
		Name:     name,
		ParentID: c.id,
	})
	if err != nil && !errors.Is(err, ErrWorkflowExists) {
		return err
	}
	return nil
}

func (c *Context) sleepUntil(wake time.Time) error {
	if !wake.After(c.eng.Now()) {
		return nil
	}
	return c.waitUntil(wake)
}

func (c *Context) backoff(d time.Duration) error {
	return c.waitUntil(c.eng.Now().Add(d))
}

// waitUntil parks the workflow on the engine scheduler until the wake
// time arrives, so sleeps and retry backoff run on the engine clock
func (c *Context) waitUntil(at time.Time) error {
	c.waits++
	path := []string{"waits", string(c.id), strconv.Itoa(c.waits)}
	woke := make(chan struct{})
	c.eng.ScheduleTask(path, at, func() error {
		close(woke)
		return nil
	})
	select {
	case <-c.ctx.Done():
		c.eng.CancelTask(path)
		return c.ctx.Err()
	case <-woke:
		return nil
	}
}

func verifyReplay(rec *api.StepRecord, name api.Name) error {
	if rec.Name != name {
		return fmt.Errorf(
			"%w: step %d recorded %q, executing %q",
			api.ErrNondeterministicReplay, rec.Index, rec.Name, name,
		)
	}
	return nil
}

func recordedResult(
	rec *api.StepRecord, target api.WorkflowID,
) (api.Args, error) {
	if !rec.Outputs.GetBool("ok", false) {
		return nil, fmt.Errorf(
			"%w: result of %s", api.ErrAwaitTimeout, target,
		)
	}
	switch api.WorkflowStatus(rec.Outputs.GetString("status", "")) {
	case api.WorkflowSuccess:
		return toArgs(rec.Outputs["output"]), nil
	case api.WorkflowCancelled:
		return nil, &api.CancelledError{WorkflowID: target}
	default:
		return nil, errors.New(rec.Outputs.GetString("error", ""))
	}
}

// waitChannel returns a channel that fires after the timeout, or one that
// never fires when the timeout is zero
func waitChannel(timeout time.Duration) <-chan time.Time {
	if timeout <= 0 {
		return nil
	}
	return time.After(timeout)
}

func wakeTime(out api.Args) time.Time {
	if ms, ok := out["wake_at_ms"]; ok {
		switch v := ms.(type) {
		case int64:
			return time.UnixMilli(v)
		case float64:
			return time.UnixMilli(int64(v))
		}
	}
	return time.Time{}
}

func toArgs(v any) api.Args {
	switch m := v.(type) {
	case api.Args:
		return m
	case map[api.Name]any:
		return m
	case map[string]any:
		res := make(api.Args, len(m))
		for k, val := range m {
			res[api.Name(k)] = val
		}
		return res
	}
	return nil
}
