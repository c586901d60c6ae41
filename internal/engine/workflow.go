package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// StartOptions controls direct workflow starts that bypass any queue
type StartOptions struct {
	Input api.Args
	ID    api.WorkflowID
	Name  api.Name

	// ParentID links a child workflow back to its initiator
	ParentID api.WorkflowID

	// MaxRecoveryAttempts overrides registration and engine defaults when
	// positive
	MaxRecoveryAttempts int
}

// StartWorkflow starts a registered workflow immediately. When no ID is
// provided a random one is generated; providing the ID of an existing
// workflow returns ErrWorkflowExists
func (e *Engine) StartWorkflow(
	ctx context.Context, opts *StartOptions,
) (api.WorkflowID, error) {
	reg, ok := e.registry.workflow(opts.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, opts.Name)
	}
	id := opts.ID
	if id == "" {
		id = api.NewWorkflowID()
	}

	var deadline time.Time
	if reg.Timeout > 0 {
		deadline = e.Now().Add(reg.Timeout)
	}

	exists := false
	_, err := e.execWorkflow(ctx, id,
		func(st *api.WorkflowState, ag *WorkflowAggregator) error {
			exists = st.ID != ""
			if exists {
				return nil
			}
			return events.Raise(ag, api.EventTypeWorkflowStarted,
				&api.WorkflowStartedEvent{
					Input:               opts.Input,
					WorkflowID:          id,
					Name:                opts.Name,
					ExecutorID:          e.config.ExecutorID,
					ParentID:            opts.ParentID,
					MaxRecoveryAttempts: e.maxRecovery(reg, opts),
					Deadline:            deadline,
				},
			)
		},
	)
	if err != nil {
		return "", err
	}
	if exists {
		return id, fmt.Errorf("%w: %s", ErrWorkflowExists, id)
	}

	if err := e.activateWorkflow(ctx, id, ""); err != nil {
		return "", err
	}
	slog.Info("Workflow started",
		log.WorkflowID(id), log.Workflow(opts.Name))
	return id, e.launch(id)
}

// GetResult blocks until the workflow reaches a terminal state, returning
// its output or terminal error. A zero timeout waits indefinitely
func (e *Engine) GetResult(
	ctx context.Context, id api.WorkflowID, timeout time.Duration,
) (api.Args, error) {
	w := e.waiters.register(resultKey(id))
	defer w.Close()

	if out, err := e.peekResult(ctx, id); err != errResultPending {
		return out, err
	}

	expire := waitChannel(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expire:
			return nil, fmt.Errorf("%w: %s", ErrResultTimeout, id)
		case <-w.Channel():
			if out, err := e.peekResult(ctx, id); err != errResultPending {
				return out, err
			}
		}
	}
}

func (e *Engine) peekResult(
	ctx context.Context, id api.WorkflowID,
) (api.Args, error) {
	st, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, errResultPending
		}
		return nil, err
	}
	switch st.Status {
	case api.WorkflowSuccess:
		return st.Output, nil
	case api.WorkflowError:
		return nil, errors.New(st.Error)
	case api.WorkflowCancelled:
		return nil, &api.CancelledError{WorkflowID: id}
	}
	return nil, errResultPending
}

// SetWorkflowEvent sets a last-write-wins event value on a workflow from
// outside its own execution
func (e *Engine) SetWorkflowEvent(
	ctx context.Context, id api.WorkflowID, key api.EventKey, value any,
) error {
	if _, err := e.GetWorkflowState(ctx, id); err != nil {
		return err
	}
	_, err := e.raiseWorkflowEvent(ctx, id, api.EventTypeEventSet,
		&api.EventSetEvent{Value: value, WorkflowID: id, Key: key})
	return err
}

// GetWorkflowEvent reads a workflow event value without blocking
func (e *Engine) GetWorkflowEvent(
	ctx context.Context, id api.WorkflowID, key api.EventKey,
) (any, bool, error) {
	st, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return nil, false, err
	}
	value, ok := st.Events[key]
	return value, ok, nil
}

// SendMessage appends a message to a workflow's topic inbox from outside
// any workflow execution
func (e *Engine) SendMessage(
	ctx context.Context, id api.WorkflowID, topic api.Topic, message any,
) error {
	if _, err := e.GetWorkflowState(ctx, id); err != nil {
		return err
	}
	_, err := e.raiseWorkflowEvent(ctx, id, api.EventTypeMessageSent,
		&api.MessageSentEvent{Message: message, WorkflowID: id, Topic: topic})
	return err
}

// ListWorkflows returns digests for active and terminal workflows, newest
// first
func (e *Engine) ListWorkflows(
	ctx context.Context,
) ([]*api.WorkflowDigest, error) {
	sys, err := e.GetSystemState(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*api.WorkflowDigest, 0, len(sys.Digests)+len(sys.Active))
	for id, active := range sys.Active {
		st, err := e.GetWorkflowState(ctx, id)
		if err != nil {
			continue
		}
		res = append(res, &api.WorkflowDigest{
			ID:        id,
			Name:      st.Name,
			Status:    st.Status,
			Queue:     active.Queue,
			CreatedAt: st.CreatedAt,
		})
	}
	for _, d := range sys.Digests {
		res = append(res, d)
	}
	slices.SortFunc(res, func(l, r *api.WorkflowDigest) int {
		return r.CreatedAt.Compare(l.CreatedAt)
	})
	return res, nil
}

func (e *Engine) activateWorkflow(
	ctx context.Context, id api.WorkflowID, queue api.QueueName,
) error {
	_, err := e.raiseSystemEvent(ctx, api.EventTypeWorkflowActivated,
		&api.WorkflowActivatedEvent{
			WorkflowID: id,
			ExecutorID: e.config.ExecutorID,
			Queue:      queue,
		},
	)
	return err
}

func (e *Engine) maxRecovery(reg *Registration, opts *StartOptions) int {
	if opts != nil && opts.MaxRecoveryAttempts > 0 {
		return opts.MaxRecoveryAttempts
	}
	if reg != nil && reg.MaxRecoveryAttempts > 0 {
		return reg.MaxRecoveryAttempts
	}
	return e.config.MaxRecoveryAttempts
}
