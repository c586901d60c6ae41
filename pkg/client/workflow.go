package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/perdura/perdura/pkg/api"
)

// WorkflowHandle tracks a single workflow through the engine's REST
// API. Handles are cheap and may be created for any workflow ID
type WorkflowHandle struct {
	client     *Client
	workflowID api.WorkflowID
}

var (
	ErrCancelWorkflow = errors.New("failed to cancel workflow")
	ErrResumeWorkflow = errors.New("failed to resume workflow")
	ErrForkWorkflow   = errors.New("failed to fork workflow")
	ErrSetEvent       = errors.New("failed to set workflow event")
	ErrGetEvent       = errors.New("failed to get workflow event")
	ErrSendMessage    = errors.New("failed to send message")
	ErrEventNotSet    = errors.New("event not set")
	ErrResultTimeout  = errors.New("timed out waiting for workflow result")
)

// WorkflowID returns the workflow ID this handle tracks
func (h *WorkflowHandle) WorkflowID() api.WorkflowID {
	return h.workflowID
}

// Status retrieves the workflow's current state
func (h *WorkflowHandle) Status(
	ctx context.Context,
) (*api.WorkflowStatusResponse, error) {
	var res api.WorkflowStatusResponse
	if err := h.client.get(ctx, h.path(""), &res, ErrGetWorkflow); err != nil {
		return nil, err
	}
	return &res, nil
}

// Result blocks until the workflow reaches a terminal status, waiting
// at most the given duration server-side. The wait should be shorter
// than the client's HTTP timeout
func (h *WorkflowHandle) Result(
	ctx context.Context, wait time.Duration,
) (*api.WorkflowResultResponse, error) {
	path := fmt.Sprintf("%s?timeout=%s", h.path("/result"), wait)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, h.client.baseURL+path, nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGetResult, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var res api.WorkflowResultResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, err
		}
		return &res, nil
	case http.StatusRequestTimeout:
		return nil, fmt.Errorf("%w: %s", ErrResultTimeout, h.workflowID)
	default:
		return nil, fmt.Errorf("%w: status %d: %s",
			ErrGetResult, resp.StatusCode, readError(resp.Body))
	}
}

// Cancel requests cancellation of the workflow. The engine observes
// the request at the next step boundary
func (h *WorkflowHandle) Cancel(ctx context.Context) error {
	return h.client.post(ctx, h.path("/cancel"), nil, nil, ErrCancelWorkflow)
}

// Resume restarts a terminal workflow from its recorded step results
func (h *WorkflowHandle) Resume(ctx context.Context) error {
	return h.client.post(ctx, h.path("/resume"), nil, nil, ErrResumeWorkflow)
}

// Fork derives a new workflow that replays this workflow's steps up to
// fromStep and executes the remainder fresh
func (h *WorkflowHandle) Fork(
	ctx context.Context, fromStep int,
) (*WorkflowHandle, error) {
	var res api.WorkflowStartedResponse
	err := h.client.post(ctx, h.path("/fork"),
		&api.ForkRequest{FromStep: fromStep}, &res, ErrForkWorkflow)
	if err != nil {
		return nil, err
	}
	return h.client.Workflow(res.WorkflowID), nil
}

// SetEvent publishes a last-write-wins key/value on the workflow
func (h *WorkflowHandle) SetEvent(
	ctx context.Context, key api.EventKey, value any,
) error {
	req := &api.SetEventRequest{Key: key, Value: value}
	return h.client.do(ctx, http.MethodPut, h.path("/events"),
		req, nil, ErrSetEvent)
}

// GetEvent reads an event value published by the workflow. Returns
// ErrEventNotSet when the key has no value yet
func (h *WorkflowHandle) GetEvent(
	ctx context.Context, key api.EventKey,
) (any, error) {
	path := h.path("/events/" + url.PathEscape(string(key)))
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, h.client.baseURL+path, nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGetEvent, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var res api.EventValueResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, err
		}
		return res.Value, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrEventNotSet, key)
	default:
		return nil, fmt.Errorf("%w: status %d: %s",
			ErrGetEvent, resp.StatusCode, readError(resp.Body))
	}
}

// SendMessage appends a message to one of the workflow's topics
func (h *WorkflowHandle) SendMessage(
	ctx context.Context, topic api.Topic, message any,
) error {
	req := &api.SendMessageRequest{Topic: topic, Message: message}
	return h.client.post(ctx, h.path("/messages"), req, nil, ErrSendMessage)
}

func (h *WorkflowHandle) path(suffix string) string {
	return fmt.Sprintf("%s/%s%s",
		routeWorkflows, url.PathEscape(string(h.workflowID)), suffix)
}
