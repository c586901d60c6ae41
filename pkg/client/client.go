package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/perdura/perdura/pkg/api"
)

// Client is an HTTP client for the orchestration engine's REST API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var (
	ErrStartWorkflow   = errors.New("failed to start workflow")
	ErrEnqueueWorkflow = errors.New("failed to enqueue workflow")
	ErrGetWorkflow     = errors.New("failed to get workflow")
	ErrGetResult       = errors.New("failed to get workflow result")
	ErrListWorkflows   = errors.New("failed to list workflows")
	ErrListQueues      = errors.New("failed to list queues")
	ErrHealthCheck     = errors.New("health check failed")
)

const (
	DefaultTimeout = 30 * time.Second

	routeHealth    = "/health"
	routeWorkflows = "/workflows"
	routeQueues    = "/queues"
)

// NewClient creates a client for an engine at the given base URL. The
// timeout bounds each HTTP request, including blocking result waits
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health reports engine liveness and registration counts
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var res api.HealthResponse
	if err := c.get(ctx, routeHealth, &res, ErrHealthCheck); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartWorkflow starts a workflow immediately and returns a handle for
// tracking it
func (c *Client) StartWorkflow(
	ctx context.Context, req *api.StartWorkflowRequest,
) (*WorkflowHandle, error) {
	var res api.WorkflowStartedResponse
	err := c.post(ctx, routeWorkflows, req, &res, ErrStartWorkflow)
	if err != nil {
		return nil, err
	}
	return c.Workflow(res.WorkflowID), nil
}

// Enqueue submits a workflow to a declared queue and returns a handle
// for tracking it
func (c *Client) Enqueue(
	ctx context.Context, queue api.QueueName, req *api.EnqueueRequest,
) (*WorkflowHandle, error) {
	path := fmt.Sprintf("%s/%s/workflows", routeQueues, queue)
	var res api.WorkflowStartedResponse
	if err := c.post(ctx, path, req, &res, ErrEnqueueWorkflow); err != nil {
		return nil, err
	}
	return c.Workflow(res.WorkflowID), nil
}

// ListWorkflows retrieves digests of all workflows known to the engine
func (c *Client) ListWorkflows(
	ctx context.Context,
) (*api.WorkflowsListResponse, error) {
	var res api.WorkflowsListResponse
	if err := c.get(ctx, routeWorkflows, &res, ErrListWorkflows); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListQueues retrieves declared queue configurations with current depth
func (c *Client) ListQueues(
	ctx context.Context,
) (*api.QueuesListResponse, error) {
	var res api.QueuesListResponse
	if err := c.get(ctx, routeQueues, &res, ErrListQueues); err != nil {
		return nil, err
	}
	return &res, nil
}

// Workflow returns a handle for an existing workflow ID
func (c *Client) Workflow(id api.WorkflowID) *WorkflowHandle {
	return &WorkflowHandle{
		client:     c,
		workflowID: id,
	}
}

func (c *Client) get(
	ctx context.Context, path string, out any, sentinel error,
) error {
	return c.do(ctx, http.MethodGet, path, nil, out, sentinel)
}

func (c *Client) post(
	ctx context.Context, path string, body any, out any, sentinel error,
) error {
	return c.do(ctx, http.MethodPost, path, body, out, sentinel)
}

func (c *Client) do(
	ctx context.Context, method, path string, body any, out any,
	sentinel error,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", sentinel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status %d: %s",
			sentinel, resp.StatusCode, readError(resp.Body))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var res api.ErrorResponse
	if err := json.Unmarshal(data, &res); err == nil && res.Error != "" {
		return res.Error
	}
	return string(data)
}
