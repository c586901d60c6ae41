package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/assert/helpers"
	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/internal/server"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/client"
)

const clientTestTimeout = 5 * time.Second

func TestNewClient(t *testing.T) {
	c := client.NewClient("http://localhost:8080", client.DefaultTimeout)
	assert.NotNil(t, c)
}

func TestStartWorkflowRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/workflows", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req api.StartWorkflowRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, api.Name("echo"), req.Name)

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.WorkflowStartedResponse{
				WorkflowID: "wf-1",
			})
		},
	))
	defer ts.Close()

	c := client.NewClient(ts.URL, clientTestTimeout)
	h, err := c.StartWorkflow(context.Background(),
		&api.StartWorkflowRequest{Name: "echo"})
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowID("wf-1"), h.WorkflowID())
}

func TestStartWorkflowServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{
				Error: "workflow not registered: missing",
			})
		},
	))
	defer ts.Close()

	c := client.NewClient(ts.URL, clientTestTimeout)
	_, err := c.StartWorkflow(context.Background(),
		&api.StartWorkflowRequest{Name: "missing"})
	assert.ErrorIs(t, err, client.ErrStartWorkflow)
	assert.Contains(t, err.Error(), "not registered")
}

func TestResultTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "100ms", r.URL.Query().Get("timeout"))
			w.WriteHeader(http.StatusRequestTimeout)
		},
	))
	defer ts.Close()

	c := client.NewClient(ts.URL, clientTestTimeout)
	_, err := c.Workflow("wf-slow").Result(
		context.Background(), 100*time.Millisecond,
	)
	assert.ErrorIs(t, err, client.ErrResultTimeout)
}

func TestEndToEndLifecycle(t *testing.T) {
	env, ts := testEngineServer(t)
	defer ts.Close()
	defer env.Cleanup()

	c := client.NewClient(ts.URL, clientTestTimeout)
	ctx := context.Background()

	health, err := c.Health(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	h, err := c.StartWorkflow(ctx, &api.StartWorkflowRequest{
		Name:  "echo",
		Input: api.Args{"msg": "hello"},
	})
	assert.NoError(t, err)

	res, err := h.Result(ctx, clientTestTimeout)
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowSuccess, res.Status)
	assert.Equal(t, "hello", res.Output.GetString("msg", ""))

	st, err := h.Status(ctx)
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowSuccess, st.Status)

	list, err := c.ListWorkflows(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, list.Count)
}

func TestEndToEndEnqueue(t *testing.T) {
	env, ts := testEngineServer(t)
	defer ts.Close()
	defer env.Cleanup()

	assert.NoError(t, env.Engine.RegisterQueue(&api.QueueConfig{
		Name:        "work",
		Concurrency: 2,
	}))

	c := client.NewClient(ts.URL, clientTestTimeout)
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "work", &api.EnqueueRequest{
		Name:  "echo",
		Input: api.Args{"msg": "queued"},
	})
	assert.NoError(t, err)

	res, err := h.Result(ctx, clientTestTimeout)
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowSuccess, res.Status)

	queues, err := c.ListQueues(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, queues.Count)
	assert.Equal(t, api.QueueName("work"), queues.Queues[0].Config.Name)
}

func TestEndToEndEventsAndMessages(t *testing.T) {
	env, ts := testEngineServer(t)
	defer ts.Close()
	defer env.Cleanup()

	assert.NoError(t, env.Engine.RegisterWorkflow(&engine.Registration{
		Name: "listener",
		Fn: func(c *engine.Context, _ api.Args) (api.Args, error) {
			msg, err := c.Recv("inbox", clientTestTimeout)
			if err != nil {
				return nil, err
			}
			if err := c.SetEvent("received", msg); err != nil {
				return nil, err
			}
			return api.Args{}, nil
		},
	}))

	c := client.NewClient(ts.URL, clientTestTimeout)
	ctx := context.Background()

	h, err := c.StartWorkflow(ctx,
		&api.StartWorkflowRequest{Name: "listener"})
	assert.NoError(t, err)

	assert.NoError(t, h.SendMessage(ctx, "inbox", "ping"))

	_, err = h.Result(ctx, clientTestTimeout)
	assert.NoError(t, err)

	value, err := h.GetEvent(ctx, "received")
	assert.NoError(t, err)
	assert.Equal(t, "ping", value)

	_, err = h.GetEvent(ctx, "never-set")
	assert.ErrorIs(t, err, client.ErrEventNotSet)
}

func TestEndToEndCancel(t *testing.T) {
	env, ts := testEngineServer(t)
	defer ts.Close()
	defer env.Cleanup()

	entered := make(chan struct{})
	release := make(chan struct{})
	assert.NoError(t, env.Engine.RegisterWorkflow(&engine.Registration{
		Name: "holder",
		Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
			_, err := c.Step("hold",
				func(context.Context, api.Args) (api.Args, error) {
					close(entered)
					<-release
					return api.Args{}, nil
				}, args)
			if err != nil {
				return nil, err
			}
			return c.Step("after", helpers.EchoStep, args)
		},
	}))

	c := client.NewClient(ts.URL, clientTestTimeout)
	ctx := context.Background()

	h, err := c.StartWorkflow(ctx, &api.StartWorkflowRequest{Name: "holder"})
	assert.NoError(t, err)
	<-entered

	assert.NoError(t, h.Cancel(ctx))
	close(release)

	res, err := h.Result(ctx, clientTestTimeout)
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowCancelled, res.Status)
}

func testEngineServer(
	t *testing.T,
) (*helpers.TestEngineEnv, *httptest.Server) {
	t.Helper()

	env := helpers.NewTestEngine(t)
	assert.NoError(t, env.Engine.Start())
	assert.NoError(t, env.Engine.RegisterWorkflow(&engine.Registration{
		Name: "echo",
		Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
			return c.Step("copy-input", helpers.EchoStep, args)
		},
	}))

	srv := server.NewServer(env.Engine, env.EventHub)
	return env, httptest.NewServer(srv.SetupRoutes())
}
