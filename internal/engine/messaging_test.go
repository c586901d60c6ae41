package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/assert/helpers"
	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/pkg/api"
)

func TestEventBetweenWorkflows(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "publisher",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				if err := c.SetEvent("shipment", "dispatched"); err != nil {
					return nil, err
				}
				return args, nil
			},
		}))
		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "observer",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				target := api.WorkflowID(args.GetString("target", ""))
				value, err := c.GetEvent(target, "shipment", resultTimeout)
				if err != nil {
					return nil, err
				}
				return api.Args{"observed": value}, nil
			},
		}))

		pubID, err := eng.StartWorkflow(ctx,
			&engine.StartOptions{Name: "publisher"})
		assert.NoError(t, err)

		obsID, err := eng.StartWorkflow(ctx, &engine.StartOptions{
			Name:  "observer",
			Input: api.Args{"target": string(pubID)},
		})
		assert.NoError(t, err)

		out, err := eng.GetResult(ctx, obsID, resultTimeout)
		assert.NoError(t, err)
		assert.Equal(t, "dispatched", out.GetString("observed", ""))

		// The read is recorded, so the observer's log carries the value
		st, err := eng.GetWorkflowState(ctx, obsID)
		assert.NoError(t, err)
		assert.True(t, st.Steps[0].Outputs.GetBool("ok", false))
	})
}

func TestGetEventTimeout(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "idle",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				msg, err := c.Recv("wake", resultTimeout)
				if err != nil {
					return nil, err
				}
				return api.Args{"woke": msg}, nil
			},
		}))
		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "impatient",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				target := api.WorkflowID(args.GetString("target", ""))
				_, err := c.GetEvent(
					target, "never-set", 50*time.Millisecond,
				)
				if errors.Is(err, api.ErrAwaitTimeout) {
					return api.Args{"timed_out": true}, nil
				}
				return nil, err
			},
		}))

		idleID, err := eng.StartWorkflow(ctx,
			&engine.StartOptions{Name: "idle"})
		assert.NoError(t, err)

		id, err := eng.StartWorkflow(ctx, &engine.StartOptions{
			Name:  "impatient",
			Input: api.Args{"target": string(idleID)},
		})
		assert.NoError(t, err)

		out, err := eng.GetResult(ctx, id, resultTimeout)
		assert.NoError(t, err)
		assert.True(t, out.GetBool("timed_out", false))

		// Unblock the idle workflow so it finishes cleanly
		assert.NoError(t, eng.SendMessage(ctx, idleID, "wake", "done"))
		_, err = eng.GetResult(ctx, idleID, resultTimeout)
		assert.NoError(t, err)
	})
}

func TestSendRecvBetweenWorkflows(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "consumer",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				first, err := c.Recv("jobs", resultTimeout)
				if err != nil {
					return nil, err
				}
				second, err := c.Recv("jobs", resultTimeout)
				if err != nil {
					return nil, err
				}
				return api.Args{"first": first, "second": second}, nil
			},
		}))
		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "producer",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				target := api.WorkflowID(args.GetString("target", ""))
				if err := c.Send(target, "jobs", "job-1"); err != nil {
					return nil, err
				}
				if err := c.Send(target, "jobs", "job-2"); err != nil {
					return nil, err
				}
				return api.Args{}, nil
			},
		}))

		consumerID, err := eng.StartWorkflow(ctx,
			&engine.StartOptions{Name: "consumer"})
		assert.NoError(t, err)

		producerID, err := eng.StartWorkflow(ctx, &engine.StartOptions{
			Name:  "producer",
			Input: api.Args{"target": string(consumerID)},
		})
		assert.NoError(t, err)

		_, err = eng.GetResult(ctx, producerID, resultTimeout)
		assert.NoError(t, err)

		// Messages arrive in send order
		out, err := eng.GetResult(ctx, consumerID, resultTimeout)
		assert.NoError(t, err)
		assert.Equal(t, "job-1", out.GetString("first", ""))
		assert.Equal(t, "job-2", out.GetString("second", ""))
	})
}

func TestRecvTimeout(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "deadline-recv",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				_, err := c.Recv("silent", 50*time.Millisecond)
				if errors.Is(err, api.ErrAwaitTimeout) {
					return api.Args{"timed_out": true}, nil
				}
				return nil, err
			},
		}))

		id, err := eng.StartWorkflow(ctx,
			&engine.StartOptions{Name: "deadline-recv"})
		assert.NoError(t, err)

		out, err := eng.GetResult(ctx, id, resultTimeout)
		assert.NoError(t, err)
		assert.True(t, out.GetBool("timed_out", false))

		st, err := eng.GetWorkflowState(ctx, id)
		assert.NoError(t, err)
		assert.False(t, st.Steps[0].Outputs.GetBool("ok", true))
	})
}

func TestStartChildAwaitResult(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "child",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				return c.Step("double",
					func(_ context.Context, args api.Args,
					) (api.Args, error) {
						n := args.GetInt("n", 0)
						return api.Args{"n": n * 2}, nil
					}, args)
			},
		}))
		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "parent",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				childID, err := c.StartChild("child", args)
				if err != nil {
					return nil, err
				}
				return c.AwaitResult(childID, resultTimeout)
			},
		}))

		id, err := eng.StartWorkflow(ctx, &engine.StartOptions{
			Name:  "parent",
			Input: api.Args{"n": 21},
		})
		assert.NoError(t, err)

		out, err := eng.GetResult(ctx, id, resultTimeout)
		assert.NoError(t, err)
		assert.Equal(t, 42, out.GetInt("n", 0))

		st, err := eng.GetWorkflowState(ctx, id)
		assert.NoError(t, err)
		childID := api.WorkflowID(
			st.Steps[0].Outputs.GetString("child_id", ""),
		)
		assert.NotEmpty(t, childID)

		childState, err := eng.GetWorkflowState(ctx, childID)
		assert.NoError(t, err)
		assert.Equal(t, id, childState.ParentID)
	})
}

func TestAwaitFailedWorkflow(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		ctx := context.Background()

		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "failing-child",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				return c.Step("explode",
					helpers.NewFatalStep("no capacity"), args)
			},
		}))
		assert.NoError(t, eng.RegisterWorkflow(&engine.Registration{
			Name: "watcher",
			Fn: func(c *engine.Context, args api.Args) (api.Args, error) {
				childID, err := c.StartChild("failing-child", args)
				if err != nil {
					return nil, err
				}
				_, err = c.AwaitResult(childID, resultTimeout)
				if err != nil {
					return api.Args{"child_error": err.Error()}, nil
				}
				return nil, assertFailure("child should have failed")
			},
		}))

		id, err := eng.StartWorkflow(ctx,
			&engine.StartOptions{Name: "watcher"})
		assert.NoError(t, err)

		out, err := eng.GetResult(ctx, id, resultTimeout)
		assert.NoError(t, err)
		assert.Contains(t,
			out.GetString("child_error", ""), "no capacity")
	})
}
