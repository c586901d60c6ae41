package helpers

import (
	"context"
	"sync/atomic"

	"github.com/perdura/perdura/pkg/api"
)

// EchoStep returns its inputs unchanged
func EchoStep(_ context.Context, args api.Args) (api.Args, error) {
	return args, nil
}

// NewCountingStep returns a step that counts its executions. The counter
// distinguishes real execution from replay substitution
func NewCountingStep() (*atomic.Int32, api.StepFunc) {
	count := &atomic.Int32{}
	return count, func(_ context.Context, args api.Args) (api.Args, error) {
		n := count.Add(1)
		return args.Set("count", int(n)), nil
	}
}

// NewFlakyStep returns a step that fails its first n attempts and then
// succeeds
func NewFlakyStep(n int) (*atomic.Int32, api.StepFunc) {
	count := &atomic.Int32{}
	return count, func(_ context.Context, args api.Args) (api.Args, error) {
		if int(count.Add(1)) <= n {
			return nil, assertError("transient failure")
		}
		return args, nil
	}
}

// NewFailingStep returns a step that always fails with the given message
func NewFailingStep(msg string) api.StepFunc {
	return func(context.Context, api.Args) (api.Args, error) {
		return nil, assertError(msg)
	}
}

// NewFatalStep returns a step that fails without retry
func NewFatalStep(msg string) api.StepFunc {
	return func(context.Context, api.Args) (api.Args, error) {
		return nil, api.Fatal(assertError(msg))
	}
}

// NewBlockingStep returns a step that signals entry and then blocks until
// its context is cancelled. Used to park a workflow mid-step
func NewBlockingStep() (chan struct{}, api.StepFunc) {
	entered := make(chan struct{}, 1)
	return entered, func(ctx context.Context, _ api.Args) (api.Args, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type assertError string

func (e assertError) Error() string {
	return string(e)
}
