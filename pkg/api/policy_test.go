package api_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
)

func TestRetryPolicyWithDefaults(t *testing.T) {
	p := api.RetryPolicy{}.WithDefaults()
	assert.Equal(t, api.DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, api.DefaultInterval, p.Interval)
	assert.Equal(t, api.DefaultBackoffRate, p.BackoffRate)
	assert.Equal(t, api.DefaultMaxInterval, p.MaxInterval)

	single := api.RetryPolicy{MaxAttempts: 1}.WithDefaults()
	assert.Equal(t, 1, single.MaxAttempts)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := api.RetryPolicy{
		MaxAttempts: 5,
		Interval:    time.Second,
		BackoffRate: 2.0,
		MaxInterval: 5 * time.Second,
	}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(0))
}

func TestRetryPolicyFixedBackoff(t *testing.T) {
	p := api.RetryPolicy{Interval: 250 * time.Millisecond, BackoffRate: 1}
	assert.Equal(t, 250*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 250*time.Millisecond, p.Backoff(7))
}

func TestQueueConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  api.QueueConfig
		err  error
	}{
		{"valid", api.QueueConfig{Name: "q", Concurrency: 3}, nil},
		{"empty name", api.QueueConfig{}, api.ErrQueueNameEmpty},
		{
			"negative concurrency",
			api.QueueConfig{Name: "q", Concurrency: -1},
			api.ErrNegativeConcurrency,
		},
		{
			"bad limiter",
			api.QueueConfig{Name: "q", Limiter: &api.RateLimit{Limit: 5}},
			api.ErrInvalidRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestFatalWrapping(t *testing.T) {
	cause := errors.New("bad card")
	err := api.Fatal(cause)
	assert.True(t, errors.Is(err, api.ErrFatal))
	assert.True(t, errors.Is(err, cause))
}

func TestStepRetriesExceededError(t *testing.T) {
	err := &api.StepRetriesExceededError{
		WorkflowID: "wf-1",
		Step:       "charge",
		Index:      2,
		Attempts:   3,
		LastError:  "timeout",
	}
	assert.Contains(t, err.Error(), "charge[2]")
	assert.Contains(t, err.Error(), "3 attempts")
}
