package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

type (
	// StepFunc is the body of a durable step. Network and database calls
	// belong here, not in plain workflow code: step bodies may be retried
	// and must be idempotent
	StepFunc func(context.Context, Args) (Args, error)

	// RetryPolicy configures step retry behavior with named fields and
	// documented defaults
	RetryPolicy struct {
		// MaxAttempts bounds total executions of the step body, including
		// the first. Zero selects DefaultMaxAttempts; 1 disables retry
		MaxAttempts int `json:"max_attempts,omitempty"`

		// Interval is the delay before the first retry. Zero selects
		// DefaultInterval
		Interval time.Duration `json:"interval,omitempty"`

		// BackoffRate multiplies the interval after each failed attempt.
		// Zero selects DefaultBackoffRate; 1 yields a fixed interval
		BackoffRate float64 `json:"backoff_rate,omitempty"`

		// MaxInterval caps the computed backoff delay. Zero selects
		// DefaultMaxInterval
		MaxInterval time.Duration `json:"max_interval,omitempty"`

		// Timeout bounds each step attempt. Zero means no attempt timeout
		Timeout time.Duration `json:"timeout,omitempty"`
	}

	// QueueConfig declares an admission-controlled workflow queue
	QueueConfig struct {
		Name QueueName `json:"name"`

		// Concurrency caps concurrently-executing workflows dequeued from
		// this queue. Zero means unlimited
		Concurrency int `json:"concurrency,omitempty"`

		// PartitionConcurrency caps concurrently-executing workflows per
		// partition key. Zero means unlimited
		PartitionConcurrency int `json:"partition_concurrency,omitempty"`

		// Limiter optionally rate-limits admissions from this queue
		Limiter *RateLimit `json:"limiter,omitempty"`
	}

	// RateLimit admits at most Limit workflows per rolling Period
	RateLimit struct {
		Limit  int           `json:"limit"`
		Period time.Duration `json:"period"`
	}
)

const (
	DefaultMaxAttempts = 3
	DefaultInterval    = time.Second
	DefaultBackoffRate = 2.0
	DefaultMaxInterval = time.Minute
)

var (
	ErrQueueNameEmpty      = errors.New("queue name empty")
	ErrNegativeConcurrency = errors.New("concurrency cannot be negative")
	ErrInvalidRateLimit    = errors.New("rate limit requires positive limit and period")
	ErrNegativeAttempts    = errors.New("max attempts cannot be negative")
	ErrNegativeInterval    = errors.New("retry interval cannot be negative")
)

// WithDefaults returns a copy of the policy with zero-valued fields filled
// in from the documented defaults
func (p RetryPolicy) WithDefaults() RetryPolicy {
	res := p
	if res.MaxAttempts == 0 {
		res.MaxAttempts = DefaultMaxAttempts
	}
	if res.Interval == 0 {
		res.Interval = DefaultInterval
	}
	if res.BackoffRate == 0 {
		res.BackoffRate = DefaultBackoffRate
	}
	if res.MaxInterval == 0 {
		res.MaxInterval = DefaultMaxInterval
	}
	return res
}

// Validate checks that all policy values are usable
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAttempts, p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeInterval, p.Interval)
	}
	return nil
}

// Backoff returns the delay before the next attempt, given the number of
// failed attempts so far (1 after the first failure)
func (p RetryPolicy) Backoff(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}
	d := time.Duration(
		float64(p.Interval) * math.Pow(p.BackoffRate, float64(failed-1)),
	)
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Validate checks that the queue declaration is usable
func (q *QueueConfig) Validate() error {
	if q.Name == "" {
		return ErrQueueNameEmpty
	}
	if q.Concurrency < 0 || q.PartitionConcurrency < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeConcurrency, q.Name)
	}
	if q.Limiter != nil && (q.Limiter.Limit <= 0 || q.Limiter.Period <= 0) {
		return fmt.Errorf("%w: %s", ErrInvalidRateLimit, q.Name)
	}
	return nil
}
