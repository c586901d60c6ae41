package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// EnqueueOptions submits a workflow invocation to an admission-controlled
// queue instead of starting it directly
type EnqueueOptions struct {
	Input api.Args
	ID    api.WorkflowID
	Name  api.Name
	Queue api.QueueName

	// DedupKey rejects duplicate submissions while a workflow carrying the
	// same key is still non-terminal
	DedupKey string

	// PartitionKey groups entries under per-partition concurrency limits
	PartitionKey string

	// Priority orders admission; lower values dequeue first, ties are FIFO
	Priority int

	ParentID            api.WorkflowID
	MaxRecoveryAttempts int
}

var queueTaskPath = []string{"queues"}

// Enqueue submits a workflow to a declared queue. The workflow stays in
// the enqueued state until the dispatcher admits it under the queue's
// concurrency and rate limits
func (e *Engine) Enqueue(
	ctx context.Context, opts *EnqueueOptions,
) (api.WorkflowID, error) {
	reg, ok := e.registry.workflow(opts.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, opts.Name)
	}
	if _, ok := e.registry.queue(opts.Queue); !ok {
		return "", fmt.Errorf("%w: %s", ErrQueueNotFound, opts.Queue)
	}
	id := opts.ID
	if id == "" {
		id = api.NewWorkflowID()
	}
	if _, err := e.GetWorkflowState(ctx, id); err == nil {
		return id, fmt.Errorf("%w: %s", ErrWorkflowExists, id)
	}

	duplicate := false
	_, err := e.execSystem(ctx,
		func(st *api.SystemState, ag *SystemAggregator) error {
			duplicate = false
			if opts.DedupKey != "" {
				if _, ok := st.Queue(opts.Queue).Dedup[opts.DedupKey]; ok {
					duplicate = true
					return nil
				}
			}
			return events.Raise(ag, api.EventTypeQueueEntryAdded,
				&api.QueueEntryAddedEvent{
					Queue:        opts.Queue,
					WorkflowID:   id,
					DedupKey:     opts.DedupKey,
					PartitionKey: opts.PartitionKey,
					Priority:     opts.Priority,
				},
			)
		},
	)
	if err != nil {
		return "", err
	}
	if duplicate {
		return "", fmt.Errorf(
			"%w: %s on %s", ErrDuplicateDedupKey, opts.DedupKey, opts.Queue,
		)
	}

	_, err = e.raiseWorkflowEvent(ctx, id, api.EventTypeWorkflowEnqueued,
		&api.WorkflowEnqueuedEvent{
			Input:               opts.Input,
			WorkflowID:          id,
			Name:                opts.Name,
			Queue:               opts.Queue,
			DedupKey:            opts.DedupKey,
			PartitionKey:        opts.PartitionKey,
			Priority:            opts.Priority,
			ParentID:            opts.ParentID,
			MaxRecoveryAttempts: e.maxRecovery(reg, &StartOptions{
				MaxRecoveryAttempts: opts.MaxRecoveryAttempts,
			}),
		},
	)
	if err != nil {
		return "", err
	}
	slog.Info("Workflow enqueued",
		log.WorkflowID(id),
		log.Workflow(opts.Name),
		log.Queue(opts.Queue))
	return id, nil
}

// QueueInfos returns every declared queue with its current pending and
// running counts
func (e *Engine) QueueInfos(ctx context.Context) ([]*api.QueueInfo, error) {
	sys, err := e.GetSystemState(ctx)
	if err != nil {
		return nil, err
	}
	cfgs := e.registry.queueConfigs()
	res := make([]*api.QueueInfo, 0, len(cfgs))
	for _, cfg := range cfgs {
		qs := sys.Queue(cfg.Name)
		res = append(res, &api.QueueInfo{
			Config:  cfg,
			Pending: len(qs.Entries),
			Running: len(qs.Running),
		})
	}
	return res, nil
}

// scheduleQueuePoll arms the periodic admission sweep
func (e *Engine) scheduleQueuePoll() {
	e.ScheduleTask(queueTaskPath,
		e.Now().Add(e.config.QueuePollInterval),
		func() error {
			e.dispatchQueues()
			e.scheduleQueuePoll()
			return nil
		},
	)
}

func (e *Engine) dispatchQueues() {
	for _, cfg := range e.registry.queueConfigs() {
		e.dispatchQueue(cfg)
	}
}

func (e *Engine) dispatchQueue(cfg *api.QueueConfig) {
	for {
		id, admitted, err := e.admitNext(e.ctx, cfg)
		if err != nil {
			slog.Error("Queue admission failed",
				log.Queue(cfg.Name), log.Error(err))
			return
		}
		if !admitted {
			return
		}
		if err := e.startAdmitted(e.ctx, id); err != nil {
			slog.Error("Failed to start admitted workflow",
				log.WorkflowID(id),
				log.Queue(cfg.Name),
				log.Error(err))
		}
	}
}

// admitNext atomically selects and dequeues the highest-priority entry
// that fits the queue's concurrency, partition, and rate limits
func (e *Engine) admitNext(
	ctx context.Context, cfg *api.QueueConfig,
) (api.WorkflowID, bool, error) {
	var id api.WorkflowID
	admitted := false
	_, err := e.execSystem(ctx,
		func(st *api.SystemState, ag *SystemAggregator) error {
			id, admitted = "", false
			qs := st.Queue(cfg.Name)
			if cfg.Concurrency > 0 && len(qs.Running) >= cfg.Concurrency {
				return nil
			}
			now := e.Now()
			var cutoff time.Time
			if cfg.Limiter != nil {
				cutoff = now.Add(-cfg.Limiter.Period)
				if admissionsSince(qs.Admissions, cutoff) >= cfg.Limiter.Limit {
					return nil
				}
			}
			entry := nextAdmissible(qs, cfg)
			if entry == nil {
				return nil
			}
			id = entry.WorkflowID
			admitted = true

			err := events.Raise(ag, api.EventTypeQueueEntryDequeued,
				&api.QueueEntryDequeuedEvent{
					Queue: cfg.Name, WorkflowID: id,
				},
			)
			if err != nil {
				return err
			}
			if cfg.Limiter != nil {
				err := events.Raise(ag, api.EventTypeQueueAdmission,
					&api.QueueAdmissionEvent{
						Queue: cfg.Name, At: now, Cutoff: cutoff,
					},
				)
				if err != nil {
					return err
				}
			}
			return events.Raise(ag, api.EventTypeWorkflowActivated,
				&api.WorkflowActivatedEvent{
					WorkflowID: id,
					ExecutorID: e.config.ExecutorID,
					Queue:      cfg.Name,
				},
			)
		},
	)
	return id, admitted, err
}

func (e *Engine) startAdmitted(
	ctx context.Context, id api.WorkflowID,
) error {
	state, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return err
	}
	var deadline time.Time
	if reg, ok := e.registry.workflow(state.Name); ok && reg.Timeout > 0 {
		deadline = e.Now().Add(reg.Timeout)
	}
	_, err = e.raiseWorkflowEvent(ctx, id, api.EventTypeWorkflowDequeued,
		&api.WorkflowDequeuedEvent{
			WorkflowID: id,
			ExecutorID: e.config.ExecutorID,
			Deadline:   deadline,
		},
	)
	if err != nil {
		return err
	}
	return e.launch(id)
}

func admissionsSince(admissions []time.Time, cutoff time.Time) int {
	count := 0
	for _, t := range admissions {
		if !t.Before(cutoff) {
			count++
		}
	}
	return count
}

func nextAdmissible(
	qs *api.QueueState, cfg *api.QueueConfig,
) *api.QueueEntry {
	for _, entry := range qs.Entries {
		if cfg.PartitionConcurrency > 0 && entry.PartitionKey != "" &&
			qs.PartitionCount(entry.PartitionKey) >=
				cfg.PartitionConcurrency {
			continue
		}
		return entry
	}
	return nil
}
