package engine

import (
	"context"
	"log/slog"

	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
	"github.com/perdura/perdura/pkg/util"
)

var recoveryTaskPath = []string{"recovery"}

// RecoverWorkflows resumes active workflows owned by this executor that
// are not currently running. It is called at startup and then on the
// configured recovery interval, so a crashed process picks its workflows
// back up and replays them to their last recorded step
func (e *Engine) RecoverWorkflows(ctx context.Context) (int, error) {
	sys, err := e.GetSystemState(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for id, active := range sys.Active {
		if active.ExecutorID != e.config.ExecutorID {
			continue
		}
		if _, running := e.running.Load(id); running {
			continue
		}
		if err := e.recoverWorkflow(ctx, id, active); err != nil {
			slog.Error("Failed to recover workflow",
				log.WorkflowID(id), log.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// RecoverExecutors takes over the active workflows of the named executors.
// Operators call it when an executor is known dead and will not restart
func (e *Engine) RecoverExecutors(
	ctx context.Context, executors []api.ExecutorID,
) (int, error) {
	targets := util.SetOf(executors...)
	sys, err := e.GetSystemState(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for id, active := range sys.Active {
		if !targets.Contains(active.ExecutorID) {
			continue
		}
		if _, running := e.running.Load(id); running {
			continue
		}
		if err := e.recoverWorkflow(ctx, id, active); err != nil {
			slog.Error("Failed to take over workflow",
				log.WorkflowID(id),
				log.Executor(active.ExecutorID),
				log.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (e *Engine) recoverWorkflow(
	ctx context.Context, id api.WorkflowID, active *api.ActiveWorkflow,
) error {
	state, err := e.GetWorkflowState(ctx, id)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		// the crash landed between the terminal record and deactivation
		e.deactivateWorkflow(ctx, state)
		return nil
	}
	if state.Status == api.WorkflowEnqueued {
		// admitted but never dequeued; the entry left the pending set
		// without the workflow starting, so hand it back for re-dispatch
		return e.requeueAdmitted(ctx, id, active)
	}

	attempts := state.RecoveryAttempts + 1
	limit := state.MaxRecoveryAttempts
	if limit <= 0 {
		limit = e.config.MaxRecoveryAttempts
	}
	if attempts > limit {
		rerr := &api.RecoveryExceededError{
			WorkflowID: id,
			Attempts:   state.RecoveryAttempts,
		}
		slog.Warn("Workflow exceeded recovery attempts",
			log.WorkflowID(id),
			slog.Int("attempts", state.RecoveryAttempts))
		e.finishWorkflow(id, api.EventTypeWorkflowFailed,
			&api.WorkflowFailedEvent{WorkflowID: id, Error: rerr.Error()})
		return nil
	}

	if active.ExecutorID != e.config.ExecutorID {
		if err := e.activateWorkflow(ctx, id, active.Queue); err != nil {
			return err
		}
	}
	_, err = e.raiseWorkflowEvent(ctx, id, api.EventTypeWorkflowRecovered,
		&api.WorkflowRecoveredEvent{
			WorkflowID: id,
			ExecutorID: e.config.ExecutorID,
			Attempts:   attempts,
		},
	)
	if err != nil {
		return err
	}
	slog.Info("Workflow recovered",
		log.WorkflowID(id),
		log.Workflow(state.Name),
		slog.Int("attempt", attempts))
	return e.launch(id)
}

func (e *Engine) requeueAdmitted(
	ctx context.Context, id api.WorkflowID, active *api.ActiveWorkflow,
) error {
	if active.Queue == "" {
		return nil
	}
	_, err := e.raiseSystemEvent(ctx, api.EventTypeQueueEntryRequeued,
		&api.QueueEntryRequeuedEvent{
			Queue:      active.Queue,
			WorkflowID: id,
		},
	)
	if err != nil {
		return err
	}
	slog.Info("Workflow returned to queue after interrupted admission",
		log.WorkflowID(id),
		log.Queue(active.Queue))
	return nil
}

func (e *Engine) scheduleRecovery() {
	e.ScheduleTask(recoveryTaskPath,
		e.Now().Add(e.config.RecoveryInterval),
		func() error {
			if _, err := e.RecoverWorkflows(e.ctx); err != nil {
				slog.Error("Recovery sweep failed", log.Error(err))
			}
			e.scheduleRecovery()
			return nil
		},
	)
}
