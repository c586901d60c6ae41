package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/log"
)

// Start begins event dispatch, the task scheduler, the recovery sweep,
// and the queue admission loop. Workflows and queues must be registered
// before Start so recovery can relaunch them
func (e *Engine) Start() error {
	slog.Info("Engine starting", log.Executor(e.config.ExecutorID))

	e.wg.Add(1)
	go e.eventLoop()
	go e.sched.Run(e.ctx)

	if _, err := e.RecoverWorkflows(e.ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	e.scheduleRecovery()
	e.scheduleQueuePoll()
	return nil
}

// Stop shuts down the engine, waiting up to the configured timeout for
// running workflows to reach a step boundary and park. Calling Stop more
// than once is a no-op
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		err = e.stop()
	})
	return err
}

func (e *Engine) stop() error {
	e.cancel()
	e.consumer.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		slog.Warn("Shutdown timeout; abandoning running workflows")
		e.saveSystemSnapshot()
		return ErrShutdownTimeout
	}

	e.saveSystemSnapshot()
	slog.Info("Engine stopped")
	return nil
}

func (e *Engine) saveSystemSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.systemExec.SaveSnapshot(ctx, events.SystemKey); err != nil {
		slog.Error("Failed to save system snapshot", log.Error(err))
		return
	}
	slog.Info("System snapshot saved")
}
