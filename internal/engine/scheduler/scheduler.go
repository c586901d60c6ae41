package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/perdura/perdura/pkg/log"
)

type (
	// Scheduler runs delayed tasks keyed by path, with replacement and
	// prefix cancellation. Sleep timers, retry backoff, workflow
	// deadlines, and the periodic sweeps all run through it
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		commands  chan command
	}

	// TaskFunc is called when its run time arrives
	TaskFunc func() error

	command func(*TaskHeap)
)

const commandBuffer = 100

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		commands:  make(chan command, commandBuffer),
	}
}

// Schedule enqueues a task to run at the requested time. A task scheduled
// for an existing path replaces the previous one
func (s *Scheduler) Schedule(
	ctx context.Context, path []string, at time.Time, fn TaskFunc,
) {
	task := &Task{Func: fn, At: at, Path: path}
	s.submit(ctx, func(h *TaskHeap) {
		h.Insert(task)
	})
}

// Cancel removes the task registered for the exact path
func (s *Scheduler) Cancel(ctx context.Context, path []string) {
	s.submit(ctx, func(h *TaskHeap) {
		h.Cancel(path)
	})
}

// CancelPrefix removes all tasks under the provided path prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix []string) {
	s.submit(ctx, func(h *TaskHeap) {
		h.CancelPrefix(prefix)
	})
}

// Run owns the task heap and processes commands and timer firings until
// the context is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	tasks := NewTaskHeap()
	timer := s.makeTimer(0)
	timer.Stop()
	var fired <-chan time.Time

	arm := func() {
		next := tasks.Peek()
		if next == nil {
			timer.Stop()
			fired = nil
			return
		}
		timer.Reset(next.At.Sub(s.now()))
		fired = timer.Channel()
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case cmd := <-s.commands:
			cmd(tasks)
			arm()

		case <-fired:
			if task := tasks.PopTask(); task != nil {
				if err := task.Func(); err != nil {
					slog.Error("Scheduled task failed", log.Error(err))
				}
			}
			arm()
		}
	}
}

func (s *Scheduler) submit(ctx context.Context, cmd command) {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
	}
}
