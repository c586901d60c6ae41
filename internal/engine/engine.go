package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/config"
	"github.com/perdura/perdura/internal/engine/scheduler"
	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

type (
	// Engine is the durable workflow execution engine
	Engine struct {
		workflowExec  *WorkflowExecutor
		systemExec    *SystemExecutor
		workflowStore *timebox.Store
		hub           timebox.EventHub
		consumer      EventConsumer
		config        *config.Config
		registry      *Registry
		scripts       *ScriptRegistry
		sched         *scheduler.Scheduler
		clock         scheduler.Clock
		waiters       *waiterRegistry
		running       sync.Map // map[api.WorkflowID]context.CancelFunc
		ctx           context.Context
		cancel        context.CancelFunc
		wg            sync.WaitGroup
		stopOnce      sync.Once
	}

	// Dependencies allows tests to substitute the engine's clock and timers
	Dependencies struct {
		Clock            scheduler.Clock
		TimerConstructor scheduler.TimerConstructor
	}

	// EventConsumer consumes events from the event hub
	EventConsumer = topic.Consumer[*timebox.Event]

	// WorkflowExecutor manages workflow state persistence and event sourcing
	WorkflowExecutor = timebox.Executor[*api.WorkflowState]

	// WorkflowAggregator aggregates workflow state from events
	WorkflowAggregator = timebox.Aggregator[*api.WorkflowState]

	// SystemExecutor manages system state persistence and event sourcing
	SystemExecutor = timebox.Executor[*api.SystemState]

	// SystemAggregator aggregates system state from events
	SystemAggregator = timebox.Aggregator[*api.SystemState]
)

var (
	ErrShutdownTimeout       = errors.New("shutdown timeout exceeded")
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrWorkflowNotRegistered = errors.New("workflow not registered")
	ErrWorkflowExists        = errors.New("workflow exists")
	ErrQueueNotFound         = errors.New("queue not found")
	ErrQueueExists           = errors.New("queue exists")
	ErrDuplicateDedupKey     = errors.New("dedup key already enqueued")
	ErrNotTerminal           = errors.New("workflow is not terminal")
	ErrStepOutOfRange        = errors.New("fork step out of range")
	ErrResultTimeout         = errors.New("timed out awaiting result")
)

// New creates a new engine instance with the specified stores, event hub,
// and configuration
func New(
	workflow, system *timebox.Store, hub timebox.EventHub, cfg *config.Config,
) *Engine {
	return NewWithDeps(workflow, system, hub, cfg, Dependencies{})
}

// NewWithDeps creates an engine with substituted clock and timer
// dependencies. Tests use it to drive scheduling deterministically
func NewWithDeps(
	workflow, system *timebox.Store, hub timebox.EventHub,
	cfg *config.Config, deps Dependencies,
) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.TimerConstructor == nil {
		deps.TimerConstructor = scheduler.NewTimer
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		workflowExec: timebox.NewExecutor(
			workflow, events.NewWorkflowState, events.WorkflowAppliers,
		),
		systemExec: timebox.NewExecutor(
			system, events.NewSystemState, events.SystemAppliers,
		),
		workflowStore: workflow,
		hub:           hub,
		consumer:      hub.NewConsumer(),
		config:        cfg,
		registry:      NewRegistry(),
		scripts:       NewScriptRegistry(),
		sched:         scheduler.New(deps.Clock, deps.TimerConstructor),
		clock:         deps.Clock,
		waiters:       newWaiterRegistry(),
		ctx:           ctx,
		cancel:        cancel,
	}
	return e
}

// ExecutorID returns the stable identity this engine claims workflows
// under
func (e *Engine) ExecutorID() api.ExecutorID {
	return e.config.ExecutorID
}

// Now returns the current wall time from the engine's configured clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Subscribe returns a fresh consumer of the durable event stream. Callers
// own the consumer and must Close it
func (e *Engine) Subscribe() EventConsumer {
	return e.hub.NewConsumer()
}

// ScheduleTask schedules a function to run at the given time. Tasks with
// the same path replace each other
func (e *Engine) ScheduleTask(
	path []string, at time.Time, fn scheduler.TaskFunc,
) {
	e.sched.Schedule(e.ctx, path, at, fn)
}

// CancelTask removes a scheduled task for the exact path
func (e *Engine) CancelTask(path []string) {
	e.sched.Cancel(e.ctx, path)
}

// CancelPrefixedTasks removes all scheduled tasks under the given prefix
func (e *Engine) CancelPrefixedTasks(prefix []string) {
	e.sched.CancelPrefix(e.ctx, prefix)
}
