package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/perdura/perdura/pkg/api"
)

type (
	// WorkflowFunc is the body of a registered workflow. It must be
	// deterministic outside of calls made through its Context; all side
	// effects belong in durable steps
	WorkflowFunc func(*Context, api.Args) (api.Args, error)

	// Registration binds a workflow name to its function and execution
	// defaults
	Registration struct {
		Fn   WorkflowFunc
		Name api.Name

		// MaxRecoveryAttempts overrides the engine default when positive
		MaxRecoveryAttempts int

		// Timeout bounds total workflow execution. Zero means unbounded
		Timeout time.Duration

		// Retry is the default step retry policy for this workflow
		Retry api.RetryPolicy
	}

	// Registry holds registered workflow functions and queue declarations.
	// Functions cannot be persisted, so registration is repeated by each
	// process at startup
	Registry struct {
		mu        sync.RWMutex
		workflows map[api.Name]*Registration
		queues    map[api.QueueName]*api.QueueConfig
	}
)

var (
	ErrRegistrationNil   = errors.New("registration requires a function")
	ErrWorkflowNameEmpty = errors.New("workflow name empty")
)

// NewRegistry creates an empty workflow and queue registry
func NewRegistry() *Registry {
	return &Registry{
		workflows: map[api.Name]*Registration{},
		queues:    map[api.QueueName]*api.QueueConfig{},
	}
}

// RegisterWorkflow registers a workflow function under its name. Names must
// be unique; re-registering an existing name is an error
func (e *Engine) RegisterWorkflow(reg *Registration) error {
	if reg == nil || reg.Fn == nil {
		return ErrRegistrationNil
	}
	if reg.Name == "" {
		return ErrWorkflowNameEmpty
	}
	if err := reg.Retry.Validate(); err != nil {
		return err
	}
	return e.registry.addWorkflow(reg)
}

// RegisterQueue declares an admission-controlled queue. Queues must be
// declared before workflows are enqueued to them
func (e *Engine) RegisterQueue(cfg *api.QueueConfig) error {
	if cfg == nil {
		return api.ErrQueueNameEmpty
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.registry.addQueue(cfg)
}

// Workflows returns the names of all registered workflows
func (e *Engine) Workflows() []api.Name {
	return e.registry.workflowNames()
}

// Queues returns all declared queue configurations
func (e *Engine) Queues() []*api.QueueConfig {
	return e.registry.queueConfigs()
}

func (r *Registry) addWorkflow(reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[reg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, reg.Name)
	}
	r.workflows[reg.Name] = reg
	return nil
}

func (r *Registry) addQueue(cfg *api.QueueConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrQueueExists, cfg.Name)
	}
	r.queues[cfg.Name] = cfg
	return nil
}

func (r *Registry) workflow(name api.Name) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.workflows[name]
	return reg, ok
}

func (r *Registry) queue(name api.QueueName) (*api.QueueConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.queues[name]
	return cfg, ok
}

func (r *Registry) workflowNames() []api.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]api.Name, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}

func (r *Registry) queueConfigs() []*api.QueueConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfgs := make([]*api.QueueConfig, 0, len(r.queues))
	for _, cfg := range r.queues {
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}
