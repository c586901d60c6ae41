package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	_ "gocloud.dev/blob/memblob"

	"github.com/perdura/perdura/internal/archive"
	"github.com/perdura/perdura/internal/config"
	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine        *engine.Engine
	Redis         *miniredis.Miniredis
	Config        *config.Config
	EventHub      timebox.EventHub
	ArchiveStore  *archive.BlobStore
	Cleanup       func()
	workflowStore *timebox.Store
	systemStore   *timebox.Store
}

const defaultStoreTimeout = 5 * time.Second

// NewTestConfig creates a configuration tuned for fast tests: short poll
// intervals and near-immediate retry backoff
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.QueuePollInterval = 25 * time.Millisecond
	cfg.RecoveryInterval = 250 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Retry = api.RetryPolicy{
		MaxAttempts: 3,
		Interval:    5 * time.Millisecond,
		BackoffRate: 1,
		MaxInterval: 25 * time.Millisecond,
	}
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	assert.NoError(t, err)

	archiveStore, err := archive.NewBlobStore(
		context.Background(), "mem://", "test/",
	)
	assert.NoError(t, err)

	cfg := NewTestConfig()
	cfg.WorkflowStore.Addr = server.Addr()
	cfg.WorkflowStore.Prefix = "test-workflow"
	cfg.WorkflowStore.Hibernator = archiveStore
	cfg.SystemStore.Addr = server.Addr()
	cfg.SystemStore.Prefix = "test-system"

	workflowStore, err := tb.NewStore(cfg.WorkflowStore)
	assert.NoError(t, err)

	systemStore, err := tb.NewStore(cfg.SystemStore)
	assert.NoError(t, err)

	hub := tb.GetHub()
	eng := engine.New(workflowStore, systemStore, hub, cfg)

	cleanup := func() {
		_ = eng.Stop()
		_ = tb.Close()
		_ = archiveStore.Close()
		server.Close()
	}

	return &TestEngineEnv{
		Engine:        eng,
		Redis:         server,
		Config:        cfg,
		EventHub:      hub,
		ArchiveStore:  archiveStore,
		Cleanup:       cleanup,
		workflowStore: workflowStore,
		systemStore:   systemStore,
	}
}

// NewEngineInstance creates a new engine instance sharing the same stores
// and executor identity. Used to simulate process restart after crash
func (e *TestEngineEnv) NewEngineInstance() *engine.Engine {
	return engine.New(
		e.workflowStore, e.systemStore, e.EventHub, e.Config,
	)
}

// NewEngineWithDeps creates an engine instance sharing the same stores but
// with a substituted clock and timer constructor, so tests can drive time
// deterministically
func (e *TestEngineEnv) NewEngineWithDeps(
	deps engine.Dependencies,
) *engine.Engine {
	return engine.NewWithDeps(
		e.workflowStore, e.systemStore, e.EventHub, e.Config, deps,
	)
}

// AppendWorkflowEvents appends workflow events directly to the workflow
// store, bypassing the engine. Used to fabricate histories for replay and
// recovery tests
func (e *TestEngineEnv) AppendWorkflowEvents(
	id api.WorkflowID, evs ...*timebox.Event,
) error {
	return appendEvents(e.workflowStore, events.WorkflowKey(id), evs)
}

// AppendSystemEvents appends events directly to the system store,
// bypassing the engine. Used to fabricate crash states for recovery tests
func (e *TestEngineEnv) AppendSystemEvents(evs ...*timebox.Event) error {
	return appendEvents(e.systemStore, events.SystemKey, evs)
}

func appendEvents(
	store *timebox.Store, aggregateID timebox.AggregateID,
	evs []*timebox.Event,
) error {
	ctx, cancel := context.WithTimeout(
		context.Background(), defaultStoreTimeout,
	)
	defer cancel()

	stored, err := store.GetEvents(ctx, aggregateID, 0)
	if err != nil {
		return err
	}
	seq := int64(len(stored))

	for i, ev := range evs {
		ev.AggregateID = aggregateID
		ev.Sequence = seq + int64(i)
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
	}

	err = store.AppendEvents(ctx, aggregateID, seq, evs)
	if err == nil {
		return nil
	}

	conflict := new(timebox.VersionConflictError)
	if !errors.As(err, &conflict) {
		return err
	}

	seq = conflict.ActualSequence
	for i, ev := range evs {
		ev.Sequence = seq + int64(i)
	}

	return store.AppendEvents(ctx, aggregateID, seq, evs)
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with
// it, and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the
// provided function with the engine, and ensures cleanup happens
// automatically
func WithStartedEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.Start())
		fn(env.Engine)
	})
}

// WithStartedEnv creates and starts a test engine environment
func WithStartedEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.Start())
		fn(env)
	})
}
