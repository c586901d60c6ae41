package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"

	app "github.com/perdura/perdura"
	"github.com/perdura/perdura/internal/archive"
	"github.com/perdura/perdura/internal/config"
	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/internal/server"
	"github.com/perdura/perdura/pkg/log"
)

type perdura struct {
	cfg           *config.Config
	timebox       *timebox.Timebox
	workflowStore *timebox.Store
	systemStore   *timebox.Store
	engine        *engine.Engine
	archiveStore  *archive.BlobStore
	archiveWorker *engine.ArchiveWorker
	apiServer     *server.Server
	httpServer    *http.Server
	quit          chan os.Signal
}

var (
	ErrCreateTimebox       = errors.New("failed to create timebox")
	ErrCreateWorkflowStore = errors.New("failed to create workflow store")
	ErrCreateSystemStore   = errors.New("failed to create system store")
	ErrOpenArchiveBucket   = errors.New("failed to open archive bucket")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	p := &perdura{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	p.setupLogging()

	if err := p.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (p *perdura) run() error {
	if err := p.initializeStores(); err != nil {
		return err
	}

	if err := p.initializeEngine(); err != nil {
		return err
	}

	if err := p.startArchiver(); err != nil {
		return err
	}
	p.startServer()

	signal.Notify(p.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(p.quit)
	<-p.quit

	p.shutdown()
	return nil
}

func (p *perdura) setupLogging() {
	level, ok := logLevels[p.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Perdura Engine starting",
		slog.String("log_level", p.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("workflow_redis_addr", p.cfg.WorkflowStore.Addr),
		slog.Int("workflow_redis_db", p.cfg.WorkflowStore.DB),
		slog.String("system_redis_addr", p.cfg.SystemStore.Addr),
		slog.Int("system_redis_db", p.cfg.SystemStore.DB),
		slog.String("executor_id", string(p.cfg.ExecutorID)),
		slog.String("api_host", p.cfg.APIHost),
		slog.Int("api_port", p.cfg.APIPort))
}

func (p *perdura) initializeStores() error {
	var err error

	p.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  p.cfg.WorkflowCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	if p.cfg.ArchiveBucketURL != "" {
		p.archiveStore, err = archive.NewBlobStore(
			context.Background(), p.cfg.ArchiveBucketURL, app.Name,
		)
		if err != nil {
			_ = p.timebox.Close()
			return fmt.Errorf("%w: %w", ErrOpenArchiveBucket, err)
		}
		// archived workflows hibernate out of Redis into the bucket
		p.cfg.WorkflowStore.Hibernator = p.archiveStore
	}

	p.workflowStore, err = p.timebox.NewStore(p.cfg.WorkflowStore)
	if err != nil {
		_ = p.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateWorkflowStore, err)
	}

	p.systemStore, err = p.timebox.NewStore(p.cfg.SystemStore)
	if err != nil {
		_ = p.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateSystemStore, err)
	}

	return nil
}

func (p *perdura) initializeEngine() error {
	p.engine = engine.New(
		p.workflowStore, p.systemStore, p.timebox.GetHub(), p.cfg,
	)
	return p.engine.Start()
}

func (p *perdura) startArchiver() error {
	if p.archiveStore == nil {
		slog.Info("Archiving disabled, no bucket configured")
		return nil
	}

	p.archiveWorker = engine.NewArchiveWorker(
		p.engine, p.archiveStore, p.cfg,
	)
	p.archiveWorker.Start()

	slog.Info("Archive worker started",
		slog.String("bucket", p.cfg.ArchiveBucketURL),
		slog.Duration("interval", p.cfg.ArchiveInterval),
		slog.Duration("max_age", p.cfg.ArchiveMaxAge))
	return nil
}

func (p *perdura) startServer() {
	p.apiServer = server.NewServer(p.engine, p.timebox.GetHub())
	mux := p.apiServer.SetupRoutes()

	p.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", p.cfg.APIHost, p.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", p.httpServer.Addr))
		err := p.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (p *perdura) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), p.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := p.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	p.apiServer.CloseWebSockets()

	if p.archiveWorker != nil {
		p.archiveWorker.Stop()
	}
	if p.archiveStore != nil {
		_ = p.archiveStore.Close()
	}

	if err := p.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	_ = p.timebox.Close()

	slog.Info("Server exited")
}
