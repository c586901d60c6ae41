package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"

	"github.com/perdura/perdura/internal/archive"
	"github.com/perdura/perdura/internal/config"
	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// ArchiveWorker moves terminal workflow digests out of Redis and into the
// archive bucket. It sweeps on an interval, archiving by age under normal
// conditions and everything terminal under memory pressure
type ArchiveWorker struct {
	engine      *Engine
	store       *archive.BlobStore
	redisClient *redis.Client
	config      *config.Config
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewArchiveWorker creates a worker that monitors the workflow store's
// Redis for memory pressure and archives terminal workflows accordingly
func NewArchiveWorker(
	e *Engine, store *archive.BlobStore, cfg *config.Config,
) *ArchiveWorker {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.WorkflowStore.Addr,
		Password: cfg.WorkflowStore.Password,
		DB:       cfg.WorkflowStore.DB,
	})

	return &ArchiveWorker{
		engine:      e,
		store:       store,
		redisClient: client,
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the archive monitoring loop
func (w *ArchiveWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop shuts down the archive worker and its Redis connection
func (w *ArchiveWorker) Stop() {
	w.cancel()
	w.wg.Wait()
	_ = w.redisClient.Close()
}

func (w *ArchiveWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.checkAndArchive()
		}
	}
}

func (w *ArchiveWorker) checkAndArchive() {
	pressureRatio := w.checkMemoryPressure()
	maxAge := w.adjustMaxAge(pressureRatio)
	now := time.Now()

	for _, id := range w.selectWorkflows(now, maxAge) {
		if err := w.archiveWorkflow(id); err != nil {
			slog.Warn("Failed to archive workflow",
				log.WorkflowID(id), log.Error(err))
		}
	}
}

// checkMemoryPressure reports used memory as a ratio of the Redis max once
// usage crosses the configured threshold, zero otherwise
func (w *ArchiveWorker) checkMemoryPressure() float64 {
	info, err := w.redisClient.Info(w.ctx, "memory").Result()
	if err != nil {
		slog.Warn("Failed to get Redis memory info", log.Error(err))
		return 0
	}

	usedMemory, maxMemory := parseMemoryInfo(info)
	if maxMemory == 0 {
		return 0
	}

	usedPercent := (float64(usedMemory) / float64(maxMemory)) * 100
	if usedPercent < float64(w.config.ArchiveMemoryPct) {
		return 0
	}
	return usedPercent / 100
}

// adjustMaxAge shrinks the archive age threshold as memory pressure rises
func (w *ArchiveWorker) adjustMaxAge(pressureRatio float64) time.Duration {
	if pressureRatio <= 0 {
		return w.config.ArchiveMaxAge
	}
	scaled := time.Duration(float64(w.config.ArchiveMaxAge) *
		math.Pow(1-pressureRatio, 2))
	if scaled < time.Minute {
		scaled = time.Minute
	}
	return scaled
}

func (w *ArchiveWorker) selectWorkflows(
	now time.Time, maxAge time.Duration,
) []api.WorkflowID {
	sys, err := w.engine.GetSystemState(w.ctx)
	if err != nil {
		slog.Warn("Failed to read system state for archiving",
			log.Error(err))
		return nil
	}
	var ids []api.WorkflowID
	for id, digest := range sys.Digests {
		if now.Sub(digest.CompletedAt) > maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}

// archiveWorkflow writes the final state and full event history to the
// bucket, drops the digest from the system aggregate, and purges the
// workflow's event stream from Redis
func (w *ArchiveWorker) archiveWorkflow(id api.WorkflowID) error {
	state, err := w.engine.GetWorkflowState(w.ctx, id)
	if err != nil {
		return err
	}
	events, err := w.engine.WorkflowHistory(w.ctx, id)
	if err != nil {
		return err
	}
	rec := &archive.Record{
		State:      state,
		Events:     events,
		ArchivedAt: time.Now(),
	}
	if err := w.store.WriteRecord(w.ctx, id, rec); err != nil {
		return err
	}
	_, err = w.engine.raiseSystemEvent(w.ctx,
		api.EventTypeWorkflowArchived,
		&api.WorkflowArchivedEvent{WorkflowID: id},
	)
	if err != nil {
		return err
	}
	if err := w.engine.hibernateWorkflow(w.ctx, id); err != nil {
		return err
	}
	slog.Info("Workflow archived", log.WorkflowID(id))
	return nil
}

// hibernateWorkflow offloads the workflow's events and snapshots through
// the store's hibernator and deletes its Redis keys. Reads fall back to
// the hibernated copy. A store without a hibernator keeps its history in
// Redis
func (e *Engine) hibernateWorkflow(
	ctx context.Context, id api.WorkflowID,
) error {
	err := e.workflowStore.Hibernate(ctx, events.WorkflowKey(id))
	if errors.Is(err, timebox.ErrNoHibernator) {
		return nil
	}
	return err
}

func parseMemoryInfo(info string) (used, max int64) {
	lines := strings.SplitSeq(info, "\n")
	for line := range lines {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "used_memory:"); ok {
			used, _ = strconv.ParseInt(after, 10, 64)
		} else if after, ok := strings.CutPrefix(line, "maxmemory:"); ok {
			max, _ = strconv.ParseInt(after, 10, 64)
		}
	}
	return
}
