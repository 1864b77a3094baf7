package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	db          *database.DB
	blobs       blob.Storage
	invalidator Invalidator
	interval    time.Duration
	workerCount int
	lastTick    time.Time
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(db *database.DB, blobs blob.Storage, invalidator Invalidator) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	workers := cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	interval := time.Duration(cfg.SchedulerInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	return &Scheduler{
		db:          db,
		blobs:       blobs,
		invalidator: invalidator,
		interval:    interval,
		workerCount: workers,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueStartupTasks purges uploads left over from a previous run and
// starts tracking scheduled publications from now.
func (s *Scheduler) enqueueStartupTasks() {
	s.lastTick = s.now()

	purge := NewPurgeUploadsTask(s.lastTick.Add(-UploadTTL), s.db, s.blobs)
	if err := s.EnqueueTask(purge); err != nil {
		slog.Warn("Failed to enqueue PurgeUploadsTask", "error", err)
	}
}

func (s *Scheduler) enqueueTasks() {
	now := s.now()

	publish := NewPublishScheduledTask(s.lastTick, now, s.db, s.invalidator)
	if err := s.EnqueueTask(publish); err != nil {
		slog.Warn("Failed to enqueue PublishScheduledTask", "error", err)
		return
	}
	s.lastTick = now

	purge := NewPurgeUploadsTask(now.Add(-UploadTTL), s.db, s.blobs)
	if err := s.EnqueueTask(purge); err != nil {
		slog.Warn("Failed to enqueue PurgeUploadsTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	base := task.Base()
	started := time.Now()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		slog.Debug("Task completed", "worker_id", workerID, "type", string(base.Type), "subject", base.Subject, "duration", time.Since(started))
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(base.Type), "id", base.ID, "retries", base.Retries, "error", err)

	retryDelay, ok := base.Retry()
	if !ok {
		slog.Error("Task failed after maximum retries", "type", string(base.Type), "id", base.ID, "max_retries", base.MaxRetries, "last_error", err)
		return
	}

	slog.Warn("Task retry scheduled", "type", string(base.Type), "subject", base.Subject, "retries", base.Retries, "max_retries", base.MaxRetries, "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(base.Type), "id", base.ID)
			return
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(base.Type), "id", base.ID, "retries", base.Retries, "error", retryErr)
		}
	}()
}
